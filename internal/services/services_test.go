package services

import (
	"fmt"
	"time"

	"github.com/Lllllllleong/tenantocrflow/internal/config"
	"github.com/Lllllllleong/tenantocrflow/internal/metrics"
	"github.com/Lllllllleong/tenantocrflow/internal/pipelinetest"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		ProjectID:              "proj",
		TableNameTemplate:      "state-<tenantId>",
		BucketNameTemplate:     "docs-<tenantId>",
		InputQueueTemplate:     "input-<tenantId>",
		OutputQueueTemplate:    "output-<tenantId>",
		TokenURL:               "http://identity.invalid/token",
		CallTimeout:            time.Second,
		CallMaxAttempts:        1,
		StrictStatusTransition: true,
		ConsumerConcurrency:    4,
	}
}

type fixture struct {
	cfg      *config.Config
	blobs    *pipelinetest.BlobStore
	state    *pipelinetest.StateStore
	queue    *pipelinetest.Publisher
	metrics  *metrics.Pipeline
	ingest   *IngestionFunction
	consumer *ResultConsumer
	query    *QueryFunction
}

func newFixture(cfg *config.Config) *fixture {
	f := &fixture{
		cfg:     cfg,
		blobs:   pipelinetest.NewBlobStore(),
		state:   pipelinetest.NewStateStore(),
		queue:   pipelinetest.NewPublisher(),
		metrics: metrics.Discard(),
	}
	ids := 0
	opts := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithMetrics(f.metrics),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("gen-%d", ids)
		}),
	}
	var err error
	if f.ingest, err = NewIngestion(cfg, f.blobs, f.state, f.queue, opts...); err != nil {
		panic(err)
	}
	if f.consumer, err = NewResultConsumer(cfg, f.state, opts...); err != nil {
		panic(err)
	}
	if f.query, err = NewQuery(cfg, f.state, opts...); err != nil {
		panic(err)
	}
	return f
}
