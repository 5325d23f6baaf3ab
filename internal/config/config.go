// Package config holds the process-wide configuration shared by every function.
// It is loaded once at start-up and passed by reference into each service constructor.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// TenantPlaceholder is substituted with the tenant id in every naming template.
const TenantPlaceholder = "<tenantId>"

// Config is the explicit configuration for the pipeline.
type Config struct {
	ProjectID string `env:"PROJECT_ID"`

	// Per-tenant resource naming templates.
	TableNameTemplate   string `env:"TABLE_NAME_TEMPLATE"`
	BucketNameTemplate  string `env:"BUCKET_NAME_TEMPLATE"`
	InputQueueTemplate  string `env:"INPUT_QUEUE_URL_TEMPLATE"`
	OutputQueueTemplate string `env:"OUTPUT_QUEUE_URL_TEMPLATE"`

	TokenURL string `env:"TOKEN_URL"`

	DedupCollection string        `env:"DEDUP_COLLECTION" envDefault:"queue-deduplication"`
	DedupWindow     time.Duration `env:"DEDUP_WINDOW" envDefault:"5m"`

	CallTimeout     time.Duration `env:"EXTERNAL_CALL_TIMEOUT" envDefault:"10s"`
	CallMaxAttempts int           `env:"EXTERNAL_CALL_MAX_ATTEMPTS" envDefault:"3"`

	StrictStatusTransition bool `env:"STRICT_STATUS_TRANSITION" envDefault:"true"`
	ConsumerConcurrency    int  `env:"CONSUMER_CONCURRENCY" envDefault:"10"`

	// Function processes push their counters here. Empty disables export.
	MetricsPushURL string `env:"METRICS_PUSH_URL"`

	// Pull worker only.
	OutputSubscription string        `env:"OUTPUT_SUBSCRIPTION"`
	BatchSize          int           `env:"BATCH_SIZE" envDefault:"10"`
	BatchWindow        time.Duration `env:"BATCH_WINDOW" envDefault:"2s"`
	WorkerHTTPAddr     string        `env:"WORKER_HTTP_ADDR" envDefault:":8081"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}

// TableName returns the state collection name for a tenant.
func (c *Config) TableName(tenantID string) string {
	return expand(c.TableNameTemplate, tenantID)
}

// BucketName returns the blob bucket name for a tenant.
func (c *Config) BucketName(tenantID string) string {
	return expand(c.BucketNameTemplate, tenantID)
}

// InputQueue returns the input topic (ID or full resource name) for a tenant.
func (c *Config) InputQueue(tenantID string) string {
	return expand(c.InputQueueTemplate, tenantID)
}

// OutputQueue returns the output topic (ID or full resource name) for a tenant.
func (c *Config) OutputQueue(tenantID string) string {
	return expand(c.OutputQueueTemplate, tenantID)
}

func expand(template, tenantID string) string {
	return strings.ReplaceAll(template, TenantPlaceholder, tenantID)
}

// Require returns an error naming every listed variable whose value is empty.
// Service constructors call it with the subset of settings they depend on.
func (c *Config) Require(fields ...Field) error {
	var missing []string
	for _, f := range fields {
		if f.value(c) == "" {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Field names a required setting by its environment variable.
type Field string

const (
	FieldProjectID          Field = "PROJECT_ID"
	FieldTableTemplate      Field = "TABLE_NAME_TEMPLATE"
	FieldBucketTemplate     Field = "BUCKET_NAME_TEMPLATE"
	FieldInputQueue         Field = "INPUT_QUEUE_URL_TEMPLATE"
	FieldOutputQueue        Field = "OUTPUT_QUEUE_URL_TEMPLATE"
	FieldTokenURL           Field = "TOKEN_URL"
	FieldOutputSubscription Field = "OUTPUT_SUBSCRIPTION"
)

func (f Field) value(c *Config) string {
	switch f {
	case FieldProjectID:
		return c.ProjectID
	case FieldTableTemplate:
		return c.TableNameTemplate
	case FieldBucketTemplate:
		return c.BucketNameTemplate
	case FieldInputQueue:
		return c.InputQueueTemplate
	case FieldOutputQueue:
		return c.OutputQueueTemplate
	case FieldTokenURL:
		return c.TokenURL
	case FieldOutputSubscription:
		return c.OutputSubscription
	}
	return ""
}
