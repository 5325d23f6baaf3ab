package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndTemplates(t *testing.T) {
	t.Setenv("PROJECT_ID", "proj")
	t.Setenv("TABLE_NAME_TEMPLATE", "ocr-state-<tenantId>")
	t.Setenv("BUCKET_NAME_TEMPLATE", "ocr-docs-<tenantId>")
	t.Setenv("INPUT_QUEUE_URL_TEMPLATE", "projects/proj/topics/ocr-input-<tenantId>")
	t.Setenv("OUTPUT_QUEUE_URL_TEMPLATE", "ocr-output-<tenantId>")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ocr-state-T1", cfg.TableName("T1"))
	assert.Equal(t, "ocr-docs-T1", cfg.BucketName("T1"))
	assert.Equal(t, "projects/proj/topics/ocr-input-T1", cfg.InputQueue("T1"))
	assert.Equal(t, "ocr-output-T1", cfg.OutputQueue("T1"))

	assert.Equal(t, 10*time.Second, cfg.CallTimeout)
	assert.Equal(t, 3, cfg.CallMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow)
	assert.True(t, cfg.StrictStatusTransition)
	assert.Equal(t, 10, cfg.ConsumerConcurrency)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STRICT_STATUS_TRANSITION", "false")
	t.Setenv("EXTERNAL_CALL_TIMEOUT", "250ms")
	t.Setenv("METRICS_PUSH_URL", "http://pushgateway:9091")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.StrictStatusTransition)
	assert.Equal(t, 250*time.Millisecond, cfg.CallTimeout)
	assert.Equal(t, "http://pushgateway:9091", cfg.MetricsPushURL)
}

func TestRequireListsMissing(t *testing.T) {
	cfg := &Config{ProjectID: "proj"}
	err := cfg.Require(FieldProjectID, FieldTableTemplate, FieldTokenURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TABLE_NAME_TEMPLATE")
	assert.Contains(t, err.Error(), "TOKEN_URL")
	assert.NotContains(t, err.Error(), "PROJECT_ID")

	assert.NoError(t, cfg.Require(FieldProjectID))
}
