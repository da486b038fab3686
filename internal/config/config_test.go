package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateExceptSecrets(t *testing.T) {
	cfg := Defaults()
	// Engine mode requires the treasury credential, which has no default.
	cfg.Treasury.ApiKey = "test-key"

	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Treasury.ApiKey = "test-key"
	cfg.Mode = "serve"
	cfg.Automation.ForceType = "race"
	cfg.Automation.PayoutBatchSize = 0
	cfg.Feed.RPS = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "force_type")
	assert.Contains(t, err.Error(), "payout_batch_size")
	assert.Contains(t, err.Error(), "rps")
}

func TestValidate_ArchiveModeSkipsTreasury(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"

	require.NoError(t, cfg.Validate())
}

func TestValidate_LogsModeNeedsNoCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "logs"
	cfg.Treasury.ApiKey = ""
	cfg.S3.Endpoint = ""

	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MARKETD_MODE", "resolve")
	t.Setenv("MARKETD_TREASURY_API_KEY", "from-env")
	t.Setenv("MARKETD_AUTOMATION_RESOLVE_INTERVAL", "15s")
	t.Setenv("MARKETD_NOTIFY_EVENTS", "payout_failed, treasury_low")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "resolve", cfg.Mode)
	assert.Equal(t, "from-env", cfg.Treasury.ApiKey)
	assert.Equal(t, "15s", cfg.Automation.ResolveInterval.Duration.String())
	assert.Equal(t, []string{"payout_failed", "treasury_low"}, cfg.Notify.Events)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Treasury.ApiKey = "secret"
	cfg.Database.Password = "secret"
	cfg.S3.SecretKey = "secret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Treasury.ApiKey)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	// The original is untouched.
	assert.Equal(t, "secret", cfg.Treasury.ApiKey)
}
