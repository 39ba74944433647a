package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "migrations", cfg.DB.MigrationsDir)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Hour, cfg.Scheduler.StatusInterval)
	assert.Equal(t, 5, cfg.Dispatcher.MaxAttempts)

	flags := cfg.FeatureFlags()
	assert.Equal(t, 5, flags.GracePeriodDays())
	assert.Equal(t, int64(30), flags.LateFeeCapPercent("mtl"))
	assert.Equal(t, int64(5), flags.LateFeePercent())
	assert.Equal(t, []int{1, 30, 60, 90}, flags.LateFeeDPDSchedule())
	assert.Equal(t, 39, flags.WaiverValidityMaxDays())
	assert.Equal(t, time.UTC, flags.Location())
	assert.Equal(t, 100, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestNewConfigFromEnvironment(t *testing.T) {
	t.Setenv("LEDGER_GRACE_PERIOD_DAYS", "7")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 7, cfg.FeatureFlags().GracePeriodDays())
}

func TestNewConfigRejectsBadPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "http")

	_, err := NewConfig()
	assert.Error(t, err)
}

func TestNewConfigRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("LEDGER_TIMEZONE", "Mars/Olympus")

	_, err := NewConfig()
	assert.Error(t, err)
}

func TestFeatureFlagsLocation(t *testing.T) {
	flags := NewFeatureFlags(nil)
	flags.Set("ledger.timezone", "Mars/Olympus")
	assert.Equal(t, time.UTC, flags.Location())

	flags.Set("ledger.timezone", "Local")
	assert.Equal(t, time.Local, flags.Location())
}

func TestNewConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger:
  late_fee_cap_percent: 25
  late_fee_cap_percent_by_product:
    partner: 10
  late_fee_dpd_schedule: [60, 1, 30]
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := NewConfig()
	require.NoError(t, err)

	flags := cfg.FeatureFlags()
	assert.Equal(t, int64(25), flags.LateFeeCapPercent("mtl"))
	assert.Equal(t, int64(10), flags.LateFeeCapPercent("partner"))
	assert.Equal(t, []int{1, 30, 60}, flags.LateFeeDPDSchedule())
}

func TestFeatureFlagsSetAtRuntime(t *testing.T) {
	flags := NewFeatureFlags(nil)
	assert.Equal(t, int64(30), flags.LateFeeCapPercent(""))

	flags.Set("ledger.late_fee_cap_percent_by_product.mtl", 15)
	flags.Set("ledger.grace_period_days", 3)
	assert.Equal(t, int64(15), flags.LateFeeCapPercent("mtl"))
	assert.Equal(t, int64(30), flags.LateFeeCapPercent("partner"))
	assert.Equal(t, 3, flags.GracePeriodDays())
}
