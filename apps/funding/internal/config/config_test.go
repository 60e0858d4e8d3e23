package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, key := range []string{"DB_URL", "API_PORT", "MERGE_TIMES", "MERGE_TIMEZONE", "JOIN_WINDOW",
		"CANCEL_CUTOFF", "PROOF_DEADLINE", "CONFIRMATION_DEADLINE", "EXTENSION_DURATION", "MIN_AMOUNT",
		"MAX_AMOUNT", "CURRENCIES", "REQUIRE_OPT_IN", "POOL_FALLBACK_ENABLED", "CYCLE_HORIZON_DAYS",
		"SWEEP_INTERVAL", "PROOF_RETENTION_DAYS", "PROOF_LOCAL_DIR", "MINIO_USE_SSL"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_URL", "postgres://localhost/funding")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.APIPort)
	assert.Len(t, cfg.MergeTimes, 3)
	assert.Equal(t, "Africa/Lagos", cfg.MergeLocation.String())
	assert.Equal(t, 5*time.Minute, cfg.JoinWindow)
	assert.Equal(t, 10*time.Minute, cfg.CancelCutoff)
	assert.Equal(t, 4*time.Hour, cfg.ProofDeadline)
	assert.Equal(t, 4*time.Hour, cfg.ConfirmationDeadline)
	assert.Equal(t, time.Hour, cfg.ExtensionDuration)
	assert.True(t, decimal.NewFromInt(1000).Equal(cfg.MinAmount))
	assert.True(t, decimal.NewFromInt(10000000).Equal(cfg.MaxAmount))
	assert.Equal(t, []string{"NAIRA", "USDT"}, cfg.Currencies)
	assert.False(t, cfg.RequireOptIn)
	assert.True(t, cfg.PoolFallbackEnabled)
	assert.Equal(t, "uploads/payment_proofs", cfg.ProofLocalDir)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_URL", "postgres://localhost/funding")
	t.Setenv("MERGE_TIMES", "12:00")
	t.Setenv("MERGE_TIMEZONE", "UTC")
	t.Setenv("CURRENCIES", "naira")
	t.Setenv("REQUIRE_OPT_IN", "true")
	t.Setenv("PROOF_DEADLINE", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "12:00", cfg.MergeTimes[0].String())
	assert.Equal(t, []string{"NAIRA"}, cfg.Currencies)
	assert.True(t, cfg.RequireOptIn)
	assert.Equal(t, 2*time.Hour, cfg.ProofDeadline)

	cur, ok := cfg.SupportsCurrency("Naira")
	assert.True(t, ok)
	assert.Equal(t, "NAIRA", cur)
	_, ok = cfg.SupportsCurrency("USD")
	assert.False(t, ok)
}

func TestLoad_CollectsErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_URL", "")
	t.Setenv("API_PORT", "eighty")
	t.Setenv("MERGE_TIMES", "25:00")
	t.Setenv("MIN_AMOUNT", "5000")
	t.Setenv("MAX_AMOUNT", "100")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_URL")
	assert.Contains(t, err.Error(), "API_PORT")
	assert.Contains(t, err.Error(), "MERGE_TIMES")
	assert.Contains(t, err.Error(), "MIN_AMOUNT")
}
