package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, "fulfillment.db", cfg.DBPath)
	assert.Equal(t, 5*time.Minute, cfg.ConfirmTTL)
	assert.Equal(t, 15*time.Minute, cfg.ResponseWindow)
	assert.Equal(t, "5", cfg.ReferralPercent.String())
	assert.Equal(t, uint(4), cfg.RetryMaxTries)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Len(t, cfg.ConfirmSecret, 64, "ephemeral secret is generated")
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"FULFILLMENT_PORT":             "9090",
		"FULFILLMENT_DRIVER":           "postgres",
		"FULFILLMENT_POSTGRES_DSN":     "postgres://localhost/fulfillment",
		"FULFILLMENT_CONFIRM_SECRET":   "s3cret",
		"FULFILLMENT_REFERRAL_PERCENT": "7.5",
		"FULFILLMENT_SWEEP_INTERVAL":   "0s",
	})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, "s3cret", cfg.ConfirmSecret)
	assert.Equal(t, "7.5", cfg.ReferralPercent.String())
	assert.Zero(t, cfg.SweepInterval)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"unknown driver", map[string]string{"FULFILLMENT_DRIVER": "mysql"}},
		{"postgres without dsn", map[string]string{"FULFILLMENT_DRIVER": "postgres"}},
		{"percent above 100", map[string]string{"FULFILLMENT_REFERRAL_PERCENT": "120"}},
		{"not a duration", map[string]string{"FULFILLMENT_CONFIRM_TTL": "soon"}},
		{"zero window", map[string]string{"FULFILLMENT_RESPONSE_WINDOW": "0s"}},
		{"zero tries", map[string]string{"FULFILLMENT_RETRY_MAX_TRIES": "0"}},
		{"bad rate", map[string]string{"FULFILLMENT_RATE_LIMIT": "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			assert.Error(t, err)
		})
	}
}
