package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("HISTORY_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "notifications.db", cfg.DatabaseURL)
	assert.True(t, cfg.LogPretty)
	assert.Equal(t, 2*time.Second, cfg.SendTimeout)
	assert.Equal(t, 5*time.Second, cfg.SaveTimeout)
	assert.Equal(t, 50, cfg.HistoryDefaultLimit)
	assert.Equal(t, 500, cfg.HistoryMaxLimit)
	assert.Equal(t, "notifications:fanout", cfg.RelayChannel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HISTORY_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/notif")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("SEND_TIMEOUT", "500ms")
	t.Setenv("DISPATCH_PARALLELISM", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 500*time.Millisecond, cfg.SendTimeout)
	assert.Equal(t, 8, cfg.DispatchParallelism)
	assert.Equal(t, "postgres://localhost/notif", cfg.DatabaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad driver", "HISTORY_DRIVER", "mongo"},
		{"bad duration", "SEND_TIMEOUT", "soon"},
		{"bad int", "CLIENT_BUFFER", "many"},
		{"zero parallelism", "DISPATCH_PARALLELISM", "0"},
		{"zero save timeout", "SAVE_TIMEOUT", "0s"},
		{"default above max", "HISTORY_DEFAULT_LIMIT", "1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HISTORY_DRIVER", "sqlite")
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
