package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	conf, err := Parse([]byte("session:\n  user_id: ngo1\n  role: claimant\n"))
	require.NoError(t, err)

	assert.Equal(t, TransportWebSocket, conf.Socket.Transport)
	assert.Equal(t, 5, conf.Socket.ReconnectAttempts)
	assert.Equal(t, 2*time.Second, conf.Socket.ReconnectDelay)
	assert.Equal(t, 5.0, conf.Map.DefaultRadiusKm)
	assert.Equal(t, "ngo1", conf.Session.UserID)
	assert.Equal(t, "claimant", conf.Session.Role)
	assert.Equal(t, "127.0.0.1:8090", conf.DebugAddr())
	assert.Equal(t, 7*24*time.Hour, conf.Journal.Retention)
}

func TestParseOverrides(t *testing.T) {
	conf, err := Parse([]byte(`
socket:
  transport: redis
  reconnect_attempts: 3
  reconnect_delay: 250ms
redis:
  host: cache
  port: 6380
map:
  default_radius_km: 12.5
`))
	require.NoError(t, err)

	assert.Equal(t, TransportRedis, conf.Socket.Transport)
	assert.Equal(t, 3, conf.Socket.ReconnectAttempts)
	assert.Equal(t, 250*time.Millisecond, conf.Socket.ReconnectDelay)
	assert.Equal(t, "cache:6380", conf.RedisAddr())
	assert.Equal(t, 12.5, conf.Map.DefaultRadiusKm)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"transport": "socket:\n  transport: carrier_pigeon\n",
		"radius":    "map:\n  default_radius_km: -1\n",
		"role":      "session:\n  role: admin\n",
		"journal":   "journal:\n  driver: mysql\n",
		"attempts":  "socket:\n  reconnect_attempts: -2\n",
		"retention": "journal:\n  retention: -1h\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logs:\n  level: debug\n"), 0o644))

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", conf.Logs.Level)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseJournalReplicas(t *testing.T) {
	conf, err := Parse([]byte(`
journal:
  driver: postgres
  dsn: host=primary dbname=resq
  replicas:
    - host=replica1 dbname=resq
    - host=replica2 dbname=resq
  retention: 36h
`))
	require.NoError(t, err)
	assert.Equal(t, "postgres", conf.Journal.Driver)
	assert.Len(t, conf.Journal.Replicas, 2)
	assert.Equal(t, 36*time.Hour, conf.Journal.Retention)
}
