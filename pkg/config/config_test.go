package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8083, cfg.Server.Port)
	assert.Equal(t, StoreCockroach, cfg.Store.Backend)
	assert.Equal(t, 64*1024, cfg.Signaling.MaxPayloadBytes)
	assert.Equal(t, 20, cfg.Signaling.HistoryLimit)
	assert.Equal(t, time.Minute, cfg.Signaling.RateWindow)
	assert.Equal(t, "callsignal-api", cfg.JWT.Audience)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SIGNALING_MAX_PAYLOAD_BYTES", "1024")
	t.Setenv("CASSANDRA_HOSTS", "c1,c2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 1024, cfg.Signaling.MaxPayloadBytes)
	assert.Equal(t, []string{"c1", "c2"}, cfg.Cassandra.Hosts)
}

func TestValidate(t *testing.T) {
	t.Run("production requires strong secret", func(t *testing.T) {
		t.Setenv("ENV", "production")
		t.Setenv("JWT_SECRET", "short")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("production rejects memory store", func(t *testing.T) {
		t.Setenv("ENV", "production")
		t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
		t.Setenv("STORE_BACKEND", "memory")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "sqlite")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestCockroachURL(t *testing.T) {
	d := DatabaseConfig{User: "root", Password: "pw", Host: "db", Port: 26257, Database: "callsignal", SSLMode: "disable"}
	assert.Equal(t, "postgresql://root:pw@db:26257/callsignal?sslmode=disable", d.CockroachURL())
}
