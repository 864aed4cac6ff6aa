package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES", "host=localhost port=5432 user=postgres dbname=postgres sslmode=disable")
	t.Setenv("PGRST_HOST", "postgrest:3000")
	t.Setenv("PGRST_JWT_SECRET", "engine-secret")
	t.Setenv("SESSION_SECRET", "session-secret")
}

func TestFromEnvironmentDefaults(t *testing.T) {
	setRequired(t)

	c, err := FromEnvironment()
	require.NoError(t, err)
	assert.Equal(t, "tooljet_db", c.PostgresSchema)
	assert.Equal(t, "postgres", c.EngineRole)
	assert.Equal(t, time.Minute, c.EngineTokenTTL)
	assert.Equal(t, ":3000", c.ListenAddress)
	assert.Equal(t, "/api/tooljet_db", c.BasePath)
	assert.Zero(t, c.ResolverCacheTTL)
	assert.False(t, c.AuditEnabled())
	assert.Empty(t, c.AllowedOrigins)

	u, err := c.EngineURL()
	require.NoError(t, err)
	assert.Equal(t, "http://postgrest:3000", u.String())

	level, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, level)
}

func TestFromEnvironment(t *testing.T) {
	setRequired(t)
	t.Setenv("PGRST_HOST", "https://engine.internal/rest/")
	t.Setenv("PG_USER", "authenticated")
	t.Setenv("PGRST_TOKEN_TTL", "30s")
	t.Setenv("RESOLVER_CACHE_TTL", "5s")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com,https://admin.example.com")

	c, err := FromEnvironment()
	require.NoError(t, err)
	assert.Equal(t, "authenticated", c.EngineRole)
	assert.Equal(t, 30*time.Second, c.EngineTokenTTL)
	assert.Equal(t, 5*time.Second, c.ResolverCacheTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.KafkaBrokers)
	assert.True(t, c.AuditEnabled())
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, c.AllowedOrigins)

	u, err := c.EngineURL()
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "engine.internal", u.Host)
	assert.Equal(t, "/rest/", u.Path)
}

func TestFromEnvironmentMissing(t *testing.T) {
	setRequired(t)
	t.Setenv("PGRST_JWT_SECRET", "")

	_, err := FromEnvironment()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		EngineHost:      "postgrest:3000",
		EngineJWTSecret: "s",
		SessionSecret:   "s",
		EngineTokenTTL:  time.Minute,
	}
	require.NoError(t, valid.Validate())

	c := valid
	c.EngineJWTSecret = ""
	assert.ErrorIs(t, c.Validate(), ErrMissingEngineSecret)

	c = valid
	c.SessionSecret = ""
	assert.ErrorIs(t, c.Validate(), ErrMissingSessionSecret)

	c = valid
	c.EngineHost = "  "
	assert.ErrorIs(t, c.Validate(), ErrMissingEngineHost)

	c = valid
	c.EngineHost = "http://"
	assert.ErrorIs(t, c.Validate(), ErrMissingEngineHost)

	c = valid
	c.LogLevel = "loud"
	assert.Error(t, c.Validate())

	c = valid
	c.EngineTokenTTL = 0
	assert.Error(t, c.Validate())
}
