// Package config holds the environment configuration of the proxy
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"
)

var (
	// ErrMissingEngineSecret is returned when no secret for service tokens is configured
	ErrMissingEngineSecret = errors.New("PGRST_JWT_SECRET is not set")
	// ErrMissingEngineHost is returned when the backing engine has no usable address
	ErrMissingEngineHost = errors.New("PGRST_HOST is not a usable address")
	// ErrMissingSessionSecret is returned when no secret for session tokens is configured
	ErrMissingSessionSecret = errors.New("SESSION_SECRET is not set")
)

// Config holds the configuration of the proxy
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Config struct {
	Postgres         string `env:"POSTGRES,required" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
	PostgresSchema   string `env:"POSTGRES_SCHEMA,default=tooljet_db" description:"schema of the internal table metadata"`

	EngineHost      string        `env:"PGRST_HOST,required" description:"address of the backing query engine, e.g. localhost:3001 or http://postgrest:3000/"`
	EngineJWTSecret string        `env:"PGRST_JWT_SECRET,required" description:"secret the service tokens are signed with"`
	EngineRole      string        `env:"PG_USER,default=postgres" description:"database role claimed by service tokens"`
	EngineTokenTTL  time.Duration `env:"PGRST_TOKEN_TTL,default=1m" description:"lifetime of service tokens"`

	SessionSecret string `env:"SESSION_SECRET,required" description:"secret session tokens are signed with"`
	SessionIssuer string `env:"SESSION_ISSUER,optional" description:"accepted issuer of session tokens, any if empty"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,optional" description:"comma separated browser origins allowed to call with cookies, any origin without cookies if empty"`

	ListenAddress    string        `env:"LISTEN_ADDRESS,default=:3000" description:"address the proxy listens on"`
	LogLevel         string        `env:"LOG_LEVEL,default=info" description:"logrus log level"`
	BasePath         string        `env:"BASE_PATH,default=/api/tooljet_db" description:"path prefix of the proxy routes"`
	ResolverCacheTTL time.Duration `env:"RESOLVER_CACHE_TTL,default=0s" description:"lifetime of cached table names, 0 disables the cache"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS,optional" description:"comma separated Kafka brokers for the audit trail, no audit trail if empty"`
	KafkaAuditTopic string   `env:"KAFKA_AUDIT_TOPIC,default=dbproxy-audit" description:"Kafka topic of the audit trail"`
}

// FromEnvironment decodes and validates the configuration
func FromEnvironment() (*Config, error) {
	c := &Config{}
	if err := envdecode.Decode(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the values envdecode cannot check
func (c *Config) Validate() error {
	if len(c.EngineJWTSecret) == 0 {
		return ErrMissingEngineSecret
	}
	if len(c.SessionSecret) == 0 {
		return ErrMissingSessionSecret
	}
	if _, err := c.EngineURL(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.EngineTokenTTL <= 0 {
		return fmt.Errorf("PGRST_TOKEN_TTL must be positive, got %s", c.EngineTokenTTL)
	}
	if c.ResolverCacheTTL < 0 {
		return fmt.Errorf("RESOLVER_CACHE_TTL must not be negative, got %s", c.ResolverCacheTTL)
	}
	return nil
}

// EngineURL returns the address of the backing engine. A host without
// scheme is taken as http.
func (c *Config) EngineURL() (*url.URL, error) {
	host := strings.TrimSpace(c.EngineHost)
	if len(host) == 0 {
		return nil, ErrMissingEngineHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingEngineHost, err)
	}
	if len(u.Host) == 0 {
		return nil, ErrMissingEngineHost
	}
	return u, nil
}

// Level returns the configured logrus level
func (c *Config) Level() (logrus.Level, error) {
	if len(c.LogLevel) == 0 {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(c.LogLevel)
}

// AuditEnabled returns true if an audit trail is configured
func (c *Config) AuditEnabled() bool {
	for _, broker := range c.KafkaBrokers {
		if len(strings.TrimSpace(broker)) > 0 {
			return true
		}
	}
	return false
}
