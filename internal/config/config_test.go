package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"content-query/internal/schema"
	"content-query/internal/security"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "basic DSN",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "password",
				Database: "content",
			},
			expected: "root:password@tcp(localhost:3306)/content?parseTime=true&loc=UTC",
		},
		{
			name: "skip-verify TLS",
			config: DatabaseConfig{
				Host:     "db.example.com",
				Port:     3306,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "content",
				TLS:      DatabaseTLSConfig{Mode: "skip-verify"},
			},
			expected: "admin:p@ss:w0rd!@tcp(db.example.com:3306)/content?parseTime=true&loc=UTC&tls=skip-verify",
		},
		{
			name: "empty password",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "",
				Database: "content",
			},
			expected: "root:@tcp(localhost:3306)/content?parseTime=true&loc=UTC",
		},
		{
			name: "verify-full uses registered config",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "content",
				TLS:      DatabaseTLSConfig{Mode: "verify-full", CAFile: "/etc/ssl/ca.pem"},
			},
			expected: "root:@tcp(localhost:3306)/content?parseTime=true&loc=UTC&tls=content-query-custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_RegisterTLS(t *testing.T) {
	t.Run("no-op for off mode", func(t *testing.T) {
		d := DatabaseConfig{TLS: DatabaseTLSConfig{Mode: "off"}}
		assert.NoError(t, d.RegisterTLS())
	})

	t.Run("verify-full requires CA file", func(t *testing.T) {
		d := DatabaseConfig{TLS: DatabaseTLSConfig{Mode: "verify-full"}}
		err := d.RegisterTLS()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ca_file")
	})
}

func TestConfig_Validate(t *testing.T) {
	validConfig := func() *Config {
		return &Config{
			Database: DatabaseConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Database: "content",
				TLS:      DatabaseTLSConfig{Mode: "off"},
				Pool:     PoolConfig{MaxOpen: 25, MaxIdle: 5},
			},
			Server: ServerConfig{
				Port: 8080,
			},
			Query: QueryConfig{
				DefaultLimit: 10,
				MaxLimit:     100,
			},
			Security: security.DefaultLimits(),
			Sources: []schema.Source{
				{Name: "post", Table: "posts"},
			},
			Observability: ObservabilityConfig{
				Logging: LoggingConfig{Level: "info", Format: "json"},
				OTLP:    OTLPConfig{Protocol: "grpc", Compression: "gzip"},
			},
		}
	}

	t.Run("valid config passes validation", func(t *testing.T) {
		result := validConfig().Validate()
		assert.False(t, result.HasErrors())
		assert.Empty(t, result.Errors)
	})

	t.Run("invalid database port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Port = 0
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.port")
	})

	t.Run("invalid database TLS mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.Mode = "maybe"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls.mode")
	})

	t.Run("verify-ca requires CA file", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.TLS.Mode = "verify-ca"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "database.tls.ca_file")
	})

	t.Run("idle above open warns", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.Pool.MaxIdle = 50
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
		assert.NotEmpty(t, result.Warnings)
	})

	t.Run("auth enabled without secret", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Auth.Enabled = true
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "server.auth.secret")
	})

	t.Run("auth enabled with secret file passes", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Auth.Enabled = true
		cfg.Server.Auth.SecretFile = "/run/secrets/auth"
		result := cfg.Validate()
		assert.False(t, result.HasErrors())
	})

	t.Run("rate limiting enabled without rps", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.RateLimitEnabled = true
		cfg.Server.RateLimitBurst = 10
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "rate_limit_rps")
	})

	t.Run("CORS wildcard with credentials", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.CORSEnabled = true
		cfg.Server.CORSAllowedOrigins = []string{"*"}
		cfg.Server.CORSAllowCredentials = true
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "cors_allowed_origins")
	})

	t.Run("TLS enabled without cert and key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.TLSEnabled = true
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "server.tls_cert_file")
		assert.Contains(t, result.Error(), "server.tls_key_file")
	})

	t.Run("redis enabled without addrs", func(t *testing.T) {
		cfg := validConfig()
		cfg.Redis.Enabled = true
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "redis.addrs")
	})

	t.Run("redis address without port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Redis.Enabled = true
		cfg.Redis.Addrs = []string{"localhost"}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "redis.addrs")
	})

	t.Run("default limit above max limit", func(t *testing.T) {
		cfg := validConfig()
		cfg.Query.DefaultLimit = 500
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "query.default_limit")
	})

	t.Run("negative security limit", func(t *testing.T) {
		cfg := validConfig()
		cfg.Security.MaxConditions = -1
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "security.max_conditions")
	})

	t.Run("duplicate source names", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sources = append(cfg.Sources, schema.Source{Name: "post", Table: "posts"})
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "duplicate source")
	})

	t.Run("source without table", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sources = []schema.Source{{Name: "post"}}
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "sources[0].table")
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.Logging.Level = "verbose"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.logging.level")
	})

	t.Run("invalid OTLP protocol", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "udp"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.protocol")
	})

	t.Run("http protobuf requires endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Observability.OTLP.Protocol = "http/protobuf"
		cfg.Observability.OTLP.Endpoint = "not an endpoint"
		result := cfg.Validate()
		assert.True(t, result.HasErrors())
		assert.Contains(t, result.Error(), "observability.otlp.endpoint")
	})
}

func TestObservabilityConfig_SignalOverrides(t *testing.T) {
	base := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint:    "collector:4317",
			Protocol:    "grpc",
			Timeout:     10 * time.Second,
			Compression: "gzip",
		},
	}

	t.Run("no override returns global", func(t *testing.T) {
		assert.Equal(t, base.OTLP, base.GetTracesConfig())
		assert.Equal(t, base.OTLP, base.GetMetricsConfig())
	})

	t.Run("signal override merges over global", func(t *testing.T) {
		cfg := base
		cfg.Traces = &OTLPConfig{Endpoint: "traces:4318", Protocol: "http/protobuf"}

		traces := cfg.GetTracesConfig()
		assert.Equal(t, "traces:4318", traces.Endpoint)
		assert.Equal(t, "http/protobuf", traces.Protocol)
		assert.Equal(t, 10*time.Second, traces.Timeout)
		assert.Equal(t, "gzip", traces.Compression)

		// Logs still use the global config.
		assert.Equal(t, base.OTLP, cfg.GetLogsConfig())
	})
}
