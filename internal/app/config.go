package app

import (
	"cmp"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/lessonweave-backend/internal/data/db"
	"github.com/yungbote/lessonweave-backend/internal/generation"
	"github.com/yungbote/lessonweave-backend/internal/observability"
	"github.com/yungbote/lessonweave-backend/internal/platform/envutil"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

type Config struct {
	Env             string
	Addr            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	MetricsEnabled  bool

	DB db.Config

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SSEChannel    string

	// Provider selects the generation backend: "openai" or "eino".
	Provider   string
	OpenAI     generation.OpenAIConfig
	Generation generation.Config
	UseLease   bool

	Otel observability.OtelConfig
}

// fileConfig is the optional YAML overlay named by CONFIG_FILE. Its values
// replace the built-in defaults; environment variables still win.
type fileConfig struct {
	Env             string   `yaml:"env"`
	Addr            string   `yaml:"addr"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	Database struct {
		Driver  string `yaml:"driver"`
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		User    string `yaml:"user"`
		Name    string `yaml:"name"`
		SSLMode string `yaml:"sslmode"`
		SQLite  string `yaml:"sqlite_path"`
		MaxOpen int    `yaml:"max_open_conns"`
		MaxIdle int    `yaml:"max_idle_conns"`
	} `yaml:"database"`

	Redis struct {
		Addr       string `yaml:"addr"`
		DB         int    `yaml:"db"`
		SSEChannel string `yaml:"sse_channel"`
	} `yaml:"redis"`

	Generation struct {
		Provider       string `yaml:"provider"`
		Model          string `yaml:"model"`
		BaseURL        string `yaml:"base_url"`
		ConflictPolicy string `yaml:"conflict_policy"`
		AckTimeout     string `yaml:"ack_timeout"`
		LeaseTTL       string `yaml:"lease_ttl"`
		UseLease       bool   `yaml:"use_lease"`
	} `yaml:"generation"`

	Otel struct {
		Enabled     bool    `yaml:"enabled"`
		Endpoint    string  `yaml:"endpoint"`
		SampleRatio float64 `yaml:"sample_ratio"`
	} `yaml:"otel"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fc, fmt.Errorf("parse config file: %w", err)
	}
	return fc, nil
}

func parseDur(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil && d > 0 {
		return d
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadConfig reads .env (if present), the CONFIG_FILE overlay (if set) and
// the environment, in increasing precedence.
func LoadConfig(log *logger.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("could not load .env", "error", err)
	}

	var fc fileConfig
	if path := envutil.String("CONFIG_FILE", ""); path != "" {
		loaded, err := loadFileConfig(path)
		if err != nil {
			return Config{}, err
		}
		fc = loaded
		log.Info("config file loaded", "path", path)
	}

	policy, err := generation.ParsePolicy(envutil.String("GENERATION_CONFLICT_POLICY", fc.Generation.ConflictPolicy))
	if err != nil {
		return Config{}, err
	}

	env := envutil.String("APP_ENV", cmp.Or(fc.Env, "development"))
	origins := fc.AllowedOrigins
	if raw := envutil.String("CORS_ALLOWED_ORIGINS", ""); raw != "" {
		origins = splitList(raw)
	}

	cfg := Config{
		Env:             env,
		Addr:            envutil.String("ADDR", cmp.Or(fc.Addr, ":8080")),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", parseDur(fc.ShutdownTimeout, 15*time.Second)),
		AllowedOrigins:  origins,
		MetricsEnabled:  envutil.Bool("METRICS_ENABLED", true),

		DB: db.Config{
			Driver:           envutil.String("DB_DRIVER", cmp.Or(fc.Database.Driver, "postgres")),
			PostgresHost:     envutil.String("POSTGRES_HOST", cmp.Or(fc.Database.Host, "localhost")),
			PostgresPort:     envutil.String("POSTGRES_PORT", cmp.Or(fc.Database.Port, "5432")),
			PostgresUser:     envutil.String("POSTGRES_USER", cmp.Or(fc.Database.User, "postgres")),
			PostgresPassword: envutil.String("POSTGRES_PASSWORD", ""),
			PostgresName:     envutil.String("POSTGRES_NAME", cmp.Or(fc.Database.Name, "lessonweave")),
			PostgresSSLMode:  envutil.String("POSTGRES_SSLMODE", cmp.Or(fc.Database.SSLMode, "disable")),
			SQLitePath:       envutil.String("SQLITE_PATH", fc.Database.SQLite),
			MaxOpenConns:     envutil.Int("DB_MAX_OPEN_CONNS", cmp.Or(fc.Database.MaxOpen, 20)),
			MaxIdleConns:     envutil.Int("DB_MAX_IDLE_CONNS", cmp.Or(fc.Database.MaxIdle, 5)),
		},

		RedisAddr:     envutil.String("REDIS_ADDR", fc.Redis.Addr),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", fc.Redis.DB),
		SSEChannel:    envutil.String("REDIS_SSE_CHANNEL", cmp.Or(fc.Redis.SSEChannel, "lessonweave:sse")),

		Provider: strings.ToLower(envutil.String("GENERATION_PROVIDER", cmp.Or(fc.Generation.Provider, "openai"))),
		OpenAI: generation.OpenAIConfig{
			APIKey:  envutil.String("OPENAI_API_KEY", ""),
			BaseURL: envutil.String("OPENAI_BASE_URL", fc.Generation.BaseURL),
			Model:   envutil.String("OPENAI_MODEL", fc.Generation.Model),
		},
		Generation: generation.Config{
			Policy:     policy,
			AckTimeout: envutil.Duration("GENERATION_ACK_TIMEOUT", parseDur(fc.Generation.AckTimeout, 5*time.Second)),
			LeaseTTL:   envutil.Duration("GENERATION_LEASE_TTL", parseDur(fc.Generation.LeaseTTL, 30*time.Second)),
		},
		UseLease: envutil.Bool("GENERATION_USE_LEASE", fc.Generation.UseLease),

		Otel: observability.OtelConfig{
			Enabled:     envutil.Bool("OTEL_ENABLED", fc.Otel.Enabled),
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "lessonweave-backend"),
			Environment: env,
			Version:     envutil.String("APP_VERSION", "dev"),
			Endpoint:    envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", fc.Otel.Endpoint),
			Headers:     envutil.String("OTEL_EXPORTER_OTLP_HEADERS", ""),
			Insecure:    envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
	}
	cfg.Otel.SampleRatio = fc.Otel.SampleRatio
	if cfg.Otel.SampleRatio == 0 {
		cfg.Otel.SampleRatio = 1
	}

	switch cfg.Provider {
	case "openai", "eino":
	default:
		return Config{}, fmt.Errorf("unknown GENERATION_PROVIDER %q", cfg.Provider)
	}
	return cfg, nil
}
