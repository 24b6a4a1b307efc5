package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	StoreBackend        string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	MongoURI            string        `mapstructure:"MONGO_URI"`
	MongoDatabase       string        `mapstructure:"MONGO_DATABASE"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	AuthSecret          string        `mapstructure:"AUTH_SECRET"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	PatientPageSize     int           `mapstructure:"PATIENT_PAGE_SIZE"`
	UserPageSize        int           `mapstructure:"USER_PAGE_SIZE"`
	AppointmentPageSize int           `mapstructure:"APPOINTMENT_PAGE_SIZE"`
	SearchDebounceMS    int           `mapstructure:"SEARCH_DEBOUNCE_MS"`
	ListingIdleTTL      time.Duration `mapstructure:"LISTING_IDLE_TTL"`
	OTELServiceName     string        `mapstructure:"OTEL_SERVICE_NAME"`
	OTLPEndpoint        string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure        bool          `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	TraceSampleRate     float64       `mapstructure:"OTEL_TRACES_SAMPLE_RATE"`
}

var keys = []string{
	"PORT", "ENV", "STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MONGO_URI", "MONGO_DATABASE", "CORS_ORIGINS", "AUTH_SECRET", "AUTH_ISSUER",
	"PATIENT_PAGE_SIZE", "USER_PAGE_SIZE", "APPOINTMENT_PAGE_SIZE",
	"SEARCH_DEBOUNCE_MS", "LISTING_IDLE_TTL", "OTEL_SERVICE_NAME",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_TRACES_SAMPLE_RATE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", "") // "" -> memory in development, postgres otherwise
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MONGO_DATABASE", "clinic")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTH_ISSUER", "clinic")
	v.SetDefault("PATIENT_PAGE_SIZE", 7)
	v.SetDefault("USER_PAGE_SIZE", 6)
	v.SetDefault("APPOINTMENT_PAGE_SIZE", 6)
	v.SetDefault("SEARCH_DEBOUNCE_MS", 400)
	v.SetDefault("LISTING_IDLE_TTL", "30m")
	v.SetDefault("OTEL_SERVICE_NAME", "clinic-server")
	v.SetDefault("OTEL_TRACES_SAMPLE_RATE", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = BackendPostgres
		if cfg.IsDev() {
			cfg.StoreBackend = BackendMemory
		}
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMS) * time.Millisecond
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_SECRET must be set so bearer tokens are enforced.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
		if c.IsProduction() {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_BACKEND=postgres")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for STORE_BACKEND=mongo")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be \"memory\", \"postgres\", or \"mongo\", got %q", c.StoreBackend)
	}

	if !c.IsDev() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required when ENV=%q", c.Env)
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 bytes, got %d", len(c.AuthSecret))
	}

	if c.SearchDebounceMS < 300 || c.SearchDebounceMS > 500 {
		return fmt.Errorf("SEARCH_DEBOUNCE_MS must be between 300 and 500, got %d", c.SearchDebounceMS)
	}
	for name, size := range map[string]int{
		"PATIENT_PAGE_SIZE":     c.PatientPageSize,
		"USER_PAGE_SIZE":        c.UserPageSize,
		"APPOINTMENT_PAGE_SIZE": c.AppointmentPageSize,
	} {
		if size < 1 {
			return fmt.Errorf("%s must be positive, got %d", name, size)
		}
	}
	if c.ListingIdleTTL <= 0 {
		return fmt.Errorf("LISTING_IDLE_TTL must be positive")
	}
	if c.TraceSampleRate <= 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLE_RATE must be in (0, 1], got %v", c.TraceSampleRate)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
