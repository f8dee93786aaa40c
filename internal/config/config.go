package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/queue"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory|postgres
}

type PostgresConfig struct {
	DSN            string        `mapstructure:"dsn"`
	MaxConns       int32         `mapstructure:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type QueueConfig struct {
	Timezone              string         `mapstructure:"timezone"`
	Estimator             string         `mapstructure:"estimator"`
	DefaultWaitMinutes    int            `mapstructure:"default_wait_minutes"`
	ServiceWaitMinutes    map[string]int `mapstructure:"service_wait_minutes"`
	NoTellerWaitMinutes   int            `mapstructure:"no_teller_wait_minutes"`
	DefaultServiceMinutes int            `mapstructure:"default_service_minutes"`
	ServiceMinutes        map[string]int `mapstructure:"service_minutes"`
	MaxRetries            int            `mapstructure:"max_retries"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Insecure     bool   `mapstructure:"insecure"`
}

type SeedConfig struct {
	Tellers []TellerSeed `mapstructure:"tellers"`
}

type TellerSeed struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	ServiceTypes []string `mapstructure:"service_types"`
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Load reads embedded defaults, merges the YAML file at path (if any), then
// applies BRANCHQ_* env overrides. A .env file in the working directory is
// loaded first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("BRANCHQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// DB_DSN is what the compose files and integration tests already export.
	if err := v.BindEnv("postgres.dsn", "BRANCHQ_POSTGRES_DSN", "DB_DSN"); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := queue.NewEstimator(c.EstimatorConfig()); err != nil {
		return err
	}
	for _, t := range c.Seed.Tellers {
		if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Name) == "" {
			return errors.New("seed.tellers entries need an id and a name")
		}
	}
	return nil
}

// Location is the timezone whose midnight starts a new service day.
func (c Config) Location() (*time.Location, error) {
	if c.Queue.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Queue.Timezone)
	if err != nil {
		return nil, fmt.Errorf("queue.timezone: %w", err)
	}
	return loc, nil
}

func (c Config) EstimatorConfig() queue.EstimatorConfig {
	return queue.EstimatorConfig{
		Kind:                  c.Queue.Estimator,
		DefaultWaitMinutes:    c.Queue.DefaultWaitMinutes,
		ServiceWaitMinutes:    c.Queue.ServiceWaitMinutes,
		NoTellerWaitMinutes:   c.Queue.NoTellerWaitMinutes,
		DefaultServiceMinutes: c.Queue.DefaultServiceMinutes,
		ServiceMinutes:        c.Queue.ServiceMinutes,
	}
}

// Roster converts the seed section into tellers, all initially available.
func (c Config) Roster() []models.Teller {
	if len(c.Seed.Tellers) == 0 {
		return models.DefaultRoster()
	}
	roster := make([]models.Teller, 0, len(c.Seed.Tellers))
	for _, t := range c.Seed.Tellers {
		roster = append(roster, models.Teller{
			ID:           strings.TrimSpace(t.ID),
			Name:         strings.TrimSpace(t.Name),
			Status:       models.TellerAvailable,
			ServiceTypes: append([]string(nil), t.ServiceTypes...),
		})
	}
	return roster
}
