package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	} `yaml:"log"`
	Store struct {
		Driver      string           `yaml:"driver" env:"STORE_DRIVER" env-default:"postgres"` // postgres | memory
		Restaurants []SeedRestaurant `yaml:"restaurants"`                                      // loaded into the memory store only
	} `yaml:"store"`
	Database struct {
		Host     string `yaml:"host" env:"DATABASE_HOST" env-default:"localhost"`
		Port     int    `yaml:"port" env:"DATABASE_PORT" env-default:"5432"`
		User     string `yaml:"user" env:"DATABASE_USER"`
		Password string `yaml:"password" env:"DATABASE_PASSWORD"`
		Name     string `yaml:"database" env:"DATABASE_NAME"`
	} `yaml:"database"`
	RabbitMQ struct {
		Disabled bool   `yaml:"disabled" env:"RABBITMQ_DISABLED"` // zero value keeps notifications on
		Host     string `yaml:"host" env:"RABBITMQ_HOST" env-default:"localhost"`
		Port     int    `yaml:"port" env:"RABBITMQ_PORT" env-default:"5672"`
		User     string `yaml:"user" env:"RABBITMQ_USER"`
		Password string `yaml:"password" env:"RABBITMQ_PASSWORD"`
	} `yaml:"rabbitmq"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"` // empty disables idempotency keys
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	} `yaml:"redis"`
	Auth struct {
		Secret        string        `yaml:"secret" env:"AUTH_SECRET"`
		Issuer        string        `yaml:"issuer" env:"AUTH_ISSUER" env-default:"order-tracker"`
		TokenTTL      time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"24h"`
		PaymentSecret string        `yaml:"payment_secret" env:"AUTH_PAYMENT_SECRET"`
	} `yaml:"auth"`
	Realtime struct {
		MaxConnections int           `yaml:"max_connections" env:"REALTIME_MAX_CONNECTIONS" env-default:"10000"`
		SendBuffer     int           `yaml:"send_buffer" env:"REALTIME_SEND_BUFFER" env-default:"256"`
		ControlRate    float64       `yaml:"control_rate" env:"REALTIME_CONTROL_RATE" env-default:"5"`
		ControlBurst   int           `yaml:"control_burst" env:"REALTIME_CONTROL_BURST" env-default:"20"`
		OwnershipTTL   time.Duration `yaml:"ownership_ttl" env:"REALTIME_OWNERSHIP_TTL" env-default:"5m"`
		AllowedOrigins []string      `yaml:"allowed_origins" env:"REALTIME_ALLOWED_ORIGINS" env-separator:","`
	} `yaml:"realtime"`
	Lifecycle struct {
		PendingTimeout time.Duration `yaml:"pending_timeout" env:"LIFECYCLE_PENDING_TIMEOUT" env-default:"30m"`
		SweepInterval  time.Duration `yaml:"sweep_interval" env:"LIFECYCLE_SWEEP_INTERVAL" env-default:"1m"`
	} `yaml:"lifecycle"`
}

// SeedRestaurant is a restaurant preloaded into the memory store.
type SeedRestaurant struct {
	ID      string `yaml:"id"`
	OwnerID string `yaml:"owner_id"`
	Name    string `yaml:"name"`
	Open    bool   `yaml:"open"`
}

// LoadFromFile loads config from a YAML file, lets environment variables override it, and validates required fields.
// A missing file is not an error: the environment alone is used.
func LoadFromFile(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from env: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, "database.port must be in 1..65535")
		}
		if c.Database.User == "" {
			problems = append(problems, "database.user is required")
		}
		if c.Database.Password == "" {
			problems = append(problems, "database.password is required")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database (name) is required")
		}
	case "memory":
		for i, r := range c.Store.Restaurants {
			if r.ID == "" || r.OwnerID == "" {
				problems = append(problems, fmt.Sprintf("store.restaurants[%d] needs id and owner_id", i))
			}
		}
	default:
		problems = append(problems, "store.driver must be postgres or memory")
	}

	if !c.RabbitMQ.Disabled {
		if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
			problems = append(problems, "rabbitmq.port must be in 1..65535")
		}
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required")
		}
		if c.RabbitMQ.Password == "" {
			problems = append(problems, "rabbitmq.password is required")
		}
	}

	if len(c.Auth.Secret) < 16 {
		problems = append(problems, "auth.secret must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		problems = append(problems, "auth.token_ttl must be > 0")
	}
	if c.Auth.PaymentSecret == "" {
		problems = append(problems, "auth.payment_secret is required")
	}

	if c.Realtime.MaxConnections <= 0 {
		problems = append(problems, "realtime.max_connections must be > 0")
	}
	if c.Realtime.SendBuffer <= 0 {
		problems = append(problems, "realtime.send_buffer must be > 0")
	}
	if c.Realtime.ControlRate <= 0 || c.Realtime.ControlBurst <= 0 {
		problems = append(problems, "realtime.control_rate and realtime.control_burst must be > 0")
	}

	if c.Lifecycle.PendingTimeout <= 0 || c.Lifecycle.SweepInterval <= 0 {
		problems = append(problems, "lifecycle.pending_timeout and lifecycle.sweep_interval must be > 0")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
