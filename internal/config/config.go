package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/brasaex/exchange/internal/usecase/engine"
	"github.com/brasaex/exchange/internal/usecase/feed"
	"github.com/brasaex/exchange/internal/usecase/journal"
	"github.com/brasaex/exchange/pkg/postgresql"
)

// Config represents the application configuration.
type Config struct {
	App       AppConfig         `envPrefix:"APP_"`
	DB        postgresql.Config `envPrefix:"DB_"`
	Engine    engine.Config     `envPrefix:"ENGINE_"`
	Flush     journal.Config    `envPrefix:"FLUSH_"`
	FeedKafka feed.Config       `envPrefix:"FEED_KAFKA_"`
}

// AppConfig represents the application-level configuration.
type AppConfig struct {
	Name        string `env:"NAME" envDefault:"exchange"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// AdminAPIKey gates broker registration and debug endpoints. Those
	// endpoints answer 503 when it is left empty.
	AdminAPIKey string `env:"ADMIN_API_KEY"`

	WebhookTimeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`

	MigrationDir string `env:"MIGRATION_DIR" envDefault:"migrations"`
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
