package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Application store. DBDriver is "sqlite3" or "mysql".
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"chat_ledger.db?_foreign_keys=on"`

	GeminiAPIKey   string `env:"GEMINI_API_KEY"`
	ChatModel      string `env:"CHAT_MODEL" envDefault:"gemini-1.5-flash-latest"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-004"`

	DocsDir     string        `env:"DOCS_DIR" envDefault:"docs"`
	MaxUploadMB int64         `env:"MAX_UPLOAD_MB" envDefault:"20"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	ProbeTimeout time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DBDriver != "sqlite3" && cfg.DBDriver != "mysql" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	return cfg, nil
}

// RequireGemini reports whether the generation pipeline can be built.
func (c *Config) RequireGemini() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	return nil
}
