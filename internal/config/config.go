package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	App      AppConfig
	Supabase SupabaseConfig
	Postgres PostgresConfig
}

type AppConfig struct {
	Backend  string `env:"BACKEND" envDefault:"supabase"`
	Profile  string `env:"CHAT_PROFILE" envDefault:"default"`
	Debug    bool   `env:"CHAT_DEBUG" envDefault:"false"`
	LogFile  string `env:"CHAT_LOG_FILE" envDefault:"debug.log"`
	PageSize int    `env:"CHAT_PAGE_SIZE" envDefault:"50"`
	Bucket   string `env:"CHAT_BUCKET" envDefault:"chat-files"`
}

type SupabaseConfig struct {
	URL     string `env:"URL,required,notEmpty"`
	AnonKey string `env:"ANON_KEY,required,notEmpty"`
}

type PostgresConfig struct {
	DatabaseURL   string `env:"DATABASE_URL,required,notEmpty"`
	StorageDir    string `env:"STORAGE_DIR" envDefault:"./storage"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL,required,notEmpty"`

	AuthAttemptsPerMin int `env:"AUTH_ATTEMPTS_PER_MIN" envDefault:"5"`
}

// Load reads the common settings and then the settings of the selected
// backend only, so a missing SUPABASE_URL does not stop a postgres setup.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg.App); err != nil {
		return nil, err
	}
	if cfg.App.PageSize <= 0 {
		return nil, fmt.Errorf("config: CHAT_PAGE_SIZE must be positive, got %d", cfg.App.PageSize)
	}

	switch cfg.App.Backend {
	case BackendSupabase:
		if err := env.ParseWithOptions(&cfg.Supabase, env.Options{Prefix: "SUPABASE_"}); err != nil {
			return nil, err
		}
	case BackendPostgres:
		if err := env.ParseWithOptions(&cfg.Postgres, env.Options{Prefix: "PG_"}); err != nil {
			return nil, err
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("config: unknown BACKEND %q", cfg.App.Backend)
	}
	return &cfg, nil
}

// LoadPostgres reads only the PG_ settings, for tools that always work on
// the self-hosted database.
func LoadPostgres() (*PostgresConfig, error) {
	var cfg PostgresConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "PG_"}); err != nil {
		return nil, err
	}
	return &cfg, nil
}
