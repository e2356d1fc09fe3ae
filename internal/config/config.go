package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Bot      BotConfig      `toml:"bot"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
	Observer ObserverConfig `toml:"observer"`
}

type BotConfig struct {
	Document string `toml:"document"` // path to the bot declaration (JSON)
	Locale   string `toml:"locale"`   // fallback locale override
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // memory | sqlite | postgres
	Path   string `toml:"path"`   // sqlite file
	DSN    string `toml:"dsn"`    // postgres connection string
}

type LogConfig struct {
	Level string `toml:"level"` // debug | info | warn | error
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Bot:      BotConfig{Document: "bot.json"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "golem.db"},
		Log:      LogConfig{Level: "info"},
		Observer: ObserverConfig{ServiceName: "golem"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "golem.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("GOLEM_DOCUMENT"); v != "" {
		cfg.Bot.Document = v
	}
	if v := os.Getenv("GOLEM_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("GOLEM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("GOLEM_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GOLEM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if os.Getenv("GOLEM_OBSERVER_ENABLED") == "true" || os.Getenv("GOLEM_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
