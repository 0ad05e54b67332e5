// Package config содержит логику чтения конфигурации cardbook.
//
// Источники применяются по возрастанию приоритета: значения по умолчанию,
// TOML-файл, флаги командной строки, переменные окружения.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress  = "localhost:8080"
	defaultDatabaseURI = "cardbook.db"
	defaultAuthSecret  = "cardbook-local-secret"
)

// Config содержит параметры конфигурации cardbook.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS" toml:"run_address"`
	DatabaseURI string `env:"DATABASE_URI" toml:"database_uri"`
	CatalogPath string `env:"CATALOG_PATH" toml:"catalog_path"`
	CatalogURL  string `env:"CATALOG_URL" toml:"catalog_url"`
	AuthSecret  string `env:"AUTH_SECRET" toml:"auth_secret"`
	// CalendarTZ задаёт часовой пояс расчёта периодов. Пустое значение означает Local.
	CalendarTZ string `env:"CALENDAR_TZ" toml:"calendar_tz"`
}

func defaults() *Config {
	return &Config{
		RunAddress:  defaultRunAddress,
		DatabaseURI: defaultDatabaseURI,
		AuthSecret:  defaultAuthSecret,
	}
}

// Load читает TOML-файл path (если задан) поверх значений по умолчанию
// и применяет переменные окружения.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if err := cfg.readFile(path); err != nil {
		return nil, err
	}
	if err := cfg.readEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse считывает конфигурацию из файла, флагов args и переменных окружения.
func Parse(args []string) (*Config, error) {
	var (
		configPath string
		flags      Config
	)

	fs := flag.NewFlagSet("cardbook", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "path to TOML config file")
	fs.StringVar(&flags.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	fs.StringVar(&flags.DatabaseURI, "d", defaultDatabaseURI, "database URI or SQLite file path")
	fs.StringVar(&flags.CatalogPath, "c", "", "card catalog JSON file")
	fs.StringVar(&flags.CatalogURL, "u", "", "card catalog URL")
	fs.StringVar(&flags.AuthSecret, "s", defaultAuthSecret, "secret for signing user cookies")
	fs.StringVar(&flags.CalendarTZ, "tz", "", "calendar time zone, e.g. America/New_York")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	cfg := defaults()
	if err := cfg.readFile(configPath); err != nil {
		return nil, err
	}

	// Флаги перекрывают файл, только если заданы явно.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			cfg.RunAddress = flags.RunAddress
		case "d":
			cfg.DatabaseURI = flags.DatabaseURI
		case "c":
			cfg.CatalogPath = flags.CatalogPath
		case "u":
			cfg.CatalogURL = flags.CatalogURL
		case "s":
			cfg.AuthSecret = flags.AuthSecret
		case "tz":
			cfg.CalendarTZ = flags.CalendarTZ
		}
	})

	if err := cfg.readEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

func (c *Config) readEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if c.RunAddress == "" {
		c.RunAddress = defaultRunAddress
	}
	if c.DatabaseURI == "" {
		c.DatabaseURI = defaultDatabaseURI
	}
	if c.AuthSecret == "" {
		return errors.New("auth secret must not be empty")
	}
	return nil
}

// Location возвращает часовой пояс календаря.
func (c *Config) Location() (*time.Location, error) {
	if c.CalendarTZ == "" || c.CalendarTZ == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.CalendarTZ)
	if err != nil {
		return nil, fmt.Errorf("load calendar time zone %q: %w", c.CalendarTZ, err)
	}
	return loc, nil
}
