// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the railroad service configuration from a YAML
// file with environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/glanderclub/railroad/services/railroad/users"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Levels    LevelsConfig    `yaml:"levels"`
	Auth      AuthConfig      `yaml:"auth"`
	Discord   DiscordConfig   `yaml:"discord"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type StorageConfig struct {
	Path       string `yaml:"path" validate:"required"`
	SyncWrites bool   `yaml:"syncWrites"`
}

type SimulatorConfig struct {
	// Backend selects the replay implementation. "http" talks to the
	// simulator service; "scripted" is for development only and replays
	// nothing real.
	Backend string `yaml:"backend" validate:"oneof=http scripted"`

	// URL of the simulator service. Required for the http backend.
	URL string `yaml:"url" validate:"required_if=Backend http,omitempty,url"`
}

type CatalogConfig struct {
	// URL of the scores API. Empty disables catalog sync.
	URL string `yaml:"url" validate:"omitempty,url"`

	// Packs to sync bold values for.
	Packs []string `yaml:"packs"`

	// SyncInterval between background refreshes. Zero disables the
	// background loop; a manual refresh stays available via the CLI.
	SyncInterval time.Duration `yaml:"syncInterval"`
}

type LevelsConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

type AuthConfig struct {
	Argon2 users.Argon2Params `yaml:"argon2"`
}

type DiscordConfig struct {
	// WebhookURLs receive mainline announcements.
	WebhookURLs []string `yaml:"webhookUrls" validate:"dive,url"`

	// UserWebhookURLs receive registration notices.
	UserWebhookURLs []string `yaml:"userWebhookUrls" validate:"dive,url"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when a field is absent from the
// file.
func Default() Config {
	return Config{
		Server:    ServerConfig{Addr: ":8080"},
		Storage:   StorageConfig{Path: "data/railroad", SyncWrites: true},
		Simulator: SimulatorConfig{Backend: "http", URL: "http://localhost:8091"},
		Catalog: CatalogConfig{
			Packs:        []string{"cc1", "cc2", "cc2lp1"},
			SyncInterval: 6 * time.Hour,
		},
		Levels:  LevelsConfig{Dir: "data/levels"},
		Auth:    AuthConfig{Argon2: users.DefaultArgon2Params()},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides, and validates the result. A missing file is not an error;
// the defaults plus environment must then validate on their own.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv maps RAILROAD_* variables over the file values, so secrets
// and per-host settings stay out of the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RAILROAD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RAILROAD_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("RAILROAD_SIMULATOR_URL"); v != "" {
		cfg.Simulator.URL = v
	}
	if v := os.Getenv("RAILROAD_SIMULATOR_BACKEND"); v != "" {
		cfg.Simulator.Backend = v
	}
	if v := os.Getenv("RAILROAD_CATALOG_URL"); v != "" {
		cfg.Catalog.URL = v
	}
	if v := os.Getenv("RAILROAD_LEVELS_DIR"); v != "" {
		cfg.Levels.Dir = v
	}
	if v := os.Getenv("RAILROAD_DISCORD_WEBHOOKS"); v != "" {
		cfg.Discord.WebhookURLs = splitList(v)
	}
	if v := os.Getenv("RAILROAD_DISCORD_USER_WEBHOOKS"); v != "" {
		cfg.Discord.UserWebhookURLs = splitList(v)
	}
	if v := os.Getenv("RAILROAD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
