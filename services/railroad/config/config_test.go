// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "railroad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0640))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "http", cfg.Simulator.Backend)
	assert.Equal(t, []string{"cc1", "cc2", "cc2lp1"}, cfg.Catalog.Packs)
	assert.Equal(t, 6*time.Hour, cfg.Catalog.SyncInterval)
	assert.NotZero(t, cfg.Auth.Argon2.Memory)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
simulator:
  backend: scripted
catalog:
  url: https://scores.example.com/api
  packs: [cc1]
logging:
  level: debug
  json: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "scripted", cfg.Simulator.Backend)
	assert.Equal(t, []string{"cc1"}, cfg.Catalog.Packs)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
`)
	t.Setenv("RAILROAD_ADDR", ":7000")
	t.Setenv("RAILROAD_SIMULATOR_URL", "http://sim.internal:8091")
	t.Setenv("RAILROAD_DISCORD_WEBHOOKS", "https://discord.com/api/webhooks/1, https://discord.com/api/webhooks/2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "http://sim.internal:8091", cfg.Simulator.URL)
	assert.Equal(t, []string{
		"https://discord.com/api/webhooks/1",
		"https://discord.com/api/webhooks/2",
	}, cfg.Discord.WebhookURLs)
}

func TestInvalidBackendRejected(t *testing.T) {
	path := writeConfig(t, `
simulator:
  backend: quantum
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestHTTPBackendRequiresURL(t *testing.T) {
	path := writeConfig(t, `
simulator:
  backend: http
  url: ""
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestBadWebhookURLRejected(t *testing.T) {
	path := writeConfig(t, `
discord:
  webhookUrls: ["not a url"]
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid config")
}

func TestUnparseableYAML(t *testing.T) {
	path := writeConfig(t, "server: [")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}
