// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/glanderclub/railroad/pkg/logging"
	"github.com/glanderclub/railroad/services/railroad/catalog"
	"github.com/glanderclub/railroad/services/railroad/config"
	"github.com/glanderclub/railroad/services/railroad/storage"
)

func runRefreshBolds(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Catalog.URL == "" {
		return errors.New("catalog.url is not configured")
	}

	logger, closeLog := logging.New(logging.Config{Level: cfg.Logging.Level, Service: "railroad"})
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	store, err := storage.Open(storage.Config{
		Path:       cfg.Storage.Path,
		SyncWrites: cfg.Storage.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	client := catalog.NewClient(cfg.Catalog.URL, nil, logger)
	return catalog.Sync(ctx, client, store, cfg.Catalog.Packs)
}
