// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package catalog pulls pack and level metadata, including community
// record ("bold") values, from the external scores API and merges it into
// the local store.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
	"github.com/glanderclub/railroad/services/railroad/policy"
	"github.com/glanderclub/railroad/services/railroad/storage"
)

// Pack is the scores API's description of a level pack.
type Pack struct {
	Name       string `json:"pack"`
	LongName   string `json:"longName"`
	LevelCount int    `json:"levelCount"`
}

// PackLevel is the scores API's per-level record data.
type PackLevel struct {
	LevelN    int    `json:"level"`
	Title     string `json:"name"`
	TimeLimit int    `json:"timeLimit"`

	// BoldTime is the record time in whole display seconds. Zero means no
	// reported record.
	BoldTime int `json:"boldTime"`

	// BoldScore is the record score. Zero means not reported; Sync
	// derives it from BoldTime in that case.
	BoldScore int `json:"boldScore"`
}

// Client talks to the scores API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a scores API client. A nil http.Client gets a 30s
// overall timeout; catalog calls are small and never stream.
func NewClient(baseURL string, client *http.Client, logger *slog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("scores API request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("scores API returned %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(detail)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode scores API response: %w", err)
	}
	return nil
}

// Packs lists the packs the scores API knows about.
func (c *Client) Packs(ctx context.Context) ([]Pack, error) {
	var packs []Pack
	if err := c.getJSON(ctx, "/packs", &packs); err != nil {
		return nil, err
	}
	return packs, nil
}

// PackLevels fetches the per-level records of one pack.
func (c *Client) PackLevels(ctx context.Context, pack string) ([]PackLevel, error) {
	var levels []PackLevel
	if err := c.getJSON(ctx, "/packs/"+url.PathEscape(pack), &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

// Sync refreshes bold values for the given packs. Existing levels are
// updated in place; levels the store has never seen are created so routes
// can be submitted against them before anyone submits to the scores API.
// Each pack is written as one atomic batch.
func Sync(ctx context.Context, client *Client, store *storage.Store, packs []string) error {
	var errs []error
	for _, pack := range packs {
		if err := syncPack(ctx, client, store, pack); err != nil {
			client.logger.Error("pack sync failed", "pack", pack, "error", err)
			errs = append(errs, fmt.Errorf("sync %s: %w", pack, err))
			continue
		}
	}
	return errors.Join(errs...)
}

func syncPack(ctx context.Context, client *Client, store *storage.Store, pack string) error {
	remote, err := client.PackLevels(ctx, pack)
	if err != nil {
		return err
	}

	updated := make([]*datatypes.Level, 0, len(remote))
	for _, rl := range remote {
		level, err := store.GetLevel(ctx, pack, rl.LevelN)
		if errors.Is(err, storage.ErrNotFound) {
			level = &datatypes.Level{SetName: pack, LevelN: rl.LevelN}
		} else if err != nil {
			return err
		}

		level.Title = rl.Title
		level.TimeLimit = rl.TimeLimit
		level.BoldTime = rl.BoldTime
		level.BoldScore = rl.BoldScore
		if level.BoldScore == 0 && rl.BoldTime > 0 {
			// The scores API reports bolds without a score for packs that
			// only track time. Derive the bonus-free score.
			level.BoldScore = policy.LevelPoints(rl.LevelN, rl.BoldTime, 0)
		}
		updated = append(updated, level)
	}

	if err := store.PutLevels(ctx, updated); err != nil {
		return err
	}
	client.logger.Info("pack synced", "pack", pack, "levels", len(updated))
	return nil
}
