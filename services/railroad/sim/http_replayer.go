// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sim

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPReplayer drives replays through a simulator service over HTTP. The
// service streams one JSON tick per line, which keeps memory bounded for
// long routes and lets the caller apply backpressure by reading slowly.
type HTTPReplayer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReplayer creates a replayer against the simulator service at
// baseURL. Replays have no overall deadline beyond the caller's context;
// a stuck simulator is surfaced through the per-read idle timeout of the
// underlying transport.
func NewHTTPReplayer(baseURL string, client *http.Client) *HTTPReplayer {
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &HTTPReplayer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type replayRequest struct {
	Level LevelDefinition `json:"level"`
	Moves []MoveInput     `json:"moves"`
	Seed  SeedParams      `json:"seed"`
}

// Replay starts a streaming replay. The returned stream must be closed.
func (r *HTTPReplayer) Replay(ctx context.Context, level LevelDefinition, moves []MoveInput, seed SeedParams) (TickStream, error) {
	body, err := json.Marshal(replayRequest{Level: level, Moves: moves, Seed: seed})
	if err != nil {
		return nil, fmt.Errorf("encode replay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/replay", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build replay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("simulator request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("simulator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return &httpTickStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

type httpTickStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *httpTickStream) Next(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var tick Tick
		if err := json.Unmarshal(line, &tick); err != nil {
			return Tick{}, fmt.Errorf("decode tick: %w", err)
		}
		return tick, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Tick{}, fmt.Errorf("read tick stream: %w", err)
	}
	return Tick{}, io.EOF
}

func (s *httpTickStream) Close() error {
	return s.body.Close()
}

// Healthy probes the simulator service. Used at startup so a
// misconfigured simulator URL fails fast instead of on the first
// submission.
func (r *HTTPReplayer) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("simulator health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("simulator health check returned %d", resp.StatusCode)
	}
	return nil
}
