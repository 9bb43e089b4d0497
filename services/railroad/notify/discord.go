// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package notify posts submission and registration announcements to
// Discord webhooks.
//
// Announcements are strictly best effort: a webhook failure is logged
// and dropped, never surfaced to the submitting client. Route commits
// must not depend on Discord being up.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/glanderclub/railroad/services/railroad/policy"
)

// Announcement describes one committed route worth announcing.
type Announcement struct {
	SetName   string
	LevelN    int
	Title     string
	Submitter string

	TimeLeft float64
	Points   int

	// NewTimeMainline / NewScoreMainline report whether this route became
	// the level's mainline on each metric, compared against the
	// pre-commit state.
	NewTimeMainline  bool
	NewScoreMainline bool

	// BoldTime and BoldScore are the community records for the level.
	// Zero means no record is known.
	BoldTime  int
	BoldScore int
}

// Notifier posts to a set of Discord webhooks with a shared rate limit.
type Notifier struct {
	urls    []string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewNotifier creates a notifier for the given webhook URLs. An empty
// list yields a no-op notifier. Posts are limited to Discord's webhook
// budget of 30 per minute, with a small burst.
func NewNotifier(urls []string, client *http.Client, logger *slog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		urls:    urls,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
		logger:  logger,
	}
}

type webhookPayload struct {
	Username string  `json:"username"`
	Embeds   []embed `json:"embeds"`
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color,omitempty"`
}

const embedColor = 0x2ecc71

// AnnounceSubmissions posts one embed per mainline-changing route. Routes
// that improved neither metric are skipped.
func (n *Notifier) AnnounceSubmissions(ctx context.Context, announcements []Announcement) {
	for _, a := range announcements {
		if !a.NewTimeMainline && !a.NewScoreMainline {
			continue
		}
		n.post(ctx, webhookPayload{
			Username: "railroad",
			Embeds:   []embed{buildEmbed(a)},
		})
	}
}

// AnnounceNewUser posts a registration notice.
func (n *Notifier) AnnounceNewUser(ctx context.Context, userName string, totalUsers int) {
	n.post(ctx, webhookPayload{
		Username: "railroad",
		Embeds: []embed{{
			Title:       "New user",
			Description: fmt.Sprintf("**%s** registered. %d users total.", userName, totalUsers),
		}},
	})
}

func buildEmbed(a Announcement) embed {
	var metrics []string
	if a.NewTimeMainline {
		metrics = append(metrics, "time "+writeTimeMetric(a.TimeLeft, a.BoldTime))
	}
	if a.NewScoreMainline {
		metrics = append(metrics, "score "+writeScoreMetric(a.Points, a.BoldScore))
	}
	title := fmt.Sprintf("%s #%d", a.SetName, a.LevelN)
	if a.Title != "" {
		title += ": " + a.Title
	}
	return embed{
		Title:       "New mainline on " + title,
		Description: fmt.Sprintf("%s by **%s**", strings.Join(metrics, ", "), a.Submitter),
		Color:       embedColor,
	}
}

// formatTime renders a time-left value as its display seconds plus the
// extra ticks beyond them, with partial ticks written as thirds:
// "405", "405 +1t", "405 +1⅓t".
func formatTime(t float64) string {
	display := policy.DisplayTime(t)
	extra := policy.ExtraTicks(t)
	if extra == 0 {
		return strconv.Itoa(display)
	}
	whole := int(extra)
	frac := ""
	switch {
	case closeTo(extra-float64(whole), 1.0/3.0):
		frac = "⅓"
	case closeTo(extra-float64(whole), 2.0/3.0):
		frac = "⅔"
	}
	if whole == 0 {
		return fmt.Sprintf("%d +%st", display, frac)
	}
	return fmt.Sprintf("%d +%d%st", display, whole, frac)
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// writeTimeMetric renders a time with its distance from the community
// record, e.g. "404.05 (b-1)".
func writeTimeMetric(timeLeft float64, bold int) string {
	s := formatTime(timeLeft)
	if bold == 0 {
		return s
	}
	delta := policy.DisplayTime(timeLeft) - bold
	return s + boldSuffix(delta)
}

func writeScoreMetric(points, bold int) string {
	s := strconv.Itoa(points)
	if bold == 0 {
		return s
	}
	return s + boldSuffix(points-bold)
}

func boldSuffix(delta int) string {
	switch {
	case delta > 0:
		return fmt.Sprintf(" (b+%d)", delta)
	case delta < 0:
		return fmt.Sprintf(" (b%d)", delta)
	default:
		return " (b)"
	}
}

func (n *Notifier) post(ctx context.Context, payload webhookPayload) {
	if len(n.urls) == 0 {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("encode webhook payload", "error", err)
		return
	}
	for _, url := range n.urls {
		if err := n.limiter.Wait(ctx); err != nil {
			n.logger.Warn("webhook rate wait aborted", "error", err)
			return
		}
		if err := n.postOne(ctx, url, body); err != nil {
			n.logger.Warn("webhook post failed", "error", err)
		}
	}
}

func (n *Notifier) postOne(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
