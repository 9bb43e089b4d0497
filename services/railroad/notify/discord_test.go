// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []webhookPayload
	srv      *httptest.Server
}

func newWebhookRecorder(t *testing.T) *webhookRecorder {
	t.Helper()
	rec := &webhookRecorder{}
	rec.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		rec.mu.Lock()
		rec.payloads = append(rec.payloads, p)
		rec.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(rec.srv.Close)
	return rec
}

func (r *webhookRecorder) received() []webhookPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]webhookPayload(nil), r.payloads...)
}

func TestFormatTime(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{404.05, "405"},
		{404.1, "405 +1t"},
		{405.0, "405 +19t"},
		{404.05 + 1.0/60.0, "405 +⅓t"},
		{404.05 + 2.0/60.0, "405 +⅔t"},
		{404.05 + 4.0/60.0, "405 +1⅓t"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatTime(tc.in), "formatTime(%v)", tc.in)
	}
}

func TestWriteMetrics(t *testing.T) {
	assert.Equal(t, "405 +1t", writeTimeMetric(404.1, 0))
	assert.Equal(t, "405 +1t (b)", writeTimeMetric(404.1, 405))
	assert.Equal(t, "405 (b+2)", writeTimeMetric(404.05, 403))
	assert.Equal(t, "405 (b-3)", writeTimeMetric(404.05, 408))

	assert.Equal(t, "21050", writeScoreMetric(21050, 0))
	assert.Equal(t, "21050 (b+50)", writeScoreMetric(21050, 21000))
	assert.Equal(t, "21050 (b)", writeScoreMetric(21050, 21050))
}

func TestAnnounceSubmissionsSkipsNonMainline(t *testing.T) {
	rec := newWebhookRecorder(t)
	n := NewNotifier([]string{rec.srv.URL}, rec.srv.Client(), nil)

	n.AnnounceSubmissions(context.Background(), []Announcement{
		{SetName: "cc1", LevelN: 1, Submitter: "chip"},
		{
			SetName: "cc1", LevelN: 34, Title: "CYPHER", Submitter: "melinda",
			TimeLeft: 404.1, Points: 21050,
			NewTimeMainline: true, NewScoreMainline: true,
			BoldTime: 405, BoldScore: 21000,
		},
	})

	got := rec.received()
	require.Len(t, got, 1)
	require.Len(t, got[0].Embeds, 1)
	e := got[0].Embeds[0]
	assert.Equal(t, "New mainline on cc1 #34: CYPHER", e.Title)
	assert.Contains(t, e.Description, "time 405 +1t (b)")
	assert.Contains(t, e.Description, "score 21050 (b+50)")
	assert.Contains(t, e.Description, "**melinda**")
}

func TestAnnounceNewUser(t *testing.T) {
	rec := newWebhookRecorder(t)
	n := NewNotifier([]string{rec.srv.URL}, rec.srv.Client(), nil)

	n.AnnounceNewUser(context.Background(), "chip", 42)

	got := rec.received()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Embeds[0].Description, "**chip**")
	assert.Contains(t, got[0].Embeds[0].Description, "42 users")
}

func TestNoURLsIsNoop(t *testing.T) {
	n := NewNotifier(nil, nil, nil)
	// Must not panic or block.
	n.AnnounceNewUser(context.Background(), "chip", 1)
}

func TestWebhookFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	n := NewNotifier([]string{srv.URL}, srv.Client(), nil)
	n.AnnounceNewUser(context.Background(), "chip", 1)
}
