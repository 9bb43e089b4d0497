// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
	"github.com/glanderclub/railroad/services/railroad/storage"
)

func scoresAPIStub(t *testing.T, packLevels map[string][]PackLevel) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/packs", func(w http.ResponseWriter, r *http.Request) {
		var packs []Pack
		for name, levels := range packLevels {
			packs = append(packs, Pack{Name: name, LevelCount: len(levels)})
		}
		_ = json.NewEncoder(w).Encode(packs)
	})
	mux.HandleFunc("/packs/", func(w http.ResponseWriter, r *http.Request) {
		levels, ok := packLevels[r.URL.Path[len("/packs/"):]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(levels)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPacks(t *testing.T) {
	srv := scoresAPIStub(t, map[string][]PackLevel{
		"cc1": {{LevelN: 1}, {LevelN: 2}},
	})
	client := NewClient(srv.URL, srv.Client(), nil)

	packs, err := client.Packs(context.Background())
	require.NoError(t, err)
	require.Len(t, packs, 1)
	assert.Equal(t, "cc1", packs[0].Name)
	assert.Equal(t, 2, packs[0].LevelCount)
}

func TestPackLevelsNotFound(t *testing.T) {
	srv := scoresAPIStub(t, nil)
	client := NewClient(srv.URL, srv.Client(), nil)

	_, err := client.PackLevels(context.Background(), "cc3")
	assert.ErrorContains(t, err, "404")
}

func TestSyncCreatesAndUpdates(t *testing.T) {
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	// Level 1 pre-exists with a route that must survive the sync.
	require.NoError(t, store.PutLevels(ctx, []*datatypes.Level{{
		SetName: "cc1",
		LevelN:  1,
		Routes:  []datatypes.Route{{ID: "r1", IsMainline: true}},
	}}))

	srv := scoresAPIStub(t, map[string][]PackLevel{
		"cc1": {
			{LevelN: 1, Title: "LESSON 1", TimeLimit: 100, BoldTime: 88, BoldScore: 1430},
			{LevelN: 2, Title: "LESSON 2", TimeLimit: 100, BoldTime: 92},
		},
	})
	client := NewClient(srv.URL, srv.Client(), nil)

	require.NoError(t, Sync(ctx, client, store, []string{"cc1"}))

	got, err := store.GetLevel(ctx, "cc1", 1)
	require.NoError(t, err)
	assert.Equal(t, 88, got.BoldTime)
	assert.Equal(t, 1430, got.BoldScore)
	require.Len(t, got.Routes, 1, "sync must not drop stored routes")

	// Level 2 was created, with the bold score derived from the bold
	// time: 2*500 + 92*10 + 0.
	got, err = store.GetLevel(ctx, "cc1", 2)
	require.NoError(t, err)
	assert.Equal(t, "LESSON 2", got.Title)
	assert.Equal(t, 1920, got.BoldScore)
}

func TestSyncContinuesPastFailedPack(t *testing.T) {
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	srv := scoresAPIStub(t, map[string][]PackLevel{
		"cc2": {{LevelN: 1, Title: "GROWING PAINS"}},
	})
	client := NewClient(srv.URL, srv.Client(), nil)

	err = Sync(ctx, client, store, []string{"cc1", "cc2"})
	assert.Error(t, err, "missing pack must be reported")

	got, err := store.GetLevel(ctx, "cc2", 1)
	require.NoError(t, err, "later packs still sync")
	assert.Equal(t, "GROWING PAINS", got.Title)
}
