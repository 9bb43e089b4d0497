// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLevelRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	level := &datatypes.Level{
		SetName:  "cc1",
		LevelN:   34,
		Title:    "CYPHER",
		BoldTime: 405,
	}
	require.NoError(t, s.PutLevels(ctx, []*datatypes.Level{level}))

	got, err := s.GetLevel(ctx, "cc1", 34)
	require.NoError(t, err)
	assert.Equal(t, "CYPHER", got.Title)
	assert.Equal(t, 405, got.BoldTime)
}

func TestGetLevelNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetLevel(context.Background(), "cc1", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLevelsBySetSortedAndScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Inserted out of order and across sets; zero-padded keys must yield
	// numeric order within the requested set only.
	require.NoError(t, s.PutLevels(ctx, []*datatypes.Level{
		{SetName: "cc1", LevelN: 100},
		{SetName: "cc1", LevelN: 2},
		{SetName: "cc2", LevelN: 1},
		{SetName: "cc1", LevelN: 17},
	}))

	levels, err := s.LevelsBySet(ctx, "cc1")
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, 2, levels[0].LevelN)
	assert.Equal(t, 17, levels[1].LevelN)
	assert.Equal(t, 100, levels[2].LevelN)
}

func TestPutLevelsOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutLevels(ctx, []*datatypes.Level{{SetName: "cc1", LevelN: 1, Title: "LESSON 1"}}))
	require.NoError(t, s.PutLevels(ctx, []*datatypes.Level{{SetName: "cc1", LevelN: 1, Title: "LESSON 1", BoldTime: 88}}))

	got, err := s.GetLevel(ctx, "cc1", 1)
	require.NoError(t, err)
	assert.Equal(t, 88, got.BoldTime)
}

func TestAllLevelsSpansSets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutLevels(ctx, []*datatypes.Level{
		{SetName: "cc1", LevelN: 1},
		{SetName: "cc2", LevelN: 1},
		{SetName: "cc2lp1", LevelN: 1},
	}))

	levels, err := s.AllLevels(ctx)
	require.NoError(t, err)
	assert.Len(t, levels, 3)
}

func TestCreateUserConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &datatypes.User{UserName: "melinda", Hash: "$argon2id$...", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(ctx, user))

	err := s.CreateUser(ctx, &datatypes.User{UserName: "melinda"})
	assert.ErrorIs(t, err, ErrUserExists)

	got, err := s.GetUser(ctx, "melinda")
	require.NoError(t, err)
	assert.Equal(t, user.Hash, got.Hash)
}

func TestCountUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, s.CreateUser(ctx, &datatypes.User{UserName: "a"}))
	require.NoError(t, s.CreateUser(ctx, &datatypes.User{UserName: "b"}))

	count, err = s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestContextCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetLevel(ctx, "cc1", 1)
	assert.ErrorIs(t, err, context.Canceled)
	err = s.PutLevels(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
