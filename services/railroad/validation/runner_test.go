// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
	"github.com/glanderclub/railroad/services/railroad/sim"
)

var testLevel = sim.LevelDefinition{SetName: "cc1", LevelN: 34, TimeLimit: 500}

func newTestRunner(t *testing.T) (*Runner, *sim.ScriptedReplayer) {
	t.Helper()
	replayer := sim.NewScriptedReplayer()
	return NewRunner(replayer, nil), replayer
}

func TestValidateWon(t *testing.T) {
	runner, replayer := newTestRunner(t)
	// 24246 subticks = 404.1s left; 34*500 + 405*10 + 100 bonus.
	replayer.SetScript("cc1", 34, sim.WonScript(4, 24246, 100))

	outcome, err := runner.Validate(context.Background(), testLevel, &datatypes.RouteFile{Moves: "urdl"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWon, outcome.Kind)
	assert.InDelta(t, 404.1, outcome.TimeLeft, 1e-9)
	assert.Equal(t, 21150, outcome.Points)
	assert.InDelta(t, float64(4*sim.TicksPerMove+sim.WarmupTicks)/60.0, outcome.AbsoluteTime, 1e-9)
}

func TestValidateNotWon(t *testing.T) {
	runner, replayer := newTestRunner(t)
	replayer.SetScript("cc1", 34, sim.LostScript(4))

	outcome, err := runner.Validate(context.Background(), testLevel, &datatypes.RouteFile{Moves: "urdl"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotWon, outcome.Kind)
}

func TestValidateRunsOutOfInput(t *testing.T) {
	runner, replayer := newTestRunner(t)
	// Script never reaches a terminal state; the runner must stop at the
	// declared input bound instead of replaying forever.
	ticks := make([]sim.Tick, 4*sim.TicksPerMove+sim.WarmupTicks+50)
	for i := range ticks {
		ticks[i] = sim.Tick{State: sim.StatePlaying, ElapsedSubticks: i + 1}
	}
	replayer.SetScript("cc1", 34, sim.Script{Ticks: ticks})

	outcome, err := runner.Validate(context.Background(), testLevel, &datatypes.RouteFile{Moves: "urdl"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotWon, outcome.Kind)
}

func TestValidateMalformed(t *testing.T) {
	runner, _ := newTestRunner(t)

	outcome, err := runner.Validate(context.Background(), testLevel, &datatypes.RouteFile{Moves: "urp"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMalformed, outcome.Kind)
	assert.NotEmpty(t, outcome.Reason)
}

func TestValidateAnomaliesDedupedAndSorted(t *testing.T) {
	runner, replayer := newTestRunner(t)
	total := 2*sim.TicksPerMove + sim.WarmupTicks
	ticks := make([]sim.Tick, 0, total)
	for i := 0; i < total-1; i++ {
		tick := sim.Tick{State: sim.StatePlaying, ElapsedSubticks: i + 1}
		// The same anomaly reported on several ticks must collapse.
		tick.Anomalies = []sim.Anomaly{sim.AnomalyVoluntaryEject}
		ticks = append(ticks, tick)
	}
	ticks = append(ticks, sim.Tick{
		State: sim.StateWon, ElapsedSubticks: total, TimeLeftSubticks: 6000,
		Anomalies: []sim.Anomaly{sim.AnomalyDespawn},
	})
	replayer.SetScript("cc1", 34, sim.Script{Ticks: ticks})

	outcome, err := runner.Validate(context.Background(), testLevel, &datatypes.RouteFile{Moves: "ur"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []sim.Anomaly{sim.AnomalyDespawn, sim.AnomalyVoluntaryEject}, outcome.Anomalies)
}

func TestProgressCadence(t *testing.T) {
	runner, replayer := newTestRunner(t)
	const moveCount = 350
	replayer.SetScript("cc1", 34, sim.WonScript(moveCount, 6000, 0))

	var reported []float64
	_, err := runner.Validate(context.Background(), testLevel,
		&datatypes.RouteFile{Moves: strings.Repeat("u", moveCount)},
		func(_ context.Context, p float64) error {
			reported = append(reported, p)
			return nil
		})
	require.NoError(t, err)

	// 350 moves: callbacks after moves 100, 200, 300 only.
	require.Len(t, reported, 3)
	assert.InDelta(t, 100.0/350.0, reported[0], 1e-9)
	assert.InDelta(t, 200.0/350.0, reported[1], 1e-9)
	assert.InDelta(t, 300.0/350.0, reported[2], 1e-9)
}

func TestShortRouteNoProgress(t *testing.T) {
	runner, replayer := newTestRunner(t)
	replayer.SetScript("cc1", 34, sim.WonScript(99, 6000, 0))

	calls := 0
	_, err := runner.Validate(context.Background(), testLevel,
		&datatypes.RouteFile{Moves: strings.Repeat("u", 99)},
		func(context.Context, float64) error { calls++; return nil })
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestProgressErrorAborts(t *testing.T) {
	runner, replayer := newTestRunner(t)
	replayer.SetScript("cc1", 34, sim.WonScript(150, 6000, 0))

	boom := errors.New("client gone")
	_, err := runner.Validate(context.Background(), testLevel,
		&datatypes.RouteFile{Moves: strings.Repeat("u", 150)},
		func(context.Context, float64) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestSeedDefaults(t *testing.T) {
	// Routes without a Blobmod field replay with the canonical default.
	runner, replayer := newTestRunner(t)
	replayer.SetScript("cc1", 34, sim.WonScript(1, 6000, 0))

	outcome, err := runner.Validate(context.Background(), testLevel, &datatypes.RouteFile{Moves: "u"}, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWon, outcome.Kind)
}

func TestNonlegalGlitches(t *testing.T) {
	in := []sim.Anomaly{
		sim.AnomalyDynamiteFlick,
		sim.AnomalyDespawn,
		sim.AnomalyVoluntaryEject,
		sim.AnomalySimultaneousMovement,
	}
	assert.Equal(t,
		[]sim.Anomaly{sim.AnomalyDespawn, sim.AnomalySimultaneousMovement},
		NonlegalGlitches(in))
	assert.Empty(t, NonlegalGlitches([]sim.Anomaly{sim.AnomalyDynamiteFlick}))
}
