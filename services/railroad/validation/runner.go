// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation drives a candidate route through the simulator and
// classifies the result.
//
// The runner owns the anomaly legality table: the simulator reports what
// it observed, this package decides what disqualifies a route from
// mainline status. Keeping the table here means a legality change is a
// service deploy, never a simulator change.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
	"github.com/glanderclub/railroad/services/railroad/policy"
	"github.com/glanderclub/railroad/services/railroad/sim"
)

// ProgressInterval is the number of moves between progress callbacks.
// The callback is a deliberate suspension point: the runner waits for it
// to return before continuing, so a slow consumer throttles the replay
// instead of being flooded.
const ProgressInterval = 100

// OutcomeKind classifies a validation result.
type OutcomeKind int

const (
	// OutcomeWon means the route completes the level successfully.
	OutcomeWon OutcomeKind = iota

	// OutcomeNotWon means the simulation reached a terminal non-winning
	// state or ran out of declared input without winning.
	OutcomeNotWon

	// OutcomeMalformed means the candidate could not be parsed.
	OutcomeMalformed
)

// Outcome is the result of validating one candidate route.
type Outcome struct {
	Kind OutcomeKind

	// TimeLeft is the fractional seconds remaining at completion.
	// Only meaningful for OutcomeWon.
	TimeLeft float64

	// Points is the computed score. Only meaningful for OutcomeWon.
	Points int

	// AbsoluteTime is the wall-clock-equivalent run duration in seconds.
	AbsoluteTime float64

	// Anomalies is the de-duplicated, sorted set of anomaly categories
	// observed during replay.
	Anomalies []sim.Anomaly

	// Reason describes why a run was malformed.
	Reason string
}

// disqualifying is the fixed allow-list of anomaly categories that mark a
// winning route as non-mainline. Everything else is informational.
var disqualifying = map[sim.Anomaly]bool{
	sim.AnomalyDespawn:              true,
	sim.AnomalySimultaneousMovement: true,
}

// NonlegalGlitches returns the disqualifying subset of an observation
// set, preserving order.
func NonlegalGlitches(anomalies []sim.Anomaly) []sim.Anomaly {
	var out []sim.Anomaly
	for _, a := range anomalies {
		if disqualifying[a] {
			out = append(out, a)
		}
	}
	return out
}

// ProgressFunc receives fractional replay completion in [0, 1]. The
// runner blocks until it returns; returning an error aborts the replay.
type ProgressFunc func(ctx context.Context, progress float64) error

// Runner validates candidate routes against a simulator backend.
type Runner struct {
	replayer sim.Replayer
	logger   *slog.Logger
}

// NewRunner creates a validation runner.
func NewRunner(replayer sim.Replayer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{replayer: replayer, logger: logger}
}

// Validate replays the candidate against the level definition to
// completion or rejection. progress may be nil.
//
// A non-nil error reports a collaborator failure (simulator unreachable,
// stream broken); everything the client can be blamed for is expressed
// through the Outcome instead.
func (r *Runner) Validate(ctx context.Context, level sim.LevelDefinition, route *datatypes.RouteFile, progress ProgressFunc) (Outcome, error) {
	moves, err := sim.ParseMoves(route.Moves)
	if err != nil {
		return Outcome{Kind: OutcomeMalformed, Reason: err.Error()}, nil
	}

	seed := sim.SeedParams{BlobMod: sim.DefaultBlobMod}
	if route.InitialSlide != nil {
		seed.InitialSlide = *route.InitialSlide
	}
	if route.Blobmod != nil {
		seed.BlobMod = *route.Blobmod
	}

	stream, err := r.replayer.Replay(ctx, level, moves, seed)
	if err != nil {
		return Outcome{}, fmt.Errorf("start replay: %w", err)
	}
	defer stream.Close()

	// The simulator may not run past the declared input.
	maxTicks := len(moves)*sim.TicksPerMove + sim.WarmupTicks

	seen := make(map[sim.Anomaly]bool)
	var last sim.Tick
	won := false

	for tickN := 1; tickN <= maxTicks; tickN++ {
		tick, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("replay tick %d: %w", tickN, err)
		}
		last = tick
		for _, a := range tick.Anomalies {
			seen[a] = true
		}
		if tick.State == sim.StateWon {
			won = true
			break
		}
		if tick.State == sim.StateLost {
			break
		}

		// Report once per ProgressInterval completed moves, on the tick
		// that finishes the move.
		moveTicks := tickN - sim.WarmupTicks
		if progress != nil && moveTicks > 0 && moveTicks%(sim.TicksPerMove*ProgressInterval) == 0 {
			moveN := moveTicks / sim.TicksPerMove
			if err := progress(ctx, float64(moveN)/float64(len(moves))); err != nil {
				return Outcome{}, fmt.Errorf("progress callback: %w", err)
			}
		}
	}

	anomalies := make([]sim.Anomaly, 0, len(seen))
	for a := range seen {
		anomalies = append(anomalies, a)
	}
	sort.Slice(anomalies, func(i, j int) bool { return anomalies[i] < anomalies[j] })

	if !won {
		return Outcome{Kind: OutcomeNotWon, Anomalies: anomalies}, nil
	}

	timeLeft := float64(last.TimeLeftSubticks) / policy.SubticksPerSecond
	outcome := Outcome{
		Kind:         OutcomeWon,
		TimeLeft:     timeLeft,
		Points:       policy.LevelPoints(level.LevelN, policy.DisplayTime(timeLeft), last.BonusPoints),
		AbsoluteTime: float64(last.ElapsedSubticks) / policy.SubticksPerSecond,
		Anomalies:    anomalies,
	}
	r.logger.Debug("route validated",
		"set", level.SetName,
		"level", level.LevelN,
		"timeLeft", outcome.TimeLeft,
		"points", outcome.Points,
		"anomalies", len(anomalies),
	)
	return outcome, nil
}
