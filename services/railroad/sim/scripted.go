// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sim

import (
	"context"
	"io"
	"sync"
)

// Script is a canned replay outcome keyed by (set, level). Used by the
// scripted replayer in tests and in development deployments that run
// without a simulator service.
type Script struct {
	// Ticks are emitted verbatim, in order. If the run should be won, the
	// final tick carries StateWon.
	Ticks []Tick
}

// ScriptedReplayer replays from a table of canned scripts instead of a
// real simulation. The zero value replays nothing; register scripts with
// SetScript.
type ScriptedReplayer struct {
	mu      sync.Mutex
	scripts map[levelKey]Script
}

type levelKey struct {
	set string
	n   int
}

// NewScriptedReplayer returns an empty scripted replayer.
func NewScriptedReplayer() *ScriptedReplayer {
	return &ScriptedReplayer{scripts: make(map[levelKey]Script)}
}

// SetScript registers the canned outcome for a level.
func (r *ScriptedReplayer) SetScript(setName string, levelN int, script Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[levelKey{setName, levelN}] = script
}

// Replay yields the registered script for the level. An unregistered
// level replays as an immediately lost run.
func (r *ScriptedReplayer) Replay(_ context.Context, level LevelDefinition, moves []MoveInput, _ SeedParams) (TickStream, error) {
	r.mu.Lock()
	script, ok := r.scripts[levelKey{level.SetName, level.LevelN}]
	r.mu.Unlock()
	if !ok {
		script = Script{Ticks: []Tick{{State: StateLost}}}
	}
	return &scriptedStream{ticks: script.Ticks}, nil
}

type scriptedStream struct {
	ticks []Tick
	pos   int
}

func (s *scriptedStream) Next(ctx context.Context) (Tick, error) {
	if err := ctx.Err(); err != nil {
		return Tick{}, err
	}
	if s.pos >= len(s.ticks) {
		return Tick{}, io.EOF
	}
	t := s.ticks[s.pos]
	s.pos++
	return t, nil
}

func (s *scriptedStream) Close() error {
	return nil
}

// WonScript builds a minimal winning script: the run plays for the given
// number of moves and ends won with the given clock, bonus, and anomaly
// observations spread over the final tick.
func WonScript(moves int, timeLeftSubticks, bonus int, anomalies ...Anomaly) Script {
	total := moves*TicksPerMove + WarmupTicks
	ticks := make([]Tick, 0, total)
	for i := 0; i < total-1; i++ {
		ticks = append(ticks, Tick{State: StatePlaying, ElapsedSubticks: i + 1})
	}
	ticks = append(ticks, Tick{
		State:            StateWon,
		ElapsedSubticks:  total,
		TimeLeftSubticks: timeLeftSubticks,
		BonusPoints:      bonus,
		Anomalies:        anomalies,
	})
	return Script{Ticks: ticks}
}

// LostScript builds a script that plays for the given number of moves and
// ends in a terminal non-winning state.
func LostScript(moves int) Script {
	total := moves*TicksPerMove + WarmupTicks
	ticks := make([]Tick, 0, total)
	for i := 0; i < total-1; i++ {
		ticks = append(ticks, Tick{State: StatePlaying, ElapsedSubticks: i + 1})
	}
	ticks = append(ticks, Tick{State: StateLost, ElapsedSubticks: total})
	return Script{Ticks: ticks}
}
