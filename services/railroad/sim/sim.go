// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sim defines the contract between the railroad service and the
// level simulator.
//
// The simulator is an external collaborator. The service never inspects
// its internals; it consumes a stream of ticks exposing the outcome
// state, the level clock, accrued bonus, and newly observed anomaly
// events. Which anomalies disqualify a route from mainline status is
// policy owned by the validation package, not simulator behavior.
package sim

import (
	"context"
	"encoding/json"
	"errors"
)

// GameState is the outcome state of a run after a tick.
type GameState int

const (
	StatePlaying GameState = iota
	StateWon
	StateLost
)

// UnmarshalJSON accepts the wire names used by the simulator service.
func (s *GameState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "playing":
		*s = StatePlaying
	case "won":
		*s = StateWon
	case "lost":
		*s = StateLost
	default:
		return errors.New("unknown game state " + name)
	}
	return nil
}

// MarshalJSON emits the wire names used by the simulator service.
func (s GameState) MarshalJSON() ([]byte, error) {
	switch s {
	case StateWon:
		return json.Marshal("won")
	case StateLost:
		return json.Marshal("lost")
	default:
		return json.Marshal("playing")
	}
}

// Anomaly is a named category of simulator-observed behavior.
type Anomaly string

const (
	AnomalyDespawn              Anomaly = "despawn"
	AnomalySimultaneousMovement Anomaly = "simultaneous_character_movement"
	AnomalyDynamiteFlick        Anomaly = "dynamite_flick"
	AnomalyVoluntaryEject       Anomaly = "voluntary_eject"
)

// SeedParams carries the randomness parameters of a replay.
type SeedParams struct {
	// InitialSlide is the initial random force floor direction.
	InitialSlide int `json:"initialSlide"`

	// BlobMod seeds blob movement only.
	BlobMod int `json:"blobMod"`
}

// DefaultBlobMod is applied when a route file carries no Blobmod field.
const DefaultBlobMod = 0x88

// LevelDefinition is the opaque level payload handed to the simulator.
// The service only reads the identification and clock fields; Data is
// passed through untouched.
type LevelDefinition struct {
	SetName   string          `json:"setName"`
	LevelN    int             `json:"levelN"`
	TimeLimit int             `json:"timeLimit"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Tick is the per-step observation exposed by the simulator.
type Tick struct {
	State GameState `json:"state"`

	// TimeLeftSubticks is the level clock in subticks (60 per second).
	TimeLeftSubticks int `json:"timeLeftSubticks"`

	// ElapsedSubticks is the wall-clock-equivalent run length so far.
	ElapsedSubticks int `json:"elapsedSubticks"`

	// BonusPoints is the bonus accrued so far.
	BonusPoints int `json:"bonusPoints"`

	// Anomalies are the categories newly observed during this tick.
	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// TickStream yields replay ticks one at a time. Next returns io.EOF once
// the simulator has consumed the full move sequence.
type TickStream interface {
	Next(ctx context.Context) (Tick, error)
	Close() error
}

// Replayer drives a move sequence through a level.
type Replayer interface {
	Replay(ctx context.Context, level LevelDefinition, moves []MoveInput, seed SeedParams) (TickStream, error)
}

// MoveInput is one decoded move of a route's input sequence.
type MoveInput struct {
	Up             bool `json:"up,omitempty"`
	Right          bool `json:"right,omitempty"`
	Down           bool `json:"down,omitempty"`
	Left           bool `json:"left,omitempty"`
	Drop           bool `json:"drop,omitempty"`
	RotateInv      bool `json:"rotateInv,omitempty"`
	SwitchPlayable bool `json:"switchPlayable,omitempty"`
}

// TicksPerMove is the number of simulator ticks consumed per move.
const TicksPerMove = 3

// WarmupTicks run before the first move is fed in.
const WarmupTicks = 2

// isModifier reports whether c prefixes the move character that follows
// it rather than standing on its own.
func isModifier(c byte) bool {
	return c == 'p' || c == 'c' || c == 's'
}

// ParseMoves decodes an encoded move string into per-move inputs. A move
// is a run of modifier characters (p = drop, c = rotate inventory,
// s = switch playable) terminated by a single non-modifier character:
// a direction (u, r, d, l) or anything else, which reads as a wait.
// Treating unknown terminators as waits keeps historical route files
// replayable regardless of which wait character their exporter used.
func ParseMoves(encoded string) ([]MoveInput, error) {
	if encoded == "" {
		return nil, errors.New("empty move string")
	}
	var moves []MoveInput
	var current MoveInput
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		switch c {
		case 'p':
			current.Drop = true
		case 'c':
			current.RotateInv = true
		case 's':
			current.SwitchPlayable = true
		case 'u':
			current.Up = true
		case 'r':
			current.Right = true
		case 'd':
			current.Down = true
		case 'l':
			current.Left = true
		default:
			// wait move, no direction
		}
		if !isModifier(c) {
			moves = append(moves, current)
			current = MoveInput{}
		}
	}
	if isModifier(encoded[len(encoded)-1]) {
		return nil, errors.New("move string ends with a dangling modifier")
	}
	return moves, nil
}
