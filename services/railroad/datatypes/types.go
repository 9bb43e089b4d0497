// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the persisted document types shared by the
// railroad service: levels, routes, and users.
//
// Levels are the unit of persistence. A Level document embeds its full
// route collection; routes are appended at commit time and never removed.
// Mainline representatives are NOT stored on the document. They are
// recomputed from the route collection on demand (see the policy package)
// so a stale cached winner can never leak out of the store.
package datatypes

import "time"

// MoveData is the replayable input sequence of a route plus the seed
// parameters the simulator needs to reproduce the original run.
type MoveData struct {
	// Moves is the encoded input string. One character per move, with
	// optional modifier characters (p, c, s) prefixed to the move they
	// belong to.
	Moves string `json:"moves"`

	// InitialSlide is the initial random force floor direction.
	// Nil means the simulator default.
	InitialSlide *int `json:"randomForceFloorDirection,omitempty"`

	// BlobMod seeds blob movement only, unlike a full RNG seed.
	// Nil means the simulator default.
	BlobMod *int `json:"blobMod,omitempty"`
}

// Route is a verified play-through of a level. Immutable after persistence
// except for the label assigned at commit time.
type Route struct {
	ID string `json:"id"`

	Moves MoveData `json:"moves"`

	// TimeLeft is the fractional tick-derived seconds remaining at
	// completion. Display truncates this to whole seconds; the fractional
	// remainder ("extra ticks") only matters for tie-breaking.
	TimeLeft float64 `json:"timeLeft"`

	// Points is the integer score of the run.
	Points int `json:"points"`

	// AbsoluteTime is the wall-clock-equivalent duration of the run in
	// seconds.
	AbsoluteTime float64 `json:"absoluteTime"`

	// RouteLabel is a free-text tag. Empty means the route is a generic
	// mainline candidate.
	RouteLabel string `json:"routeLabel,omitempty"`

	// Submitter is the user name of the submitting user.
	Submitter string `json:"submitter"`

	CreatedAt time.Time `json:"createdAt"`

	// IsMainline is true iff validation observed zero disqualifying
	// anomalies. Label-independent: a labeled clean route stays eligible
	// for mainline selection. Routes with IsMainline false can never be
	// promoted.
	IsMainline bool `json:"isMainline"`

	// Glitches lists every anomaly category observed during replay,
	// disqualifying or not, for transparency.
	Glitches []string `json:"glitches,omitempty"`
}

// Level is a single puzzle level of a set, identified by (SetName, LevelN).
type Level struct {
	SetName string `json:"setName"`
	LevelN  int    `json:"levelN"`
	Title   string `json:"title"`

	// TimeLimit is the level clock in seconds, from the level catalog.
	TimeLimit int `json:"timeLimit,omitempty"`

	// BoldTime and BoldScore are the best community-known values, sourced
	// from the external catalog. Display comparison only, never policy.
	BoldTime  int `json:"boldTime,omitempty"`
	BoldScore int `json:"boldScore,omitempty"`

	// DisallowedTime and DisallowedScore are optional ceilings guarding
	// against degenerate results. A validated result at or above a set
	// ceiling is rejected outright. Zero means unset.
	DisallowedTime  int `json:"disallowedTime,omitempty"`
	DisallowedScore int `json:"disallowedScore,omitempty"`

	Routes []Route `json:"routes"`
}

// User is a stable identity referenced by Route.Submitter.
type User struct {
	UserName string `json:"userName"`

	// Hash is the argon2id-encoded credential, never the credential itself.
	Hash string `json:"hash"`

	Admin bool `json:"admin"`

	CreatedAt time.Time `json:"createdAt"`
}
