// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy computes which route of a level is the authoritative
// mainline representative per tracked metric.
//
// The functions here are pure and deliberately order-independent: apart
// from the explicit recency tie-break they give the same answer for any
// permutation of the input slice. Mainline winners are recomputed from
// the persisted route collection at every decision point instead of being
// cached on a document, so they can never go stale.
package policy

import (
	"math"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
)

// Metric selects which per-level ranking to compute.
type Metric string

const (
	MetricTime  Metric = "time"
	MetricScore Metric = "score"
)

// SubticksPerSecond is the simulator clock resolution. A tick is three
// subticks; twenty ticks make one displayed second.
const SubticksPerSecond = 60

// ExtraTicks is the sub-second remainder of a completion time expressed
// in ticks. Two routes displaying the same whole-second time differ by
// their extra ticks: the larger remainder finished closer to the start of
// the displayed second and wins the tie.
func ExtraTicks(timeLeft float64) float64 {
	return math.Round(math.Mod(timeLeft-0.05, 1)*SubticksPerSecond) / 3
}

// DisplayTime is the whole-second value shown for a fractional time.
func DisplayTime(timeLeft float64) int {
	return int(math.Ceil(timeLeft))
}

// LevelPoints computes the score of a completed run from the level
// number, the ceiling-rounded remaining seconds, and the bonus accrued
// during play.
func LevelPoints(levelN, ceilTimeLeft, bonus int) int {
	return levelN*500 + ceilTimeLeft*10 + bonus
}

// CompareTime ranks two completion times on the time metric: -1 when a
// is worse than b, 0 when they tie, +1 when a is better. Higher displayed
// time wins; within a displayed second the larger extra ticks remainder
// finished earlier and wins.
func CompareTime(a, b float64) int {
	da, db := DisplayTime(a), DisplayTime(b)
	if da != db {
		if da > db {
			return 1
		}
		return -1
	}
	ea, eb := ExtraTicks(a), ExtraTicks(b)
	if ea != eb {
		if ea > eb {
			return 1
		}
		return -1
	}
	return 0
}

// beatsTime reports whether a ranks strictly above b on the time metric.
// Time ties fall back to the later submission, then to the larger id as a
// final determinism anchor for pathological equal-timestamp inputs.
func beatsTime(a, b *datatypes.Route) bool {
	if cmp := CompareTime(a.TimeLeft, b.TimeLeft); cmp != 0 {
		return cmp > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// beatsScore reports whether a ranks strictly above b on the score
// metric. Points have no fractional tie-break; ties fall back to the most
// recent submission, then to the larger id.
func beatsScore(a, b *datatypes.Route) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func best(routes []datatypes.Route, beats func(a, b *datatypes.Route) bool) *datatypes.Route {
	var winner *datatypes.Route
	for i := range routes {
		r := &routes[i]
		if !r.IsMainline {
			continue
		}
		if winner == nil || beats(r, winner) {
			winner = r
		}
	}
	return winner
}

// Mainline returns the mainline representative of a route collection for
// the given metric, or false if no eligible route exists. Only routes
// with IsMainline set are candidates.
//
// When the score winner and the time winner carry identical points, the
// time winner also represents the score metric, keeping a single
// canonical mainline instead of an unnecessary split.
func Mainline(routes []datatypes.Route, metric Metric) (datatypes.Route, bool) {
	timeRoute := best(routes, beatsTime)
	if metric == MetricTime {
		if timeRoute == nil {
			return datatypes.Route{}, false
		}
		return *timeRoute, true
	}

	scoreRoute := best(routes, beatsScore)
	if scoreRoute == nil {
		return datatypes.Route{}, false
	}
	if timeRoute != nil && timeRoute.Points == scoreRoute.Points {
		return *timeRoute, true
	}
	return *scoreRoute, true
}
