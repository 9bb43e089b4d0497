// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package commit turns a session's staged, validated routes into one
// persisted batch.
//
// A batch is all-or-nothing twice over: admissibility is checked for
// every candidate before anything is written, and the write itself is a
// single store transaction. A client either gets its whole submission
// accepted or a policy error per offending route and no change at all.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
	"github.com/glanderclub/railroad/services/railroad/notify"
	"github.com/glanderclub/railroad/services/railroad/observability"
	"github.com/glanderclub/railroad/services/railroad/policy"
	"github.com/glanderclub/railroad/services/railroad/protocol"
	"github.com/glanderclub/railroad/services/railroad/sim"
	"github.com/glanderclub/railroad/services/railroad/storage"
	"github.com/glanderclub/railroad/services/railroad/validation"
)

// Candidate is a validated route staged for commit. RouteID is the
// client's identifier for error attribution; the persisted route gets a
// fresh server-side id.
type Candidate struct {
	RouteID   string
	SetName   string
	LevelN    int
	Submitter string

	// Label is the client-chosen route label. Empty means the route
	// claims a mainline slot.
	Label string

	Moves        datatypes.MoveData
	TimeLeft     float64
	Points       int
	AbsoluteTime float64
	Anomalies    []sim.Anomaly
}

// Notifier receives post-commit announcements. Satisfied by
// *notify.Notifier.
type Notifier interface {
	AnnounceSubmissions(ctx context.Context, announcements []notify.Announcement)
}

// Coordinator owns the commit path.
type Coordinator struct {
	store    *storage.Store
	notifier Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewCoordinator creates a commit coordinator. notifier may be nil.
func NewCoordinator(store *storage.Store, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, notifier: notifier, metrics: metrics, logger: logger}
}

// mainlineState is a level's pre-commit winners, used both for
// admissibility and for post-commit announcements.
type mainlineState struct {
	level     *datatypes.Level
	time      *datatypes.Route
	score     *datatypes.Route
	boldTime  int
	boldScore int
}

// Commit persists a batch. A non-empty rejections slice means the batch
// was refused as a whole and nothing was written; err reports internal
// failures only.
func (c *Coordinator) Commit(ctx context.Context, candidates []Candidate) (rejections []*protocol.SubmissionError, err error) {
	defer func() {
		if c.metrics == nil {
			return
		}
		switch {
		case err != nil:
			c.metrics.CommitBatchesTotal.WithLabelValues(observability.CommitError).Inc()
		case len(rejections) > 0:
			c.metrics.CommitBatchesTotal.WithLabelValues(observability.CommitRejected).Inc()
		default:
			c.metrics.CommitBatchesTotal.WithLabelValues(observability.CommitCommitted).Inc()
			c.metrics.RoutesCommittedTotal.Add(float64(len(candidates)))
		}
	}()

	if len(candidates) == 0 {
		return nil, nil
	}

	// Refetch every touched level so admissibility is judged against the
	// current store state, not whatever the session saw at add time.
	states := make(map[levelRef]*mainlineState)
	for _, cand := range candidates {
		ref := levelRef{cand.SetName, cand.LevelN}
		if _, ok := states[ref]; ok {
			continue
		}
		state, err := c.loadState(ctx, ref)
		if err != nil {
			return nil, err
		}
		states[ref] = state
	}

	for i := range candidates {
		if serr := admissible(&candidates[i], states[levelRef{candidates[i].SetName, candidates[i].LevelN}]); serr != nil {
			rejections = append(rejections, serr)
		}
	}
	if len(rejections) > 0 {
		return rejections, nil
	}

	now := time.Now().UTC()
	committed := make(map[levelRef]*datatypes.Level)
	type appended struct {
		cand  *Candidate
		route datatypes.Route
		state *mainlineState
	}
	batch := make([]appended, 0, len(candidates))
	for i := range candidates {
		cand := &candidates[i]
		ref := levelRef{cand.SetName, cand.LevelN}
		state := states[ref]
		route := buildRoute(cand, now)
		state.level.Routes = append(state.level.Routes, route)
		committed[ref] = state.level
		batch = append(batch, appended{cand: cand, route: route, state: state})
	}

	// Announcements are built only after every candidate has landed, so
	// when a batch carries several routes for one level the mainline flags
	// reflect the post-commit winner, not an intermediate collection.
	announcements := make([]notify.Announcement, 0, len(batch))
	for _, a := range batch {
		announcements = append(announcements, buildAnnouncement(a.cand, a.route, a.state))
	}

	levels := make([]*datatypes.Level, 0, len(committed))
	for _, level := range committed {
		levels = append(levels, level)
	}
	if err := c.store.PutLevels(ctx, levels); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	c.logger.Info("batch committed", "routes", len(candidates), "levels", len(levels))

	if c.notifier != nil {
		// Announcements survive the request but must not outlive the
		// process gracelessly.
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
			defer cancel()
			c.notifier.AnnounceSubmissions(notifyCtx, announcements)
		}()
	}
	return nil, nil
}

type levelRef struct {
	set string
	n   int
}

func (c *Coordinator) loadState(ctx context.Context, ref levelRef) (*mainlineState, error) {
	level, err := c.store.GetLevel(ctx, ref.set, ref.n)
	if errors.Is(err, storage.ErrNotFound) {
		// First route ever submitted for this level.
		level = &datatypes.Level{SetName: ref.set, LevelN: ref.n}
	} else if err != nil {
		return nil, fmt.Errorf("load level %s #%d: %w", ref.set, ref.n, err)
	}

	state := &mainlineState{level: level, boldTime: level.BoldTime, boldScore: level.BoldScore}
	if r, ok := policy.Mainline(level.Routes, policy.MetricTime); ok {
		state.time = &r
	}
	if r, ok := policy.Mainline(level.Routes, policy.MetricScore); ok {
		state.score = &r
	}
	return state, nil
}

// admissible applies the label policy against the pre-commit state.
func admissible(cand *Candidate, state *mainlineState) *protocol.SubmissionError {
	if len(validation.NonlegalGlitches(cand.Anomalies)) > 0 {
		if cand.Label == "" {
			return &protocol.SubmissionError{
				Kind:    protocol.KindPolicy,
				RouteID: cand.RouteID,
				Message: "route uses nonlegal glitches and must carry a label",
			}
		}
		return nil
	}
	if cand.Label != "" {
		return nil
	}

	// An unlabeled route claims a mainline slot: it must tie or beat the
	// current mainline on at least one metric. A level with no mainline
	// accepts anything.
	if state.time == nil && state.score == nil {
		return nil
	}
	if state.time != nil && policy.CompareTime(cand.TimeLeft, state.time.TimeLeft) >= 0 {
		return nil
	}
	if state.score != nil && cand.Points >= state.score.Points {
		return nil
	}
	return &protocol.SubmissionError{
		Kind:    protocol.KindPolicy,
		RouteID: cand.RouteID,
		Message: "unlabeled route improves neither the time nor the score mainline",
	}
}

func buildRoute(cand *Candidate, now time.Time) datatypes.Route {
	glitches := make([]string, 0, len(cand.Anomalies))
	for _, a := range cand.Anomalies {
		glitches = append(glitches, string(a))
	}
	return datatypes.Route{
		ID:           uuid.NewString(),
		Moves:        cand.Moves,
		TimeLeft:     cand.TimeLeft,
		Points:       cand.Points,
		AbsoluteTime: cand.AbsoluteTime,
		RouteLabel:   cand.Label,
		Submitter:    cand.Submitter,
		CreatedAt:    now,
		IsMainline:   len(validation.NonlegalGlitches(cand.Anomalies)) == 0,
		Glitches:     glitches,
	}
}

func buildAnnouncement(cand *Candidate, route datatypes.Route, state *mainlineState) notify.Announcement {
	a := notify.Announcement{
		SetName:   cand.SetName,
		LevelN:    cand.LevelN,
		Title:     state.level.Title,
		Submitter: cand.Submitter,
		TimeLeft:  cand.TimeLeft,
		Points:    cand.Points,
		BoldTime:  state.boldTime,
		BoldScore: state.boldScore,
	}
	if !route.IsMainline {
		return a
	}
	if newTime, ok := policy.Mainline(state.level.Routes, policy.MetricTime); ok && newTime.ID == route.ID {
		a.NewTimeMainline = true
	}
	if newScore, ok := policy.Mainline(state.level.Routes, policy.MetricScore); ok && newScore.ID == route.ID {
		a.NewScoreMainline = true
	}
	return a
}
