// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session runs the websocket submission protocol.
//
// A session is driven by a single read loop, so every side effect of
// every message is fully applied before the next message is looked at.
// That loop is the protocol's serialization point; no other locking is
// needed inside a session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glanderclub/railroad/services/railroad/commit"
	"github.com/glanderclub/railroad/services/railroad/datatypes"
	"github.com/glanderclub/railroad/services/railroad/levelset"
	"github.com/glanderclub/railroad/services/railroad/observability"
	"github.com/glanderclub/railroad/services/railroad/policy"
	"github.com/glanderclub/railroad/services/railroad/protocol"
	"github.com/glanderclub/railroad/services/railroad/storage"
	"github.com/glanderclub/railroad/services/railroad/users"
	"github.com/glanderclub/railroad/services/railroad/validation"
)

// scriptNameToPack maps the external script names carried in route files
// to our internal pack names.
var scriptNameToPack = map[string]string{
	"Chips Challenge":                "cc1",
	"Chips Challenge 2":              "cc2",
	"Chips Challenge 2 Level Pack 1": "cc2lp1",
}

// Conn is the connection surface the session needs. Satisfied by
// *websocket.Conn.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Handler owns the collaborators shared by all sessions.
type Handler struct {
	users       *users.Service
	loader      *levelset.Loader
	runner      *validation.Runner
	coordinator *commit.Coordinator
	store       *storage.Store
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewHandler creates a session handler. metrics may be nil.
func NewHandler(
	userSvc *users.Service,
	loader *levelset.Loader,
	runner *validation.Runner,
	coordinator *commit.Coordinator,
	store *storage.Store,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		users:       userSvc,
		loader:      loader,
		runner:      runner,
		coordinator: coordinator,
		store:       store,
		metrics:     metrics,
		logger:      logger,
	}
}

type stagedRoute struct {
	routeID   string
	setName   string
	levelN    int
	file      datatypes.RouteFile
	outcome   validation.Outcome
}

type session struct {
	h    *Handler
	conn Conn
	log  *slog.Logger

	user *datatypes.User

	// staged keeps insertion order; commits are built in the order routes
	// were added.
	staged map[string]*stagedRoute
	order  []string
}

// Serve runs one session to connection close. It blocks for the life of
// the connection.
func (h *Handler) Serve(ctx context.Context, conn Conn) {
	if h.metrics != nil {
		h.metrics.ActiveSessions.Inc()
		defer h.metrics.ActiveSessions.Dec()
	}
	s := &session{
		h:      h,
		conn:   conn,
		log:    h.logger,
		staged: make(map[string]*stagedRoute),
	}
	defer conn.Close()
	s.run(ctx)
}

func (s *session) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Debug("session closed", "error", err)
			return
		}
		msg, err := protocol.DecodeClientMessage(raw)
		if err != nil {
			s.report(asSubmissionError(err))
			continue
		}
		s.dispatch(ctx, msg)
	}
}

func (s *session) dispatch(ctx context.Context, msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.Authenticate:
		s.handleAuthenticate(ctx, m)
	case protocol.AddRoute:
		s.handleAddRoute(ctx, m)
	case protocol.RemoveRoute:
		s.handleRemoveRoute(m)
	case protocol.Submit:
		s.handleSubmit(ctx, m)
	}
}

func (s *session) handleAuthenticate(ctx context.Context, msg protocol.Authenticate) {
	if s.user != nil {
		s.report(&protocol.SubmissionError{Kind: protocol.KindProtocol, Message: "session is already authenticated"})
		return
	}
	user, err := s.h.users.Resolve(ctx, msg.Token)
	if errors.Is(err, users.ErrBadCredentials) {
		s.report(&protocol.SubmissionError{Kind: protocol.KindProtocol, Message: "bad credentials"})
		return
	}
	if err != nil {
		s.internal("resolve credentials", err, "")
		return
	}
	s.user = user
	s.log = s.h.logger.With("user", user.UserName)
	s.log.Info("session authenticated")
	s.write(protocol.NewIdentityConfirmed(user.UserName))
}

func (s *session) handleAddRoute(ctx context.Context, msg protocol.AddRoute) {
	if s.user == nil {
		s.report(&protocol.SubmissionError{Kind: protocol.KindProtocol, Message: "authenticate first"})
		return
	}
	if msg.RouteID == "" {
		s.report(&protocol.SubmissionError{Kind: protocol.KindProtocol, Message: "add-route requires a routeId"})
		return
	}
	if _, dup := s.staged[msg.RouteID]; dup {
		s.report(&protocol.SubmissionError{
			Kind: protocol.KindProtocol, RouteID: msg.RouteID,
			Message: fmt.Sprintf("route id %q is already staged", msg.RouteID),
		})
		return
	}

	setName, levelN, serr := resolveTarget(&msg.Route, msg.RouteID)
	if serr != nil {
		s.report(serr)
		return
	}

	def, err := s.h.loader.Load(setName, levelN)
	if errors.Is(err, levelset.ErrLevelUnknown) {
		s.report(&protocol.SubmissionError{
			Kind: protocol.KindResolution, RouteID: msg.RouteID,
			Message: fmt.Sprintf("no level data for %s #%d", setName, levelN),
		})
		return
	}
	if err != nil {
		s.internal("load level definition", err, msg.RouteID)
		return
	}

	// The progress callback writes on the session connection; the runner
	// waits for each write, which throttles validation to what the client
	// actually consumes.
	start := time.Now()
	outcome, err := s.h.runner.Validate(ctx, def, &msg.Route, func(_ context.Context, p float64) error {
		return s.conn.WriteJSON(protocol.NewValidationProgress(msg.RouteID, p))
	})
	if s.h.metrics != nil {
		s.h.metrics.ValidationDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.countValidation(observability.OutcomeError)
		s.internal("validate route", err, msg.RouteID)
		return
	}

	switch outcome.Kind {
	case validation.OutcomeMalformed:
		s.countValidation(observability.OutcomeMalformed)
		s.report(&protocol.SubmissionError{
			Kind: protocol.KindRejection, RouteID: msg.RouteID,
			Message: "route is malformed: " + outcome.Reason,
		})
		return
	case validation.OutcomeNotWon:
		s.countValidation(observability.OutcomeNotWon)
		s.report(&protocol.SubmissionError{
			Kind: protocol.KindRejection, RouteID: msg.RouteID,
			Message: "route does not complete the level",
		})
		return
	}
	s.countValidation(observability.OutcomeWon)

	level, err := s.h.store.GetLevel(ctx, setName, levelN)
	if errors.Is(err, storage.ErrNotFound) {
		level = &datatypes.Level{SetName: setName, LevelN: levelN}
	} else if err != nil {
		s.internal("load level record", err, msg.RouteID)
		return
	}

	display := policy.DisplayTime(outcome.TimeLeft)
	if level.DisallowedTime > 0 && display >= level.DisallowedTime {
		s.report(&protocol.SubmissionError{
			Kind: protocol.KindRejection, RouteID: msg.RouteID,
			Message: fmt.Sprintf("time %d reaches the disallowed ceiling %d", display, level.DisallowedTime),
		})
		return
	}
	if level.DisallowedScore > 0 && outcome.Points >= level.DisallowedScore {
		s.report(&protocol.SubmissionError{
			Kind: protocol.KindRejection, RouteID: msg.RouteID,
			Message: fmt.Sprintf("score %d reaches the disallowed ceiling %d", outcome.Points, level.DisallowedScore),
		})
		return
	}

	s.staged[msg.RouteID] = &stagedRoute{
		routeID: msg.RouteID,
		setName: setName,
		levelN:  levelN,
		file:    msg.Route,
		outcome: outcome,
	}
	s.order = append(s.order, msg.RouteID)

	glitches := make([]string, 0, len(outcome.Anomalies))
	for _, a := range outcome.Anomalies {
		glitches = append(glitches, string(a))
	}
	s.write(protocol.NewLevelReport(
		msg.RouteID,
		protocol.ScoreMetrics{TimeLeft: display, Points: outcome.Points},
		protocol.ScoreMetrics{TimeLeft: level.BoldTime, Points: level.BoldScore},
		glitches,
	))
	s.log.Info("route staged", "routeId", msg.RouteID, "set", setName, "level", levelN)
}

func (s *session) handleRemoveRoute(msg protocol.RemoveRoute) {
	if s.user == nil {
		s.report(&protocol.SubmissionError{Kind: protocol.KindProtocol, Message: "authenticate first"})
		return
	}
	if _, ok := s.staged[msg.RouteID]; !ok {
		s.report(&protocol.SubmissionError{
			Kind: protocol.KindProtocol, RouteID: msg.RouteID,
			Message: fmt.Sprintf("route id %q is not staged", msg.RouteID),
		})
		return
	}
	delete(s.staged, msg.RouteID)
	for i, id := range s.order {
		if id == msg.RouteID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.log.Info("route unstaged", "routeId", msg.RouteID)
}

func (s *session) handleSubmit(ctx context.Context, msg protocol.Submit) {
	if s.user == nil {
		s.report(&protocol.SubmissionError{Kind: protocol.KindProtocol, Message: "authenticate first"})
		return
	}
	if len(s.staged) == 0 {
		s.report(&protocol.SubmissionError{Kind: protocol.KindProtocol, Message: "nothing staged to submit"})
		return
	}
	for id := range msg.Labels {
		if _, ok := s.staged[id]; !ok {
			s.report(&protocol.SubmissionError{
				Kind: protocol.KindProtocol, RouteID: id,
				Message: fmt.Sprintf("label references unknown route id %q", id),
			})
			return
		}
	}

	candidates := make([]commit.Candidate, 0, len(s.order))
	for _, id := range s.order {
		st := s.staged[id]
		candidates = append(candidates, commit.Candidate{
			RouteID:      st.routeID,
			SetName:      st.setName,
			LevelN:       st.levelN,
			Submitter:    s.user.UserName,
			Label:        msg.Labels[id],
			Moves:        st.file.MoveData(),
			TimeLeft:     st.outcome.TimeLeft,
			Points:       st.outcome.Points,
			AbsoluteTime: st.outcome.AbsoluteTime,
			Anomalies:    st.outcome.Anomalies,
		})
	}

	rejections, err := s.h.coordinator.Commit(ctx, candidates)
	if err != nil {
		s.internal("commit batch", err, "")
		return
	}
	if len(rejections) > 0 {
		// Candidates stay staged so the client can relabel or remove the
		// offenders and submit again.
		for _, r := range rejections {
			s.report(r)
		}
		return
	}

	s.log.Info("batch committed", "routes", len(candidates))
	s.staged = make(map[string]*stagedRoute)
	s.order = nil
	s.write(protocol.NewDone())
}

// resolveTarget maps a route file's For block to a pack and level number.
func resolveTarget(file *datatypes.RouteFile, routeID string) (string, int, *protocol.SubmissionError) {
	if file.Rule != "" && file.Rule != "steam" {
		return "", 0, &protocol.SubmissionError{
			Kind: protocol.KindResolution, RouteID: routeID,
			Message: fmt.Sprintf("unsupported ruleset %q", file.Rule),
		}
	}
	if file.For == nil || file.For.Set == "" {
		return "", 0, &protocol.SubmissionError{
			Kind: protocol.KindResolution, RouteID: routeID,
			Message: "route file does not identify its level set",
		}
	}
	pack, ok := scriptNameToPack[file.For.Set]
	if !ok {
		return "", 0, &protocol.SubmissionError{
			Kind: protocol.KindResolution, RouteID: routeID,
			Message: fmt.Sprintf("unknown level set %q", file.For.Set),
		}
	}
	if file.For.LevelNumber <= 0 {
		return "", 0, &protocol.SubmissionError{
			Kind: protocol.KindResolution, RouteID: routeID,
			Message: "route file does not identify its level number",
		}
	}
	return pack, file.For.LevelNumber, nil
}

func (s *session) countValidation(outcome string) {
	if s.h.metrics != nil {
		s.h.metrics.ValidationsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *session) report(serr *protocol.SubmissionError) {
	if serr.Kind == protocol.KindInternal {
		s.log.Error("session error", "kind", serr.Kind.String(), "routeId", serr.RouteID, "op", serr.Message, "error", serr.Err)
	} else {
		s.log.Info("session error", "kind", serr.Kind.String(), "routeId", serr.RouteID, "message", serr.Message)
	}
	s.write(serr.WireMessage())
}

func (s *session) internal(op string, err error, routeID string) {
	s.report(&protocol.SubmissionError{
		Kind: protocol.KindInternal, RouteID: routeID,
		Message: op, Err: err,
	})
}

func (s *session) write(v any) {
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Debug("session write failed", "error", err)
	}
}

func asSubmissionError(err error) *protocol.SubmissionError {
	var serr *protocol.SubmissionError
	if errors.As(err, &serr) {
		return serr
	}
	return &protocol.SubmissionError{Kind: protocol.KindProtocol, Message: err.Error()}
}
