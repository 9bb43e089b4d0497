// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/glanderclub/railroad/pkg/logging"
	"github.com/glanderclub/railroad/services/railroad/config"
	"github.com/glanderclub/railroad/services/railroad/datatypes"
	"github.com/glanderclub/railroad/services/railroad/levelset"
	"github.com/glanderclub/railroad/services/railroad/sim"
	"github.com/glanderclub/railroad/services/railroad/storage"
	"github.com/glanderclub/railroad/services/railroad/validation"
)

// runVerifyRoutes replays every stored route and refreshes its recorded
// result from what the simulator produces now. Routes that no longer
// parse or no longer win are reported but left untouched for manual
// review. Used after level data fixes or simulator upgrades.
func runVerifyRoutes(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, closeLog := logging.New(logging.Config{Level: cfg.Logging.Level, Service: "railroad"})
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, Logger: logger})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	loader, err := levelset.NewLoader(cfg.Levels.Dir, logger)
	if err != nil {
		return err
	}
	defer func() { _ = loader.Close() }()

	replayer := sim.NewHTTPReplayer(cfg.Simulator.URL, nil)
	if err := replayer.Healthy(ctx); err != nil {
		return fmt.Errorf("simulator not reachable: %w", err)
	}
	runner := validation.NewRunner(replayer, logger)

	levels, err := store.AllLevels(ctx)
	if err != nil {
		return err
	}

	checked, refreshed, broken := 0, 0, 0
	var changed []*datatypes.Level
	for i := range levels {
		level := &levels[i]
		def, err := loader.Load(level.SetName, level.LevelN)
		if err != nil {
			logger.Warn("skipping level without definition",
				"set", level.SetName, "level", level.LevelN, "error", err)
			continue
		}
		levelChanged := false
		for j := range level.Routes {
			route := &level.Routes[j]
			checked++
			ok, updated, reason, err := refreshRoute(ctx, runner, def, route)
			if err != nil {
				return fmt.Errorf("replay %s #%d route %s: %w", level.SetName, level.LevelN, route.ID, err)
			}
			if !ok {
				broken++
				fmt.Printf("BROKEN %s #%d route %s (%s): %s\n",
					level.SetName, level.LevelN, route.ID, route.Submitter, reason)
				continue
			}
			if updated {
				refreshed++
				levelChanged = true
				fmt.Printf("REFRESHED %s #%d route %s (%s): %s\n",
					level.SetName, level.LevelN, route.ID, route.Submitter, reason)
			}
		}
		if levelChanged {
			changed = append(changed, level)
		}
	}

	if len(changed) > 0 {
		if err := store.PutLevels(ctx, changed); err != nil {
			return fmt.Errorf("persist refreshed levels: %w", err)
		}
	}

	fmt.Printf("checked %d routes: %d refreshed, %d broken\n", checked, refreshed, broken)
	if broken > 0 {
		return fmt.Errorf("%d routes failed verification", broken)
	}
	return nil
}

// refreshRoute re-validates one stored route and rewrites its recorded
// metrics and glitch set in place when they drifted. Returns ok=false for
// routes that no longer parse or win.
func refreshRoute(ctx context.Context, runner *validation.Runner, def sim.LevelDefinition, route *datatypes.Route) (ok, updated bool, reason string, err error) {
	file := &datatypes.RouteFile{
		Moves:        route.Moves.Moves,
		InitialSlide: route.Moves.InitialSlide,
		Blobmod:      route.Moves.BlobMod,
	}
	outcome, err := runner.Validate(ctx, def, file, nil)
	if err != nil {
		return false, false, "", err
	}
	switch outcome.Kind {
	case validation.OutcomeMalformed:
		return false, false, "stored moves no longer parse: " + outcome.Reason, nil
	case validation.OutcomeNotWon:
		return false, false, "route no longer completes the level", nil
	}

	glitches := make([]string, 0, len(outcome.Anomalies))
	for _, a := range outcome.Anomalies {
		glitches = append(glitches, string(a))
	}
	mainline := len(validation.NonlegalGlitches(outcome.Anomalies)) == 0

	// Time drift within half a subtick is rounding noise, anything more
	// means the simulation changed under this route.
	timeDrift := math.Abs(outcome.TimeLeft-route.TimeLeft) > 1.0/(2*60)
	if !timeDrift && outcome.Points == route.Points &&
		route.IsMainline == mainline && equalStrings(route.Glitches, glitches) {
		return true, false, "", nil
	}

	reason = fmt.Sprintf("time %.4f→%.4f, points %d→%d, mainline %t→%t",
		route.TimeLeft, outcome.TimeLeft, route.Points, outcome.Points,
		route.IsMainline, mainline)
	route.TimeLeft = outcome.TimeLeft
	route.Points = outcome.Points
	route.AbsoluteTime = outcome.AbsoluteTime
	route.Glitches = glitches
	route.IsMainline = mainline
	return true, true, reason, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
