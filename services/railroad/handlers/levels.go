// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers holds the HTTP surface of the railroad service.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
	"github.com/glanderclub/railroad/services/railroad/policy"
	"github.com/glanderclub/railroad/services/railroad/storage"
)

// routeView is the public shape of a stored route.
type routeView struct {
	ID           string   `json:"id"`
	Moves        string   `json:"moves"`
	TimeLeft     int      `json:"timeLeft"`
	Points       int      `json:"points"`
	AbsoluteTime float64  `json:"absoluteTime"`
	RouteLabel   string   `json:"routeLabel,omitempty"`
	Submitter    string   `json:"submitter"`
	CreatedAt    string   `json:"createdAt"`
	IsMainline   bool     `json:"isMainline"`
	Glitches     []string `json:"glitches,omitempty"`
}

type levelView struct {
	LevelN        int         `json:"level"`
	Title         string      `json:"title"`
	BoldTime      int         `json:"boldTime,omitempty"`
	BoldScore     int         `json:"boldScore,omitempty"`
	RouteCount    int         `json:"routeCount"`
	MainlineTime  *routeView  `json:"mainlineTimeRoute,omitempty"`
	MainlineScore *routeView  `json:"mainlineScoreRoute,omitempty"`
	Routes        []routeView `json:"routes,omitempty"`
}

func viewRoute(r *datatypes.Route) *routeView {
	return &routeView{
		ID:           r.ID,
		Moves:        r.Moves.Moves,
		TimeLeft:     policy.DisplayTime(r.TimeLeft),
		Points:       r.Points,
		AbsoluteTime: r.AbsoluteTime,
		RouteLabel:   r.RouteLabel,
		Submitter:    r.Submitter,
		CreatedAt:    r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		IsMainline:   r.IsMainline,
		Glitches:     r.Glitches,
	}
}

func viewLevel(level *datatypes.Level, includeRoutes, stripMoves bool) levelView {
	v := levelView{
		LevelN:     level.LevelN,
		Title:      level.Title,
		BoldTime:   level.BoldTime,
		BoldScore:  level.BoldScore,
		RouteCount: len(level.Routes),
	}
	if r, ok := policy.Mainline(level.Routes, policy.MetricTime); ok {
		v.MainlineTime = viewRoute(&r)
	}
	if r, ok := policy.Mainline(level.Routes, policy.MetricScore); ok {
		v.MainlineScore = viewRoute(&r)
	}
	if includeRoutes {
		v.Routes = make([]routeView, 0, len(level.Routes))
		for i := range level.Routes {
			v.Routes = append(v.Routes, *viewRoute(&level.Routes[i]))
		}
	}
	if stripMoves {
		if v.MainlineTime != nil {
			v.MainlineTime.Moves = ""
		}
		if v.MainlineScore != nil {
			v.MainlineScore.Moves = ""
		}
		for i := range v.Routes {
			v.Routes[i].Moves = ""
		}
	}
	return v
}

// stripMoves reports whether the request asked for route listings without
// the move strings, which dominate the payload on busy levels.
func stripMoves(c *gin.Context) bool {
	_, ok := c.GetQuery("noMoves")
	return ok
}

// ListPackLevels serves GET /railroad/packs/:pack: every level of a pack
// with its mainline representatives, without full route listings.
func ListPackLevels(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		levels, err := store.LevelsBySet(c.Request.Context(), c.Param("pack"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pack"})
			return
		}
		noMoves := stripMoves(c)
		views := make([]levelView, 0, len(levels))
		for i := range levels {
			views = append(views, viewLevel(&levels[i], false, noMoves))
		}
		c.JSON(http.StatusOK, gin.H{"pack": c.Param("pack"), "levels": views})
	}
}

// GetLevel serves GET /railroad/packs/:pack/:levelN: one level with its
// full route collection.
func GetLevel(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		levelN, err := strconv.Atoi(c.Param("levelN"))
		if err != nil || levelN <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "level number must be a positive integer"})
			return
		}
		level, err := store.GetLevel(c.Request.Context(), c.Param("pack"), levelN)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "level not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load level"})
			return
		}
		c.JSON(http.StatusOK, viewLevel(level, true, stripMoves(c)))
	}
}
