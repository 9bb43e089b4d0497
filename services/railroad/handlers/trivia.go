// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glanderclub/railroad/services/railroad/storage"
)

type packTrivia struct {
	Routes          int `json:"routes"`
	LevelsWithRoute int `json:"levelsWithRoute"`
}

// Trivia serves GET /railroad/trivia: site-wide aggregates. This walks
// every level document; acceptable because the whole corpus is small and
// the endpoint is cold.
func Trivia(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		levels, err := store.AllLevels(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load levels"})
			return
		}
		userCount, err := store.CountUsers(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count users"})
			return
		}

		totalRoutes := 0
		mainlineRoutes := 0
		submitters := make(map[string]bool)
		perPack := make(map[string]*packTrivia)
		for i := range levels {
			level := &levels[i]
			pt := perPack[level.SetName]
			if pt == nil {
				pt = &packTrivia{}
				perPack[level.SetName] = pt
			}
			if len(level.Routes) > 0 {
				pt.LevelsWithRoute++
			}
			pt.Routes += len(level.Routes)
			totalRoutes += len(level.Routes)
			for j := range level.Routes {
				if level.Routes[j].IsMainline {
					mainlineRoutes++
				}
				submitters[level.Routes[j].Submitter] = true
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"users":          userCount,
			"routes":         totalRoutes,
			"mainlineRoutes": mainlineRoutes,
			"submitters":     len(submitters),
			"packs":          perPack,
		})
	}
}
