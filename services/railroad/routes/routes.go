// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glanderclub/railroad/services/railroad/handlers"
	"github.com/glanderclub/railroad/services/railroad/session"
	"github.com/glanderclub/railroad/services/railroad/storage"
	"github.com/glanderclub/railroad/services/railroad/users"
)

// Deps bundles everything the route table needs.
type Deps struct {
	Store        *storage.Store
	Users        *users.Service
	Session      *session.Handler
	UserNotifier handlers.UserNotifier
	Logger       *slog.Logger
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	railroad := router.Group("/railroad")
	{
		railroad.GET("/routes", handlers.RouteSubmission(deps.Session, deps.Logger))

		railroad.GET("/packs/:pack", handlers.ListPackLevels(deps.Store))
		railroad.GET("/packs/:pack/:levelN", handlers.GetLevel(deps.Store))

		railroad.POST("/users", handlers.RegisterUser(deps.Users, deps.Store, deps.UserNotifier, deps.Logger))
		railroad.GET("/users/:username", handlers.GetUser(deps.Store))

		railroad.GET("/trivia", handlers.Trivia(deps.Store))
	}
}
