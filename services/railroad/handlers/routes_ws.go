// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/glanderclub/railroad/services/railroad/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Route submission clients are desktop tools, not browsers; origin
	// checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RouteSubmission serves GET /railroad/routes: upgrades to a websocket
// and runs the submission session to connection close.
func RouteSubmission(h *session.Handler, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		h.Serve(c.Request.Context(), conn)
	}
}
