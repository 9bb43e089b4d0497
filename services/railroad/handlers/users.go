// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/glanderclub/railroad/services/railroad/storage"
	"github.com/glanderclub/railroad/services/railroad/users"
)

// userNamePattern bounds what we accept as a user name: word characters,
// dashes and dots, 2 to 32 long.
var userNamePattern = regexp.MustCompile(`^[\w.-]{2,32}$`)

type registerRequest struct {
	UserName string `json:"userName" binding:"required"`
}

// UserNotifier announces registrations. Satisfied by *notify.Notifier.
type UserNotifier interface {
	AnnounceNewUser(ctx context.Context, userName string, totalUsers int)
}

// RegisterUser serves POST /railroad/users. The response carries the
// generated auth id; it is shown exactly once and never retrievable.
func RegisterUser(svc *users.Service, store *storage.Store, notifier UserNotifier, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userName is required"})
			return
		}
		if !userNamePattern.MatchString(req.UserName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userName must be 2-32 word characters"})
			return
		}

		reg, err := svc.Register(c.Request.Context(), req.UserName)
		if errors.Is(err, users.ErrNameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "user name already taken"})
			return
		}
		if err != nil {
			logger.Error("registration failed", "user", req.UserName, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}

		if notifier != nil {
			total, err := store.CountUsers(c.Request.Context())
			if err != nil {
				total = 0
			}
			go notifier.AnnounceNewUser(context.WithoutCancel(c.Request.Context()), reg.User.UserName, total)
		}

		c.JSON(http.StatusCreated, gin.H{
			"userName": reg.User.UserName,
			"authId":   reg.AuthID,
		})
	}
}

// GetUser serves GET /railroad/users/:username with public profile data
// only; the credential hash never leaves the store.
func GetUser(store *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := store.GetUser(c.Request.Context(), c.Param("username"))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"userName":  user.UserName,
			"createdAt": user.CreatedAt.Format(time.RFC3339),
		})
	}
}
