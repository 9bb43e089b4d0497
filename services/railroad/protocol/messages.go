// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package protocol defines the websocket wire format of the route
// submission endpoint and the error taxonomy shared by the session,
// validation, and commit layers.
//
// Every message is a JSON record tagged by a "type" field. Client
// messages decode into a closed set of typed structs so that dispatch is
// an exhaustive type switch rather than stringly-typed branching; a new
// message kind cannot be half-wired without the compiler noticing.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
)

// Client message type tags.
const (
	TypeAuthenticate = "authenticate"
	TypeAddRoute     = "add-route"
	TypeRemoveRoute  = "remove-route"
	TypeSubmit       = "submit"
)

// Server message type tags.
const (
	TypeIdentityConfirmed  = "identity-confirmed"
	TypeValidationProgress = "validation-progress"
	TypeLevelReport        = "level-report"
	TypeError              = "error"
	TypeDone               = "done"
)

// ClientMessage is the closed union of messages a client may send.
type ClientMessage interface {
	clientMessage()
}

// Authenticate asserts the client's identity with an opaque credential
// token. It is the only message accepted before the session is
// authenticated.
type Authenticate struct {
	Token string `json:"token"`
}

// AddRoute stages a candidate route under a client-chosen correlation id.
type AddRoute struct {
	RouteID string              `json:"routeId"`
	Route   datatypes.RouteFile `json:"route"`
}

// RemoveRoute drops a staged candidate.
type RemoveRoute struct {
	RouteID string `json:"routeId"`
}

// Submit labels every staged candidate and requests an all-or-nothing
// commit. Keys are correlation ids; an absent or empty value requests
// mainline status.
type Submit struct {
	Labels map[string]string `json:"labels"`
}

func (Authenticate) clientMessage() {}
func (AddRoute) clientMessage()     {}
func (RemoveRoute) clientMessage()  {}
func (Submit) clientMessage()       {}

type envelope struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses a raw inbound frame into its typed form.
// Unknown or malformed frames produce a ProtocolError.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &SubmissionError{Kind: KindProtocol, Message: "malformed message"}
	}
	switch env.Type {
	case TypeAuthenticate:
		var msg Authenticate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &SubmissionError{Kind: KindProtocol, Message: "malformed authenticate message"}
		}
		return msg, nil
	case TypeAddRoute:
		var msg AddRoute
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &SubmissionError{Kind: KindProtocol, Message: "malformed add-route message"}
		}
		return msg, nil
	case TypeRemoveRoute:
		var msg RemoveRoute
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &SubmissionError{Kind: KindProtocol, Message: "malformed remove-route message"}
		}
		return msg, nil
	case TypeSubmit:
		var msg Submit
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, &SubmissionError{Kind: KindProtocol, Message: "malformed submit message"}
		}
		return msg, nil
	default:
		return nil, &SubmissionError{
			Kind:    KindProtocol,
			Message: fmt.Sprintf("unknown message type %q", env.Type),
		}
	}
}

// ScoreMetrics is the displayed metric pair of a validated run. TimeLeft
// is the whole-second (ceiling) display value; the fractional remainder
// stays server-side.
type ScoreMetrics struct {
	TimeLeft int `json:"timeLeft"`
	Points   int `json:"points"`
}

// IdentityConfirmed acknowledges a successful Authenticate.
type IdentityConfirmed struct {
	Type     string `json:"type"`
	UserName string `json:"userName"`
}

// ValidationProgress reports fractional replay completion for a staged
// candidate. Emitted at a bounded cadence, never per simulated step.
type ValidationProgress struct {
	Type     string  `json:"type"`
	RouteID  string  `json:"routeId"`
	Progress float64 `json:"progress"`
}

// LevelReport is the successful validation result for a candidate,
// including a bold comparison snapshot taken at validation time.
type LevelReport struct {
	Type        string       `json:"type"`
	RouteID     string       `json:"routeId"`
	Metrics     ScoreMetrics `json:"metrics"`
	BoldMetrics ScoreMetrics `json:"boldMetrics"`
	Glitches    []string     `json:"glitches,omitempty"`
}

// ErrorMessage reports a failure to the client. InvalidatesRoute marks the
// referenced candidate as non-retryable without a fix.
type ErrorMessage struct {
	Type             string `json:"type"`
	RouteID          string `json:"routeId,omitempty"`
	Error            string `json:"error"`
	InvalidatesRoute bool   `json:"invalidatesRoute,omitempty"`
}

// Done acknowledges a fully committed submit batch.
type Done struct {
	Type string `json:"type"`
}

// NewIdentityConfirmed builds an identity-confirmed message.
func NewIdentityConfirmed(userName string) IdentityConfirmed {
	return IdentityConfirmed{Type: TypeIdentityConfirmed, UserName: userName}
}

// NewValidationProgress builds a validation-progress message.
func NewValidationProgress(routeID string, progress float64) ValidationProgress {
	return ValidationProgress{Type: TypeValidationProgress, RouteID: routeID, Progress: progress}
}

// NewLevelReport builds a level-report message.
func NewLevelReport(routeID string, metrics, bold ScoreMetrics, glitches []string) LevelReport {
	return LevelReport{
		Type:        TypeLevelReport,
		RouteID:     routeID,
		Metrics:     metrics,
		BoldMetrics: bold,
		Glitches:    glitches,
	}
}

// NewDone builds a done message.
func NewDone() Done {
	return Done{Type: TypeDone}
}
