// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package protocol

import "fmt"

// ErrorKind classifies a submission failure. The kind decides how the
// failure is reported and whether the affected candidate survives it.
type ErrorKind int

const (
	// KindProtocol is a malformed or unexpected message. Reported, the
	// connection stays open, no candidate is affected.
	KindProtocol ErrorKind = iota

	// KindResolution means a route could not be matched to a level. The
	// candidate is invalidated.
	KindResolution

	// KindRejection means the level was not won, or the result reached a
	// disallowed ceiling. The candidate is invalidated.
	KindRejection

	// KindPolicy is a label or mainline-eligibility failure at submit
	// time. Reported per candidate; the whole batch aborts but candidates
	// stay staged for a corrected retry.
	KindPolicy

	// KindInternal is an unexpected collaborator failure. Logged
	// server-side, reported opaquely, connection remains usable.
	KindInternal
)

// String returns the kind name used in logs.
func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindResolution:
		return "resolution"
	case KindRejection:
		return "rejection"
	case KindPolicy:
		return "policy"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// SubmissionError is a client-reportable failure. Every error that drops
// a client-visible candidate is surfaced as one of these; nothing fails
// silently.
type SubmissionError struct {
	Kind    ErrorKind
	RouteID string
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.RouteID != "" {
		return fmt.Sprintf("%s error for route %q: %s", e.Kind, e.RouteID, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Invalidates reports whether the error marks its candidate as
// non-retryable without a fix.
func (e *SubmissionError) Invalidates() bool {
	return e.Kind == KindResolution || e.Kind == KindRejection
}

// WireMessage converts the error to its client-facing form. Internal
// errors are reported opaquely; detail stays in the server log.
func (e *SubmissionError) WireMessage() ErrorMessage {
	msg := e.Message
	if e.Kind == KindInternal {
		msg = "Internal error"
	}
	return ErrorMessage{
		Type:             TypeError,
		RouteID:          e.RouteID,
		Error:            msg,
		InvalidatesRoute: e.Invalidates(),
	}
}
