// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAuthenticate(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"authenticate","token":"abc"}`))
	require.NoError(t, err)
	auth, ok := msg.(Authenticate)
	require.True(t, ok)
	assert.Equal(t, "abc", auth.Token)
}

func TestDecodeAddRoute(t *testing.T) {
	raw := []byte(`{
		"type": "add-route",
		"routeId": "r1",
		"route": {
			"Moves": "urdl",
			"Rule": "steam",
			"Initial Slide": 2,
			"Blobmod": 136,
			"For": {"Set": "Chips Challenge", "LevelNumber": 34}
		}
	}`)
	msg, err := DecodeClientMessage(raw)
	require.NoError(t, err)
	add, ok := msg.(AddRoute)
	require.True(t, ok)
	assert.Equal(t, "r1", add.RouteID)
	assert.Equal(t, "urdl", add.Route.Moves)
	require.NotNil(t, add.Route.InitialSlide)
	assert.Equal(t, 2, *add.Route.InitialSlide)
	require.NotNil(t, add.Route.Blobmod)
	assert.Equal(t, 136, *add.Route.Blobmod)
	require.NotNil(t, add.Route.For)
	assert.Equal(t, 34, add.Route.For.LevelNumber)
}

func TestDecodeSubmit(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"submit","labels":{"r1":"scenic"}}`))
	require.NoError(t, err)
	submit, ok := msg.(Submit)
	require.True(t, ok)
	assert.Equal(t, "scenic", submit.Labels["r1"])
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"not json":     []byte("~~~"),
		"unknown type": []byte(`{"type":"launch-missiles"}`),
		"empty type":   []byte(`{}`),
		"wrong shape":  []byte(`{"type":"add-route","route":"not an object"}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeClientMessage(raw)
			require.Error(t, err)
			var serr *SubmissionError
			require.True(t, errors.As(err, &serr))
			assert.Equal(t, KindProtocol, serr.Kind)
		})
	}
}

func TestInvalidates(t *testing.T) {
	assert.False(t, (&SubmissionError{Kind: KindProtocol}).Invalidates())
	assert.True(t, (&SubmissionError{Kind: KindResolution}).Invalidates())
	assert.True(t, (&SubmissionError{Kind: KindRejection}).Invalidates())
	assert.False(t, (&SubmissionError{Kind: KindPolicy}).Invalidates())
	assert.False(t, (&SubmissionError{Kind: KindInternal}).Invalidates())
}

func TestWireMessageHidesInternalDetail(t *testing.T) {
	serr := &SubmissionError{
		Kind: KindInternal, RouteID: "r1",
		Message: "badger transaction conflict on level/cc1/00034",
	}
	wire := serr.WireMessage()
	assert.Equal(t, TypeError, wire.Type)
	assert.Equal(t, "Internal error", wire.Error)
	assert.Equal(t, "r1", wire.RouteID)
	assert.False(t, wire.InvalidatesRoute)
}

func TestWireMessageCarriesClientFacingDetail(t *testing.T) {
	serr := &SubmissionError{
		Kind: KindRejection, RouteID: "r1",
		Message: "route does not complete the level",
	}
	wire := serr.WireMessage()
	assert.Equal(t, "route does not complete the level", wire.Error)
	assert.True(t, wire.InvalidatesRoute)
}
