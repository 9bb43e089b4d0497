// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package users

import (
	"context"
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glanderclub/railroad/services/railroad/storage"
)

// fastParams keeps argon2 cheap in tests.
func fastParams() Argon2Params {
	return Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, fastParams(), nil)
}

func basicToken(name, authID string) string {
	return base64.StdEncoding.EncodeToString([]byte(name + ":" + authID))
}

func TestRegisterAndResolve(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "melinda")
	require.NoError(t, err)
	assert.Equal(t, "melinda", reg.User.UserName)
	assert.Regexp(t, regexp.MustCompile(`^([0-9a-f]{4}-){15}[0-9a-f]{4}$`), reg.AuthID)
	assert.Contains(t, reg.User.Hash, "$argon2id$")
	assert.NotContains(t, reg.User.Hash, reg.AuthID)

	user, err := svc.Resolve(ctx, basicToken("melinda", reg.AuthID))
	require.NoError(t, err)
	assert.Equal(t, "melinda", user.UserName)
}

func TestRegisterNameTaken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "chip")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "chip")
	assert.ErrorIs(t, err, ErrNameTaken)
}

func TestResolveRejections(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "chip")
	require.NoError(t, err)

	cases := map[string]string{
		"not base64":     "!!!",
		"no separator":   base64.StdEncoding.EncodeToString([]byte("chipnocolon")),
		"empty name":     basicToken("", reg.AuthID),
		"empty auth id":  basicToken("chip", ""),
		"unknown user":   basicToken("nobody", reg.AuthID),
		"wrong auth id":  basicToken("chip", "0000-0000-0000-0000-0000-0000-0000-0000-0000-0000-0000-0000-0000-0000-0000-0000"),
		"swapped fields": basicToken(reg.AuthID, "chip"),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Resolve(ctx, token)
			assert.ErrorIs(t, err, ErrBadCredentials)
		})
	}
}

func TestAuthIDsAreUnique(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, err := svc.Register(ctx, "a")
	require.NoError(t, err)
	b, err := svc.Register(ctx, "b")
	require.NoError(t, err)
	assert.NotEqual(t, a.AuthID, b.AuthID)
	assert.NotEqual(t, a.User.Hash, b.User.Hash)
}

func TestVerifyCredentialUsesStoredParams(t *testing.T) {
	// Hash with one parameter set, verify against a service configured
	// with another. The PHC string carries its own parameters.
	hash, err := hashCredential("secret", fastParams())
	require.NoError(t, err)

	match, err := verifyCredential("secret", hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = verifyCredential("wrong", hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestVerifyCredentialBadFormat(t *testing.T) {
	_, err := verifyCredential("x", "$bcrypt$whatever")
	assert.Error(t, err)
}
