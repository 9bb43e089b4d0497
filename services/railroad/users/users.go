// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package users handles registration and credential verification.
//
// A user's credential is a one-time generated auth id shown exactly once
// at registration. Only an argon2id hash of it is stored; clients present
// the raw id on every connection as a basic token.
package users

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
	"github.com/glanderclub/railroad/services/railroad/storage"
)

// ErrBadCredentials is returned for any token that does not resolve to a
// user: unknown name, wrong auth id, or malformed token. Callers get one
// error for all three so the response never reveals which part failed.
var ErrBadCredentials = errors.New("bad credentials")

// ErrNameTaken is returned by Register for a duplicate user name.
var ErrNameTaken = errors.New("user name already taken")

// authIDSegments and authIDSegmentLen shape the generated credential:
// 16 dash-joined groups of 4 hex characters, 256 bits of entropy.
const (
	authIDSegments   = 16
	authIDSegmentLen = 4
)

// Argon2Params tunes the credential hash. The zero value is not usable;
// start from DefaultArgon2Params.
type Argon2Params struct {
	Memory      uint32 `yaml:"memory" json:"memory"`
	Iterations  uint32 `yaml:"iterations" json:"iterations"`
	Parallelism uint8  `yaml:"parallelism" json:"parallelism"`
	SaltLength  uint32 `yaml:"saltLength" json:"saltLength"`
	KeyLength   uint32 `yaml:"keyLength" json:"keyLength"`
}

// DefaultArgon2Params returns the production hashing parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Service manages user records.
type Service struct {
	store  *storage.Store
	params Argon2Params
	logger *slog.Logger
}

// NewService creates a user service backed by the given store.
func NewService(store *storage.Store, params Argon2Params, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, params: params, logger: logger}
}

// Registration is the result of a successful Register call. AuthID is the
// only copy of the credential that will ever exist in the clear.
type Registration struct {
	User   datatypes.User
	AuthID string
}

// Register creates a user with a freshly generated auth id.
func (s *Service) Register(ctx context.Context, userName string) (Registration, error) {
	authID, err := makeAuthID()
	if err != nil {
		return Registration{}, fmt.Errorf("generate auth id: %w", err)
	}
	hash, err := hashCredential(authID, s.params)
	if err != nil {
		return Registration{}, fmt.Errorf("hash credential: %w", err)
	}

	user := datatypes.User{
		UserName:  userName,
		Hash:      hash,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return Registration{}, ErrNameTaken
		}
		return Registration{}, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered", "user", userName)
	return Registration{User: user, AuthID: authID}, nil
}

// Resolve verifies a basic token (base64 of "name:authId") and returns
// the matching user.
func (s *Service) Resolve(ctx context.Context, token string) (*datatypes.User, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrBadCredentials
	}
	name, authID, ok := strings.Cut(string(decoded), ":")
	if !ok || name == "" || authID == "" {
		return nil, ErrBadCredentials
	}

	user, err := s.store.GetUser(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	match, err := verifyCredential(authID, user.Hash)
	if err != nil {
		return nil, fmt.Errorf("verify credential: %w", err)
	}
	if !match {
		return nil, ErrBadCredentials
	}
	return user, nil
}

// makeAuthID generates a credential like
// "a3f0-91bc-...-77de": 16 dash-joined segments of 4 hex characters.
func makeAuthID() (string, error) {
	raw := make([]byte, authIDSegments*authIDSegmentLen/2)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	full := hex.EncodeToString(raw)
	segments := make([]string, authIDSegments)
	for i := range segments {
		segments[i] = full[i*authIDSegmentLen : (i+1)*authIDSegmentLen]
	}
	return strings.Join(segments, "-"), nil
}

// hashCredential produces a PHC-encoded argon2id hash:
// $argon2id$v=19$m=...,t=...,p=...$<salt>$<hash>
func hashCredential(credential string, p Argon2Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(credential), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// verifyCredential checks a credential against a PHC-encoded hash using
// the parameters stored in the hash itself, so parameter upgrades never
// invalidate existing records.
func verifyCredential(credential, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("unsupported hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parse hash version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("incompatible argon2 version %d", version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("parse hash parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(credential), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
