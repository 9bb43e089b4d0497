// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage persists level and user documents in an embedded
// BadgerDB instance.
//
// Documents are JSON values under prefixed keys:
//
//	level/<set>/<00000 levelN>  -> datatypes.Level
//	user/<userName>             -> datatypes.User
//
// Level numbers are zero-padded so lexicographic key order equals numeric
// level order and set listings come out sorted for free.
//
// The only multi-document guarantee the service relies on is PutLevels:
// every level of a commit batch is written inside one read-write
// transaction, so a batch is either fully visible or not at all.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/glanderclub/railroad/services/railroad/datatypes"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrUserExists is returned by CreateUser for a taken user name.
var ErrUserExists = errors.New("user already exists")

// Config holds the store configuration.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string

	// InMemory disables disk persistence. Used by tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// Logger receives BadgerDB's internal log output. Nil silences it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable writes and periodic
// value log GC.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store is the document store. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the store, creating the directory if needed. Callers must
// Close the returned store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

// OpenInMemory opens an in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log GC error", "error", err)
			}
		}
	}
}

func levelKey(setName string, levelN int) []byte {
	return fmt.Appendf(nil, "level/%s/%05d", setName, levelN)
}

func levelSetPrefix(setName string) []byte {
	return fmt.Appendf(nil, "level/%s/", setName)
}

func userKey(userName string) []byte {
	return fmt.Appendf(nil, "user/%s", userName)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, doc any) error {
	val, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return txn.Set(key, val)
}

// GetLevel fetches a level by (set, number). Returns ErrNotFound if the
// level does not exist.
func (s *Store) GetLevel(ctx context.Context, setName string, levelN int) (*datatypes.Level, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var level datatypes.Level
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, levelKey(setName, levelN), &level)
	})
	if err != nil {
		return nil, err
	}
	return &level, nil
}

// LevelsBySet fetches every level of a set, sorted by level number.
func (s *Store) LevelsBySet(ctx context.Context, setName string) ([]datatypes.Level, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var levels []datatypes.Level
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := levelSetPrefix(setName)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var level datatypes.Level
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &level)
			})
			if err != nil {
				return err
			}
			levels = append(levels, level)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// AllLevels fetches every level across all sets. Used by statistics and
// the verify-routes command; not on any request hot path.
func (s *Store) AllLevels(ctx context.Context) ([]datatypes.Level, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var levels []datatypes.Level
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("level/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var level datatypes.Level
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &level)
			})
			if err != nil {
				return err
			}
			levels = append(levels, level)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return levels, nil
}

// PutLevels upserts every given level in a single read-write transaction.
// This is the atomic multi-document write commit batches depend on: all
// levels become visible together or the transaction fails as a whole.
func (s *Store) PutLevels(ctx context.Context, levels []*datatypes.Level) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, level := range levels {
			if err := setJSON(txn, levelKey(level.SetName, level.LevelN), level); err != nil {
				return fmt.Errorf("put level %s #%d: %w", level.SetName, level.LevelN, err)
			}
		}
		return nil
	})
}

// GetUser fetches a user by name. Returns ErrNotFound if absent.
func (s *Store) GetUser(ctx context.Context, userName string) (*datatypes.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var user datatypes.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(userName), &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user. Returns ErrUserExists if the name is
// taken; the existence check and insert share one transaction.
func (s *Store) CreateUser(ctx context.Context, user *datatypes.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(user.UserName))
		if err == nil {
			return ErrUserExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, userKey(user.UserName), user)
	})
}

// CountUsers returns the number of registered users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("user/")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
