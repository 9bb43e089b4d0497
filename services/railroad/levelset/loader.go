// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package levelset loads level definition files for the simulator.
//
// Definitions live on disk as one JSON file per level:
//
//	<root>/<set>/<levelN>.json
//
// Loaded definitions are cached; a filesystem watcher invalidates cache
// entries when a file changes, so level data can be corrected on a
// running service without a restart.
package levelset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/glanderclub/railroad/services/railroad/sim"
)

// ErrLevelUnknown is returned when no definition file exists for the
// requested level.
var ErrLevelUnknown = errors.New("no level definition")

type levelKey struct {
	set string
	n   int
}

// Loader reads and caches level definitions. Safe for concurrent use.
type Loader struct {
	root    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	cache map[levelKey]sim.LevelDefinition

	done chan struct{}
}

// levelFile is the on-disk shape of a definition.
type levelFile struct {
	TimeLimit int             `json:"timeLimit"`
	Data      json.RawMessage `json:"data"`
}

// NewLoader creates a loader rooted at dir and starts watching it and its
// per-set subdirectories for changes. Callers must Close the loader.
func NewLoader(dir string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("level directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("level directory %s is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	l := &Loader{
		root:    dir,
		logger:  logger,
		watcher: watcher,
		cache:   make(map[levelKey]sim.LevelDefinition),
		done:    make(chan struct{}),
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("list level directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := watcher.Add(filepath.Join(dir, e.Name())); err != nil {
				l.logger.Warn("watch set directory failed", "set", e.Name(), "error", err)
			}
		}
	}

	go l.watch()
	return l, nil
}

// Close stops the watcher.
func (l *Loader) Close() error {
	err := l.watcher.Close()
	<-l.done
	return err
}

func (l *Loader) watch() {
	defer close(l.done)
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("level watcher error", "error", err)
		}
	}
}

func (l *Loader) handleEvent(event fsnotify.Event) {
	// A new set directory must be watched for its level files.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := l.watcher.Add(event.Name); err != nil {
				l.logger.Warn("watch new set directory failed", "path", event.Name, "error", err)
			}
			return
		}
	}
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	key, ok := l.keyForPath(event.Name)
	if !ok {
		return
	}
	l.mu.Lock()
	_, cached := l.cache[key]
	delete(l.cache, key)
	l.mu.Unlock()
	if cached {
		l.logger.Info("level definition invalidated", "set", key.set, "level", key.n)
	}
}

// keyForPath maps <root>/<set>/<n>.json back to a cache key.
func (l *Loader) keyForPath(path string) (levelKey, bool) {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return levelKey{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || !strings.HasSuffix(parts[1], ".json") {
		return levelKey{}, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(parts[1], ".json"))
	if err != nil {
		return levelKey{}, false
	}
	return levelKey{set: parts[0], n: n}, true
}

// Load returns the definition for a level, reading from disk on a cache
// miss.
func (l *Loader) Load(setName string, levelN int) (sim.LevelDefinition, error) {
	key := levelKey{set: setName, n: levelN}

	l.mu.RLock()
	def, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return def, nil
	}

	path := filepath.Join(l.root, setName, strconv.Itoa(levelN)+".json")
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return sim.LevelDefinition{}, fmt.Errorf("%s #%d: %w", setName, levelN, ErrLevelUnknown)
	}
	if err != nil {
		return sim.LevelDefinition{}, fmt.Errorf("read level definition: %w", err)
	}

	var file levelFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return sim.LevelDefinition{}, fmt.Errorf("parse level definition %s: %w", path, err)
	}

	def = sim.LevelDefinition{
		SetName:   setName,
		LevelN:    levelN,
		TimeLimit: file.TimeLimit,
		Data:      file.Data,
	}
	l.mu.Lock()
	l.cache[key] = def
	l.mu.Unlock()
	return def, nil
}

// Sets lists the set directories present under the loader root.
func (l *Loader) Sets() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("list level directory: %w", err)
	}
	var sets []string
	for _, e := range entries {
		if e.IsDir() {
			sets = append(sets, e.Name())
		}
	}
	return sets, nil
}
