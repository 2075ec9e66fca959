// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/craftchat/internal/util"
)

// errCorrupt marks a document on disk that is not a JSON object of strings.
var errCorrupt = errors.New("kv: corrupted document")

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps every key in a single JSON object on disk.
//
// Each read goes to disk so writes made by other processes are visible, and
// each write replaces the file atomically (temp file, fsync, rename).
type FileStore struct {
	path string

	mu sync.Mutex
	// last is the document as of our latest write or reported change.
	// Plain reads leave it alone so Watch still sees external edits.
	last map[string]string
	// pending holds keys changed externally and folded into one of our
	// own writes before the watcher saw them.
	pending map[string]bool
	closed  bool
}

// NewFileStore creates a FileStore at path, creating the parent directory.
// The file itself is created on the first write.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("kv: file store path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("kv: resolve path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0700); err != nil {
		return nil, fmt.Errorf("kv: create directory: %w", err)
	}
	f := &FileStore{path: abs, pending: map[string]bool{}}
	if doc, err := f.readLocked(); err == nil {
		f.last = doc
	} else {
		f.last = map[string]string{}
	}
	return f, nil
}

// Path returns the absolute path of the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// Get implements Store.
func (f *FileStore) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", ErrClosed
	}

	doc, err := f.readLocked()
	if err != nil {
		return "", err
	}
	v, ok := doc[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store. A corrupted document is replaced rather than
// left blocking every future write.
func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	doc, err := f.readLocked()
	if err != nil && !errors.Is(err, errCorrupt) {
		return err
	}
	if doc == nil {
		doc = map[string]string{}
	}
	f.notePendingLocked(doc)
	doc[key] = value
	return f.writeLocked(doc)
}

// Remove implements Store.
func (f *FileStore) Remove(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	doc, err := f.readLocked()
	if err != nil {
		if errors.Is(err, errCorrupt) {
			return f.writeLocked(map[string]string{})
		}
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	f.notePendingLocked(doc)
	delete(doc, key)
	return f.writeLocked(doc)
}

// Close implements Store.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FileStore) readLocked() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("kv: read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}

	doc := map[string]string{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return doc, nil
}

// notePendingLocked remembers keys another writer changed since our last
// write, before doc (read from disk) is modified and written back.
func (f *FileStore) notePendingLocked(doc map[string]string) {
	for _, k := range diffKeys(f.last, doc) {
		f.pending[k] = true
	}
}

func (f *FileStore) writeLocked(doc map[string]string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("kv: encode document: %w", err)
	}
	if err := util.AtomicWriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("kv: write %s: %w", f.path, err)
	}
	f.last = copyDoc(doc)
	return nil
}

// =============================================================================
// CHANGE NOTIFICATION
// =============================================================================

// Watch calls fn with the sorted keys whose values were changed by another
// writer of the same file. Writes made through this FileStore are not
// reported. Watch returns once the watcher is running; it stops when ctx is
// cancelled.
func (f *FileStore) Watch(ctx context.Context, fn func(keys []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("kv: create watcher: %w", err)
	}
	// The file is replaced by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("kv: watch %s: %w", filepath.Dir(f.path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != f.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}
				if keys := f.reloadChanged(); len(keys) > 0 {
					fn(keys)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// reloadChanged re-reads the document and returns keys that differ from the
// last known contents, plus keys noted by our own writes in between.
func (f *FileStore) reloadChanged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}

	doc, err := f.readLocked()
	if err != nil {
		return nil
	}
	for _, k := range diffKeys(f.last, doc) {
		f.pending[k] = true
	}
	f.last = doc
	if len(f.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f.pending))
	for k := range f.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	f.pending = map[string]bool{}
	return keys
}

func diffKeys(a, b map[string]string) []string {
	var keys []string
	for k, v := range a {
		if nv, ok := b[k]; !ok || nv != v {
			keys = append(keys, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func copyDoc(doc map[string]string) map[string]string {
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
