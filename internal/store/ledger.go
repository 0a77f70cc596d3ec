// Package store holds courier's two durable files: the contact ledger and the
// credential bundle. Both are single-writer; every mutation is serialized
// behind the store mutex and written out before the call returns.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrLedgerPathRequired = errors.New("store: ledger path required")

// Ledger is the persisted set of conversations already greeted by the
// first-contact flow. Entries map a conversation identifier to the unix-ms
// timestamp it was first seen; entries are never updated or removed.
type Ledger struct {
	mu      sync.Mutex
	path    string
	entries map[string]int64
}

// OpenLedger loads the ledger at path, treating a missing or corrupt file as
// an empty ledger.
func OpenLedger(path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrLedgerPathRequired
	}
	l := &Ledger{path: path, entries: make(map[string]int64)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read ledger %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("store.Ledger corrupt file, starting empty")
		l.entries = make(map[string]int64)
	}
	return l, nil
}

// Contains reports whether remoteID has a ledger entry.
func (l *Ledger) Contains(remoteID string) bool {
	key := strings.TrimSpace(remoteID)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[key]
	return ok
}

// Upsert records remoteID if unseen and persists the ledger before returning.
// It reports whether a new entry was written. An existing entry is left
// untouched and causes no file write.
func (l *Ledger) Upsert(remoteID string, firstSeen time.Time) (bool, error) {
	key := strings.TrimSpace(remoteID)
	if key == "" {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[key]; ok {
		return false, nil
	}
	l.entries[key] = firstSeen.UnixMilli()
	if err := l.persistLocked(); err != nil {
		delete(l.entries, key)
		return false, err
	}
	return true, nil
}

// Save rewrites the persisted representation from the in-memory state.
func (l *Ledger) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.persistLocked()
}

// Len returns the number of recorded conversations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RemoteIDs returns the recorded conversation identifiers in sorted order.
func (l *Ledger) RemoteIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for id := range l.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) persistLocked() error {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode ledger: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(l.path, data, 0o644)
}

// writeFileAtomic writes via a temp file and rename so readers never observe a
// partial ledger after a crash mid-write.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: rename %s: %w", path, err)
	}
	return nil
}
