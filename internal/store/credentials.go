package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/courierd/internal/protocol"
)

var ErrCredentialDirRequired = errors.New("store: credential directory required")

const credentialFileName = "credentials.json"

// CredentialStore persists the opaque authentication bundle across restarts.
// The blob content is owned by the protocol layer; courier treats it as bytes.
type CredentialStore struct {
	mu       sync.Mutex
	path     string
	onChange func(protocol.CredentialBundle)
}

// OpenCredentialStore prepares a store rooted at dir.
func OpenCredentialStore(dir string) (*CredentialStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, ErrCredentialDirRequired
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	return &CredentialStore{path: filepath.Join(dir, credentialFileName)}, nil
}

// SetOnChange registers a hook invoked after every successful save.
func (s *CredentialStore) SetOnChange(fn func(protocol.CredentialBundle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Load returns the last persisted bundle. A missing or corrupt file yields an
// empty unregistered bundle, never an error the caller must abort on.
func (s *CredentialStore) Load() protocol.CredentialBundle {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return protocol.CredentialBundle{}
	}
	if err != nil {
		log.Warn().Str("path", s.path).Err(err).Msg("store.CredentialStore read failed, starting unregistered")
		return protocol.CredentialBundle{}
	}
	var bundle protocol.CredentialBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		log.Warn().Str("path", s.path).Err(err).Msg("store.CredentialStore corrupt file, starting unregistered")
		return protocol.CredentialBundle{}
	}
	return bundle
}

// Save overwrites the persisted bundle synchronously.
func (s *CredentialStore) Save(bundle protocol.CredentialBundle) error {
	s.mu.Lock()
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("store: encode credentials: %w", err)
	}
	data = append(data, '\n')
	err = writeFileAtomic(s.path, data, 0o600)
	hook := s.onChange
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook(bundle.Clone())
	}
	return nil
}
