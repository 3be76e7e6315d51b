package oauth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	atomicfile "github.com/natefinch/atomic"

	"github.com/giantswarm/dav-proxy/pkg/logging"
)

// TokenStoreConfig configures the token store.
type TokenStoreConfig struct {
	// Path is the token file location.
	Path string

	// CreateOnly makes Save fail with fs.ErrExist instead of replacing an
	// existing token file.
	CreateOnly bool
}

// TokenStore persists a single token document at a fixed path.
//
// SECURITY: the file holds live credentials.
//   - Files are created with 0600 permissions (owner read/write only)
//   - The parent directory is created with 0700 permissions
//   - Token values are never logged, only the file path
//
// Writes are atomic: a reader of the path sees either the previous complete
// document or the new complete document, never a partial one.
type TokenStore struct {
	mu         sync.Mutex
	path       string
	createOnly bool
}

// NewTokenStore creates a token store for cfg.Path.
func NewTokenStore(cfg TokenStoreConfig) (*TokenStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("token file path is required")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token file path: %w", err)
	}
	return &TokenStore{path: path, createOnly: cfg.CreateOnly}, nil
}

// Path returns the absolute token file path.
func (s *TokenStore) Path() string {
	return s.path
}

// Load reads the token file. A missing file yields (nil, nil).
// A file that cannot be read or is not a JSON object yields an error
// wrapping ErrTokenFileCorrupt.
func (s *TokenStore) Load() (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path comes from configuration, not request input
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w: failed to read token file: %w", ErrTokenFileCorrupt, ErrFilesystem, err)
	}

	tok, err := ParseToken(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return tok, nil
}

// Save atomically publishes tok at the store path.
func (s *TokenStore) Save(tok Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("%w: failed to create token directory: %w", ErrFilesystem, err)
	}

	if s.createOnly {
		err = s.linkNew(data)
	} else {
		err = atomicfile.WriteFile(s.path, bytes.NewReader(data))
	}
	if err != nil {
		logging.Audit(logging.AuditEvent{
			Action:  "token_store",
			Outcome: "failure",
			Target:  s.path,
			Err:     err,
		})
		if errors.Is(err, ErrFilesystem) {
			return err
		}
		return fmt.Errorf("%w: failed to write token file: %w", ErrFilesystem, err)
	}

	// Temp files are created 0600, but a replaced file may have carried
	// wider permissions.
	if err := os.Chmod(s.path, 0600); err != nil {
		return fmt.Errorf("%w: failed to restrict token file permissions: %w", ErrFilesystem, err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "token_store",
		Outcome: "success",
		Target:  s.path,
		Details: map[string]string{
			"has_refresh_token": strconv.FormatBool(tok.RefreshToken() != ""),
		},
	})
	return nil
}

// linkNew writes data to a temp file next to the destination and hard links
// it into place, which fails if the destination already exists.
func (s *TokenStore) linkNew(data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", ErrFilesystem, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: failed to write temp file: %w", ErrFilesystem, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: failed to sync temp file: %w", ErrFilesystem, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: failed to close temp file: %w", ErrFilesystem, err)
	}

	if err := os.Link(tmp, s.path); err != nil {
		return fmt.Errorf("%w: failed to publish token file: %w", ErrFilesystem, err)
	}
	return nil
}

// Remove deletes the token file. A missing file is not an error.
func (s *TokenStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Audit(logging.AuditEvent{
			Action:  "token_delete",
			Outcome: "failure",
			Target:  s.path,
			Err:     err,
		})
		return fmt.Errorf("%w: failed to remove token file: %w", ErrFilesystem, err)
	}

	logging.Audit(logging.AuditEvent{
		Action:  "token_delete",
		Outcome: "success",
		Target:  s.path,
	})
	return nil
}
