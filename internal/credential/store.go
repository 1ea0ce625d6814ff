// Package credential persists the long-lived app token obtained from the
// router during pairing.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotPaired is returned when no credential file exists yet.
var ErrNotPaired = errors.New("no router credential found: run \"linkbeat pair\" while near the router to authorize this agent")

// Credential is the long-lived application credential issued by the
// router. AppToken is the only field the heartbeat loop consumes;
// TrackID and CreatedAt are kept for operator diagnostics.
type Credential struct {
	AppToken  string    `json:"app_token"`
	TrackID   int       `json:"track_id"`
	AppID     string    `json:"app_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store reads and writes the credential file.
type Store struct {
	path string
}

// NewStore creates a store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the credential file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted credential. A missing file maps to
// ErrNotPaired; any other read or decode failure is surfaced as-is.
func (s *Store) Load() (*Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", s.path, ErrNotPaired)
		}
		return nil, fmt.Errorf("read credential %s: %w", s.path, err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", s.path, err)
	}
	if cred.AppToken == "" {
		return nil, fmt.Errorf("credential %s has empty app_token: %w", s.path, ErrNotPaired)
	}

	return &cred, nil
}

// Save persists the credential with owner-only permissions.
func (s *Store) Save(cred *Credential) error {
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credential %s: %w", s.path, err)
	}
	return nil
}
