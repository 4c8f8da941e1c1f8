package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// fileState is the on-disk document, matching internal/pool/filestore.go's
// versioned-document convention.
type fileState struct {
	Version        int             `json:"version"`
	Sessions       []Session       `json:"sessions"`
	RecoveryTokens []RecoveryToken `json:"recoveryTokens"`
	UserLinks      map[string]string `json:"userLinks"` // userId -> sessionId
}

const currentFileVersion = 1

// FileStore is a JSON-file-backed Store, adapted from
// internal/pool/filestore.go's single-document-behind-one-mutex shape.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens (or initializes) a JSON file at path as an auth Store.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fs.write(fileState{Version: currentFileVersion, UserLinks: map[string]string{}}); err != nil {
			return nil, fmt.Errorf("auth: failed to initialize store at %s: %w", path, err)
		}
	}
	return fs, nil
}

func (fs *FileStore) read() (fileState, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return fileState{}, fmt.Errorf("auth: failed to read store file: %w", err)
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fileState{}, fmt.Errorf("auth: failed to decode store file: %w", err)
	}
	if state.UserLinks == nil {
		state.UserLinks = map[string]string{}
	}
	return state, nil
}

func (fs *FileStore) write(state fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: failed to encode store state: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("auth: failed to write temp store file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("auth: failed to replace store file: %w", err)
	}
	return nil
}

// SaveSession upserts a session by ID.
func (fs *FileStore) SaveSession(ctx context.Context, s Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range state.Sessions {
		if existing.ID == s.ID {
			state.Sessions[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		state.Sessions = append(state.Sessions, s)
	}
	return fs.write(state)
}

// GetSession looks up a session by ID.
func (fs *FileStore) GetSession(ctx context.Context, id string) (*Session, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return nil, false, err
	}
	for _, s := range state.Sessions {
		if s.ID == id {
			found := s
			return &found, true, nil
		}
	}
	return nil, false, nil
}

// FindMostRecentVerifiedByEmail returns the most recently verified session
// for email, by VerifiedAt descending.
func (fs *FileStore) FindMostRecentVerifiedByEmail(ctx context.Context, email string) (*Session, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return nil, false, err
	}
	var matches []Session
	for _, s := range state.Sessions {
		if s.Email == email && s.Status == StatusVerified {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return nil, false, nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].VerifiedAt > matches[j].VerifiedAt })
	return &matches[0], true, nil
}

// SaveRecoveryToken upserts a recovery token by ID.
func (fs *FileStore) SaveRecoveryToken(ctx context.Context, t RecoveryToken) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range state.RecoveryTokens {
		if existing.ID == t.ID {
			state.RecoveryTokens[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		state.RecoveryTokens = append(state.RecoveryTokens, t)
	}
	return fs.write(state)
}

// FindRecoveryTokenByHash looks up a recovery token by its stored hash.
func (fs *FileStore) FindRecoveryTokenByHash(ctx context.Context, hash string) (*RecoveryToken, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return nil, false, err
	}
	for _, t := range state.RecoveryTokens {
		if t.TokenHash == hash {
			found := t
			return &found, true, nil
		}
	}
	return nil, false, nil
}

// SaveUserLink binds userID to sessionID, overwriting any existing link
// for the same userID (spec §4.9).
func (fs *FileStore) SaveUserLink(ctx context.Context, userID, sessionID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return err
	}
	state.UserLinks[userID] = sessionID
	return fs.write(state)
}
