package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// fileState is the on-disk document: {version, contributions[]} per
// spec §4.6/§5 — a state object that read-modify-write serializes against.
type fileState struct {
	Version       int            `json:"version"`
	Contributions []Contribution `json:"contributions"`
}

const currentFileVersion = 1

// FileStore is a JSON-file-backed Store, matching the teacher's
// single-writer-per-repository discipline (CardRepository/
// TransactionRepository each own one table behind one connection pool) —
// adapted here to a single JSON document behind a single in-process
// mutex, since spec §5 allows either a relational or document store and
// nothing about pool accounting needs relational joins.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens (or initializes) a JSON file at path as a pool Store.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fs.write(fileState{Version: currentFileVersion}); err != nil {
			return nil, fmt.Errorf("pool: failed to initialize store at %s: %w", path, err)
		}
	}
	return fs, nil
}

func (fs *FileStore) read() (fileState, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return fileState{}, fmt.Errorf("pool: failed to read store file: %w", err)
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fileState{}, fmt.Errorf("pool: failed to decode store file: %w", err)
	}
	return state, nil
}

func (fs *FileStore) write(state fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("pool: failed to encode store state: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("pool: failed to write temp store file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("pool: failed to replace store file: %w", err)
	}
	return nil
}

// Append performs a linearizable read-modify-write: it holds the mutex for
// the whole read, mutate, write cycle, so two concurrent Append calls
// against the same FileStore can never interleave.
func (fs *FileStore) Append(ctx context.Context, c Contribution) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return err
	}
	state.Contributions = append(state.Contributions, c)
	return fs.write(state)
}

// FindByExternalEventID scans the current state for a matching
// contribution. Held under the same mutex as Append so a caller's
// check-then-append sequence (as Accounting.RecordContribution performs)
// observes a consistent snapshot relative to other FileStore callers,
// though the check and the eventual Append are not atomic as a pair
// unless the caller serializes them itself (Accounting does, with its
// in-process writeMu; nothing here serializes across processes).
func (fs *FileStore) FindByExternalEventID(ctx context.Context, externalEventID string) (*Contribution, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return nil, false, err
	}
	for _, c := range state.Contributions {
		if c.ExternalEventID == externalEventID {
			found := c
			return &found, true, nil
		}
	}
	return nil, false, nil
}

// All returns every contribution currently in the store.
func (fs *FileStore) All(ctx context.Context) ([]Contribution, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return nil, err
	}
	return state.Contributions, nil
}
