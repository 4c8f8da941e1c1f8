package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a BatchExecution's terminal or transitional state.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
)

// ContributorAttribution is one contributor's share of a successful
// execution's three allocated totals (spec §4.8).
type ContributorAttribution struct {
	UserID                  string `json:"userId"`
	AttributedBudgetCents   int64  `json:"attributedBudgetUsdCents"`
	AttributedCostMicro     string `json:"attributedCostMicro"`     // decimal bigint string
	AttributedQuantityMicro string `json:"attributedQuantityMicro"` // decimal bigint string
	SharePpm                int64  `json:"sharePpm"`
}

// BatchExecution is one run of the monthly driver, persisted regardless of
// outcome (spec §4.8 step 5).
type BatchExecution struct {
	ID                    string                   `json:"id"`
	Month                 string                   `json:"month"`
	CreditType            string                   `json:"creditType"`
	DryRun                bool                     `json:"dryRun"`
	Status                Status                   `json:"status"`
	BudgetUsdCents        int64                    `json:"budgetUsdCents"`
	AppliedBudgetUsdCents int64                    `json:"appliedBudgetUsdCents"`
	TotalCostMicro        string                   `json:"totalCostMicro,omitempty"`
	RetiredQuantity       string                   `json:"retiredQuantity,omitempty"`
	PaymentDenom          string                   `json:"paymentDenom,omitempty"`
	TxHash                string                   `json:"txHash,omitempty"`
	CertificateID         string                   `json:"certificateId,omitempty"`
	Attributions          []ContributorAttribution `json:"attributions,omitempty"`
	ErrorMessage          string                   `json:"errorMessage,omitempty"`
	Reason                string                   `json:"reason,omitempty"`
	CreatedAt             string                   `json:"createdAt"` // ISO-8601
}

// Store is the read-modify-write persistence interface for BatchExecution,
// mirroring internal/pool.Store's shape.
type Store interface {
	Append(ctx context.Context, e BatchExecution) error
	All(ctx context.Context) ([]BatchExecution, error)
}

// fileState is the on-disk document, matching internal/pool/filestore.go's
// versioned-document convention.
type fileState struct {
	Version    int              `json:"version"`
	Executions []BatchExecution `json:"executions"`
}

const currentFileVersion = 1

// FileStore is a JSON-file-backed Store, adapted from
// internal/pool/filestore.go's single-document-behind-one-mutex shape.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens (or initializes) a JSON file at path as a batch Store.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := fs.write(fileState{Version: currentFileVersion}); err != nil {
			return nil, fmt.Errorf("batch: failed to initialize store at %s: %w", path, err)
		}
	}
	return fs, nil
}

func (fs *FileStore) read() (fileState, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return fileState{}, fmt.Errorf("batch: failed to read store file: %w", err)
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fileState{}, fmt.Errorf("batch: failed to decode store file: %w", err)
	}
	return state, nil
}

func (fs *FileStore) write(state fileState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("batch: failed to encode store state: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("batch: failed to write temp store file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("batch: failed to replace store file: %w", err)
	}
	return nil
}

// Append persists one BatchExecution under the store's mutex.
func (fs *FileStore) Append(ctx context.Context, e BatchExecution) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return err
	}
	state.Executions = append(state.Executions, e)
	return fs.write(state)
}

// All returns every persisted execution.
func (fs *FileStore) All(ctx context.Context) ([]BatchExecution, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	state, err := fs.read()
	if err != nil {
		return nil, err
	}
	return state.Executions, nil
}

func newExecutionID() string {
	return uuid.NewString()
}

// LatestDryRun returns the most recent successful dry-run BatchExecution
// for (month, creditType), used by internal/reconcile to enforce the
// preflight-freshness Open Question resolution (DESIGN.md).
func LatestDryRun(ctx context.Context, store Store, month, creditType string) (*BatchExecution, error) {
	all, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("batch: failed to read executions: %w", err)
	}

	var matches []BatchExecution
	for _, e := range all {
		if e.Month == month && e.CreditType == creditType && e.DryRun && e.Status == StatusSuccess {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].CreatedAt > matches[j].CreatedAt })
	return &matches[0], nil
}

// ParseCreatedAt parses an execution's CreatedAt for freshness comparisons,
// used by internal/reconcile's preflight-freshness check.
func ParseCreatedAt(e BatchExecution) (time.Time, error) {
	return time.Parse(time.RFC3339, e.CreatedAt)
}
