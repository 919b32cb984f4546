// Package store defines snapshot persistence for paper trading accounts.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// The ledger treats persistence as best-effort replication: a failed save
// never rolls back in-memory state.
package store

import (
	"context"
	"errors"

	"github.com/finsim/paper-engine/internal/model"
)

// ErrNotFound is returned by LoadSnapshot when no snapshot exists for the
// account. Callers create a fresh ledger in that case.
var ErrNotFound = errors.New("store: account snapshot not found")

// Store persists whole account snapshots keyed by account ID.
type Store interface {
	// LoadSnapshot retrieves the snapshot for an account, or ErrNotFound.
	LoadSnapshot(ctx context.Context, accountID string) (*model.Snapshot, error)

	// SaveSnapshot replaces the stored snapshot for an account.
	SaveSnapshot(ctx context.Context, accountID string, snap *model.Snapshot) error
}
