// Package store persists the credit ledger document.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/theirongolddev/creditwatch/internal/model"
)

var (
	// ErrNotFound indicates no ledger has been persisted yet.
	ErrNotFound = errors.New("store: ledger not found")
	// ErrCorrupt indicates the persisted ledger could not be decoded.
	ErrCorrupt = errors.New("store: ledger unreadable")
)

// Store loads and saves the single ledger document. Save is a full
// overwrite of the document.
type Store interface {
	Load(ctx context.Context) (model.Ledger, error)
	Save(ctx context.Context, l model.Ledger) error
	// Name identifies the ledger; it keys the monitor's write lock.
	Name() string
	Close() error
}

// Open returns the backend of the given kind rooted at path.
func Open(kind, path string) (Store, error) {
	switch strings.ToLower(kind) {
	case "file", "":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLite(path, defaultLedgerID)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
}
