package storage

import (
	"context"
	"errors"
	"time"

	"autobump/internal/domain"
)

// ErrPersistenceCorrupt marks a collection that exists but cannot be decoded.
var ErrPersistenceCorrupt = errors.New("storage: persisted data is corrupt")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: closed")

// DataStore persists the two bump collections.
//
// Load returns an empty collection (not an error) when nothing was saved yet.
// Save is all-or-nothing: a failed Save leaves the previous collection intact.
type DataStore interface {
	LoadAccounts(ctx context.Context) ([]domain.Account, error)
	SaveAccounts(ctx context.Context, accounts []domain.Account) error
	LoadChannels(ctx context.Context) ([]domain.Channel, error)
	SaveChannels(ctx context.Context, channels []domain.Channel) error
	Close() error
}

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "memory".
// For "file" Path is a directory; for "sqlite" it is the database file.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means driver default
}
