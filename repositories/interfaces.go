package repositories

import (
	"context"
	"errors"

	"github.com/upb/transcriber-gateway/models"
)

// ErrNotFound is returned when no record exists for the requested key
var ErrNotFound = errors.New("record not found")

// AccountStore reads provisioned account records.
// The store is read-only from the gateway's point of view.
type AccountStore interface {
	// Get returns the record stored under collection/key.
	// Returns ErrNotFound (possibly wrapped) when the record does not exist;
	// any other error means the store could not answer.
	Get(ctx context.Context, collection, key string) (*models.Account, error)
}

// Repositories holds every store the application reads from
type Repositories struct {
	Accounts AccountStore
}
