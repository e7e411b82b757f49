// Package inbox provides types and operations for LDN inbox storage.
package inbox

import (
	"context"
	"errors"
	"time"
)

// Error types for repository operations.
var (
	ErrInboxNotFound  = errors.New("inbox not found")
	ErrDuplicateInbox = errors.New("inbox already exists")
)

// Meta is the store-managed metadata for an inbox record.
type Meta struct {
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
	Owner   string    `json:"owner"`
	Status  string    `json:"status"`
}

// Record is a stored inbox. ID and Owner hold the hashed forms used for
// indexing; the plain identifiers live in DocumentID and Meta.Owner.
type Record struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"documentId"`
	Owner      string         `json:"owner"`
	Inbox      map[string]any `json:"inbox"`
	Meta       Meta           `json:"meta"`
}

// Query selects records for listing. Owner, when set, is the hashed owner
// key. Listing only ever returns active records.
type Query struct {
	Owner string
	Limit int
}

// Repository defines the interface for inbox storage operations.
type Repository interface {
	Insert(ctx context.Context, record *Record) error
	FindActive(ctx context.Context, key string) (*Record, error)
	FindAll(ctx context.Context, query Query) ([]*Record, error)
	MarkDeleted(ctx context.Context, key string, now time.Time) error
	EnsureSchema(ctx context.Context) error
}
