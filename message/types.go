// Package message provides types and operations for LDN message storage,
// including the inter-inbox move operation.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Error types for repository operations.
var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrDuplicateMessage = errors.New("message already exists")
	// ErrNoMatchingMessage is the zero-affected-rows outcome of a guarded
	// move: the message is missing or already in the target inbox.
	ErrNoMatchingMessage = errors.New("no matching message")
)

// reservedMetaKeys are always set by the store and never taken from
// caller-supplied extra meta.
var reservedMetaKeys = map[string]bool{
	"created": true,
	"updated": true,
	"status":  true,
	"inbox":   true,
}

// Meta is the store-managed metadata for a message record, plus any
// caller-supplied extra fields. It marshals as a single flat object.
type Meta struct {
	Created time.Time
	Updated time.Time
	Status  string
	Inbox   string // plain id of the containing inbox
	Extra   map[string]any
}

// MarshalJSON flattens Extra into the meta object. Reserved keys always
// come from the fixed fields.
func (m Meta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		if !reservedMetaKeys[k] {
			out[k] = v
		}
	}
	out["created"] = m.Created
	out["updated"] = m.Updated
	out["status"] = m.Status
	out["inbox"] = m.Inbox
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat meta object back into fixed fields and Extra.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["created"]; ok {
		if err := json.Unmarshal(v, &m.Created); err != nil {
			return err
		}
	}
	if v, ok := raw["updated"]; ok {
		if err := json.Unmarshal(v, &m.Updated); err != nil {
			return err
		}
	}
	if v, ok := raw["status"]; ok {
		if err := json.Unmarshal(v, &m.Status); err != nil {
			return err
		}
	}
	if v, ok := raw["inbox"]; ok {
		if err := json.Unmarshal(v, &m.Inbox); err != nil {
			return err
		}
	}
	for k, v := range raw {
		if reservedMetaKeys[k] {
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return err
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = value
	}
	return nil
}

// Record is a stored message. ID and Inbox hold the hashed forms used for
// indexing; the plain identifiers live in DocumentID and Meta.Inbox, which
// always refer to the same inbox modulo hashing.
type Record struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"documentId"`
	Inbox      string         `json:"inbox"`
	Message    map[string]any `json:"message"`
	Meta       Meta           `json:"meta"`
}

// Query selects records for listing. Inbox, when set, is the hashed inbox
// key. Listing only ever returns active records.
type Query struct {
	Inbox string
	Limit int
}

// Repository defines the interface for message storage operations.
type Repository interface {
	Insert(ctx context.Context, record *Record) error
	FindActive(ctx context.Context, key string) (*Record, error)
	FindAll(ctx context.Context, query Query) ([]*Record, error)
	ActiveIDs(ctx context.Context, inboxKey string) ([]string, error)
	MarkDeleted(ctx context.Context, key string, now time.Time) error
	SetInbox(ctx context.Context, key, inboxKey, inboxID string, now time.Time) error
	EnsureSchema(ctx context.Context) error
}
