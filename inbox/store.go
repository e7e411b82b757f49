package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/digitalbazaar/bedrock-ldn-inbox/lderr"
	"github.com/digitalbazaar/bedrock-ldn-inbox/permission"
	"github.com/digitalbazaar/bedrock-ldn-inbox/storage"
)

var tracer = otel.Tracer("ldn-inbox")

// MessageLister lists the plain ids of active messages filed under an
// inbox, keyed by the inbox's hashed id. Implemented by the message
// repository and wired in at bootstrap.
type MessageLister interface {
	ActiveIDs(ctx context.Context, inboxKey string) ([]string, error)
}

// GetOptions configures Get.
type GetOptions struct {
	// MessageList adds the plain ids of the inbox's active messages to
	// the returned document as its "contains" attribute.
	MessageList bool
}

// ListOptions configures List. Owner, when set, scopes the listing to the
// given plain owner identity.
type ListOptions struct {
	Owner string
	Limit int
}

// Store is the authorization-gated access layer over the inbox collection.
// Every operation resolves its ownership context, authorizes through the
// permission gate, and only then touches the repository.
type Store struct {
	repo     Repository
	gate     *permission.Gate
	messages MessageLister
	logger   *slog.Logger
}

// NewStore creates a Store. A nil logger falls back to slog.Default().
func NewStore(repo Repository, gate *permission.Gate, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		gate:   gate,
		logger: logger,
	}
}

// SetMessageLister wires the message collection for Get's MessageList
// option. Called once at bootstrap, after the message repository exists.
func (s *Store) SetMessageLister(messages MessageLister) {
	s.messages = messages
}

// Add inserts a new inbox owned by the given identity. The document must
// carry a string "id"; the hashed id must not already exist, deleted
// records included.
func (s *Store) Add(ctx context.Context, actor *permission.Actor, document map[string]any, owner string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "inboxes.Add")
	defer span.End()

	id, err := documentID(document, "inbox")
	if err != nil {
		return nil, err
	}
	if owner == "" {
		return nil, lderr.Validation("inbox owner must be a non-empty string")
	}

	err = s.gate.Authorize(ctx, actor, permission.InboxInsert, &permission.Resource{ID: id, Owner: owner})
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "adding inbox", slog.String("inbox", id))

	now := time.Now().UTC()
	record := &Record{
		ID:         storage.Hash(id),
		DocumentID: id,
		Owner:      storage.Hash(owner),
		Inbox:      document,
		Meta: Meta{
			Created: now,
			Updated: now,
			Owner:   owner,
			Status:  storage.StatusActive,
		},
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateInbox) {
			return nil, lderr.Conflict(fmt.Sprintf("inbox already exists: %s", id), id)
		}
		return nil, err
	}
	return record, nil
}

// Get retrieves an active inbox by its plain id.
func (s *Store) Get(ctx context.Context, actor *permission.Actor, id string, opts GetOptions) (*Record, error) {
	ctx, span := tracer.Start(ctx, "inboxes.Get")
	defer span.End()

	record, err := s.repo.FindActive(ctx, storage.Hash(id))
	if err != nil {
		if errors.Is(err, ErrInboxNotFound) {
			return nil, lderr.NotFound(fmt.Sprintf("inbox not found: %s", id), id)
		}
		return nil, err
	}

	err = s.gate.Authorize(ctx, actor, permission.InboxAccess, &permission.Resource{ID: id, Owner: record.Meta.Owner})
	if err != nil {
		return nil, err
	}

	if opts.MessageList {
		if s.messages == nil {
			return nil, errors.New("message listing is not configured")
		}
		ids, err := s.messages.ActiveIDs(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		document := make(map[string]any, len(record.Inbox)+1)
		for k, v := range record.Inbox {
			document[k] = v
		}
		document["contains"] = ids
		record.Inbox = document
	}
	return record, nil
}

// ResolveOwner resolves the current owner identity of an active inbox. It
// backs the ownership checks for message operations, whose capabilities
// are anchored on the containing inbox's owner.
func (s *Store) ResolveOwner(ctx context.Context, id string) (string, error) {
	record, err := s.repo.FindActive(ctx, storage.Hash(id))
	if err != nil {
		if errors.Is(err, ErrInboxNotFound) {
			return "", lderr.NotFound(fmt.Sprintf("inbox not found: %s", id), id)
		}
		return "", err
	}
	return record.Meta.Owner, nil
}

// List returns the active inboxes the actor is authorized to see. The
// coarse access capability gates the call; a broad listing is then
// additionally filtered per record, while an owner-scoped listing is
// authorized once against that owner. An empty result is not an error.
func (s *Store) List(ctx context.Context, actor *permission.Actor, opts ListOptions) ([]*Record, error) {
	ctx, span := tracer.Start(ctx, "inboxes.List")
	defer span.End()

	if err := s.gate.Authorize(ctx, actor, permission.InboxAccess, nil); err != nil {
		return nil, err
	}

	if opts.Owner != "" {
		err := s.gate.Authorize(ctx, actor, permission.InboxAccess, &permission.Resource{Owner: opts.Owner})
		if err != nil {
			return nil, err
		}
		return s.repo.FindAll(ctx, Query{Owner: storage.Hash(opts.Owner), Limit: opts.Limit})
	}

	records, err := s.repo.FindAll(ctx, Query{Limit: opts.Limit})
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return records, nil
	}
	authorized := make([]*Record, 0, len(records))
	for _, record := range records {
		err := s.gate.Authorize(ctx, actor, permission.InboxAccess,
			&permission.Resource{ID: record.DocumentID, Owner: record.Meta.Owner})
		if lderr.IsKind(err, lderr.KindPermissionDenied) {
			continue
		}
		if err != nil {
			return nil, err
		}
		authorized = append(authorized, record)
	}
	return authorized, nil
}

// Remove tombstones an inbox. The record stays in storage and its hashed
// id stays reserved; it simply stops matching active queries.
func (s *Store) Remove(ctx context.Context, actor *permission.Actor, id string) error {
	ctx, span := tracer.Start(ctx, "inboxes.Remove")
	defer span.End()

	record, err := s.Get(ctx, nil, id, GetOptions{})
	if err != nil {
		return err
	}

	err = s.gate.Authorize(ctx, actor, permission.InboxRemove, &permission.Resource{ID: id, Owner: record.Meta.Owner})
	if err != nil {
		return err
	}

	err = s.repo.MarkDeleted(ctx, storage.Hash(id), time.Now().UTC())
	if errors.Is(err, ErrInboxNotFound) {
		// Deleted concurrently between fetch and update.
		return lderr.NotFound(fmt.Sprintf("could not remove inbox; inbox not found: %s", id), id)
	}
	return err
}

// documentID extracts and validates the "id" attribute of a document.
func documentID(document map[string]any, kind string) (string, error) {
	if document == nil {
		return "", lderr.Validation(kind + " must be specified")
	}
	id, ok := document["id"].(string)
	if !ok || id == "" {
		return "", lderr.Validation(kind + ".id must be a non-empty string")
	}
	return id, nil
}
