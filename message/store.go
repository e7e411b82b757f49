package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/digitalbazaar/bedrock-ldn-inbox/inbox"
	"github.com/digitalbazaar/bedrock-ldn-inbox/lderr"
	"github.com/digitalbazaar/bedrock-ldn-inbox/notify"
	"github.com/digitalbazaar/bedrock-ldn-inbox/permission"
	"github.com/digitalbazaar/bedrock-ldn-inbox/storage"
)

var tracer = otel.Tracer("ldn-inbox")

// Inboxes resolves inbox ownership for message-level permission checks.
// Message capabilities are anchored on the containing inbox's owner, not
// on any field of the message itself. Implemented by inbox.Store.
type Inboxes interface {
	ResolveOwner(ctx context.Context, id string) (string, error)
}

// ListOptions configures List. Inbox, when set, scopes the listing to the
// given plain inbox id.
type ListOptions struct {
	Inbox string
	Limit int
}

// MoveOptions lets bulk callers supply records they already fetched. A
// supplied record is trusted as-is and not re-fetched, but both permission
// checks still run against it.
type MoveOptions struct {
	MessageRecord *Record
	TargetInbox   *inbox.Record
}

// Store is the authorization-gated access layer over the message
// collection, layered on the inbox ownership resolver.
type Store struct {
	repo      Repository
	gate      *permission.Gate
	inboxes   Inboxes
	publisher notify.Publisher
	logger    *slog.Logger
}

// NewStore creates a Store. The publisher is optional; a nil logger falls
// back to slog.Default().
func NewStore(repo Repository, gate *permission.Gate, inboxes Inboxes, publisher notify.Publisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:      repo,
		gate:      gate,
		inboxes:   inboxes,
		publisher: publisher,
		logger:    logger,
	}
}

// Add files a new message in the given inbox. Insert permission is checked
// against the inbox's owner; extra meta fields are merged in, with the
// store-reserved keys always overwritten.
func (s *Store) Add(ctx context.Context, actor *permission.Actor, document map[string]any, inboxID string, extraMeta map[string]any) (*Record, error) {
	ctx, span := tracer.Start(ctx, "messages.Add")
	defer span.End()

	id, err := messageID(document)
	if err != nil {
		return nil, err
	}
	if inboxID == "" {
		return nil, lderr.Validation("inbox id must be a non-empty string")
	}

	// The target inbox must exist even for the system caller.
	owner, err := s.inboxes.ResolveOwner(ctx, inboxID)
	if err != nil {
		return nil, err
	}
	err = s.gate.Authorize(ctx, actor, permission.MessageInsert, &permission.Resource{ID: inboxID, Owner: owner})
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "adding message",
		slog.String("message", id), slog.String("inbox", inboxID))

	now := time.Now().UTC()
	record := &Record{
		ID:         storage.Hash(id),
		DocumentID: id,
		Inbox:      storage.Hash(inboxID),
		Message:    document,
		Meta: Meta{
			Created: now,
			Updated: now,
			Status:  storage.StatusActive,
			Inbox:   inboxID,
			Extra:   copyExtraMeta(extraMeta),
		},
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			return nil, lderr.Conflict(fmt.Sprintf("message already exists: %s", id), id)
		}
		return nil, err
	}

	s.notify(ctx, notify.Event{MessageID: id, InboxID: inboxID, Action: notify.ActionStored})
	return record, nil
}

// Get retrieves an active message by its plain id. Access permission is
// resolved through the message's current inbox.
func (s *Store) Get(ctx context.Context, actor *permission.Actor, id string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "messages.Get")
	defer span.End()

	record, err := s.repo.FindActive(ctx, storage.Hash(id))
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return nil, lderr.NotFound(fmt.Sprintf("message not found: %s", id), id)
		}
		return nil, err
	}
	if err := s.authorize(ctx, actor, permission.MessageAccess, record); err != nil {
		return nil, err
	}
	return record, nil
}

// List returns the active messages the actor is authorized to see. An
// inbox-scoped listing is authorized once against that inbox's owner; a
// broad listing is filtered per record. An empty result is not an error.
func (s *Store) List(ctx context.Context, actor *permission.Actor, opts ListOptions) ([]*Record, error) {
	ctx, span := tracer.Start(ctx, "messages.List")
	defer span.End()

	if err := s.gate.Authorize(ctx, actor, permission.MessageAccess, nil); err != nil {
		return nil, err
	}

	if opts.Inbox != "" {
		if actor != nil {
			owner, err := s.inboxes.ResolveOwner(ctx, opts.Inbox)
			if err != nil {
				return nil, err
			}
			err = s.gate.Authorize(ctx, actor, permission.MessageAccess, &permission.Resource{ID: opts.Inbox, Owner: owner})
			if err != nil {
				return nil, err
			}
		}
		return s.repo.FindAll(ctx, Query{Inbox: storage.Hash(opts.Inbox), Limit: opts.Limit})
	}

	records, err := s.repo.FindAll(ctx, Query{Limit: opts.Limit})
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return records, nil
	}

	// One owner resolution per distinct inbox; messages whose inbox is
	// gone are unauthorizable and dropped.
	owners := make(map[string]string)
	authorized := make([]*Record, 0, len(records))
	for _, record := range records {
		owner, ok := owners[record.Meta.Inbox]
		if !ok {
			var err error
			owner, err = s.inboxes.ResolveOwner(ctx, record.Meta.Inbox)
			if lderr.IsKind(err, lderr.KindNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			owners[record.Meta.Inbox] = owner
		}
		err := s.gate.Authorize(ctx, actor, permission.MessageAccess,
			&permission.Resource{ID: record.DocumentID, Owner: owner})
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

// Remove tombstones a message. Remove permission is resolved through the
// message's current inbox.
func (s *Store) Remove(ctx context.Context, actor *permission.Actor, id string) error {
	ctx, span := tracer.Start(ctx, "messages.Remove")
	defer span.End()

	record, err := s.repo.FindActive(ctx, storage.Hash(id))
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return lderr.NotFound(fmt.Sprintf("message not found: %s", id), id)
		}
		return err
	}
	if err := s.authorize(ctx, actor, permission.MessageRemove, record); err != nil {
		return err
	}

	err = s.repo.MarkDeleted(ctx, storage.Hash(id), time.Now().UTC())
	if errors.Is(err, ErrMessageNotFound) {
		// Deleted concurrently between fetch and update.
		return lderr.NotFound(fmt.Sprintf("could not remove message; message not found: %s", id), id)
	}
	return err
}

// Move files a message in another inbox. Two independent capabilities must
// pass before anything is written: remove against the current inbox's
// owner and insert against the target inbox's owner. The write itself is
// one conditional update; a zero-match outcome means the message is
// missing or already in the target inbox and is reported as one client
// error class.
func (s *Store) Move(ctx context.Context, actor *permission.Actor, messageID, targetInboxID string, opts MoveOptions) error {
	ctx, span := tracer.Start(ctx, "messages.Move")
	defer span.End()

	record := opts.MessageRecord
	if record == nil {
		var err error
		record, err = s.repo.FindActive(ctx, storage.Hash(messageID))
		if err != nil {
			if errors.Is(err, ErrMessageNotFound) {
				return lderr.NotFound(fmt.Sprintf("message not found: %s", messageID), messageID)
			}
			return err
		}
	}

	var targetOwner string
	if opts.TargetInbox != nil {
		targetOwner = opts.TargetInbox.Meta.Owner
	} else {
		var err error
		targetOwner, err = s.inboxes.ResolveOwner(ctx, targetInboxID)
		if err != nil {
			return err
		}
	}

	if err := s.authorize(ctx, actor, permission.MessageRemove, record); err != nil {
		return err
	}
	err := s.gate.Authorize(ctx, actor, permission.MessageInsert,
		&permission.Resource{ID: targetInboxID, Owner: targetOwner})
	if err != nil {
		return err
	}

	err = s.repo.SetInbox(ctx, storage.Hash(messageID), storage.Hash(targetInboxID), targetInboxID, time.Now().UTC())
	if errors.Is(err, ErrNoMatchingMessage) {
		return lderr.BadRequest(
			fmt.Sprintf("could not move message; message not found or already present in the target inbox: %s", messageID),
			messageID, targetInboxID)
	}
	if err != nil {
		return err
	}

	s.notify(ctx, notify.Event{MessageID: messageID, InboxID: targetInboxID, Action: notify.ActionMoved})
	return nil
}

// authorize runs a message-scoped capability check, resolving the owner of
// the message's current inbox first. The system caller skips resolution
// entirely since the gate bypasses it anyway.
func (s *Store) authorize(ctx context.Context, actor *permission.Actor, capability permission.Capability, record *Record) error {
	if actor == nil {
		return nil
	}
	owner, err := s.inboxes.ResolveOwner(ctx, record.Meta.Inbox)
	if err != nil {
		return err
	}
	return s.gate.Authorize(ctx, actor, capability, &permission.Resource{ID: record.DocumentID, Owner: owner})
}

// notify publishes a delivery notification, best-effort. A failed publish
// never fails the already-committed write.
func (s *Store) notify(ctx context.Context, event notify.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish notification",
			slog.String("message", event.MessageID),
			slog.String("inbox", event.InboxID),
			slog.String("error", err.Error()))
	}
}

func messageID(document map[string]any) (string, error) {
	if document == nil {
		return "", lderr.Validation("message must be specified")
	}
	id, ok := document["id"].(string)
	if !ok || id == "" {
		return "", lderr.Validation("message.id must be a non-empty string")
	}
	return id, nil
}

func copyExtraMeta(extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		if reservedMetaKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}
