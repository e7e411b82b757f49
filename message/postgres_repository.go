package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/digitalbazaar/bedrock-ldn-inbox/storage"
)

const uniqueViolation = "23505"

// PostgresRepository implements Repository using Postgres. The hashed id
// is the primary key; a unique compound index on (inbox, id) mirrors the
// inbox-scoped index of the DynamoDB layout.
type PostgresRepository struct {
	db        *sql.DB
	tableName string
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, tableName string) *PostgresRepository {
	return &PostgresRepository{
		db:        db,
		tableName: tableName,
	}
}

// Insert stores a new message record.
func (r *PostgresRepository) Insert(ctx context.Context, record *Record) error {
	document, err := json.Marshal(record.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal message document: %w", err)
	}
	var extra any
	if len(record.Meta.Extra) > 0 {
		raw, err := json.Marshal(record.Meta.Extra)
		if err != nil {
			return fmt.Errorf("failed to marshal message meta: %w", err)
		}
		extra = string(raw)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, inbox, inbox_id, document, extra, status, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, pq.QuoteIdentifier(r.tableName))
	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.DocumentID, record.Inbox, record.Meta.Inbox,
		string(document), extra, record.Meta.Status,
		record.Meta.Created.UTC(), record.Meta.Updated.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindActive retrieves a message by its hashed id, excluding tombstones.
func (r *PostgresRepository) FindActive(ctx context.Context, key string) (*Record, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, inbox, inbox_id, document, extra, status, created, updated
		FROM %s WHERE id = $1 AND status = $2`, pq.QuoteIdentifier(r.tableName))
	record, err := scanMessageRow(r.db.QueryRowContext(ctx, query, key, storage.StatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return record, nil
}

// FindAll lists active messages, optionally scoped to a hashed inbox key.
func (r *PostgresRepository) FindAll(ctx context.Context, query Query) ([]*Record, error) {
	stmt := fmt.Sprintf(`
		SELECT id, document_id, inbox, inbox_id, document, extra, status, created, updated
		FROM %s WHERE status = $1`, pq.QuoteIdentifier(r.tableName))
	args := []any{storage.StatusActive}
	if query.Inbox != "" {
		stmt += " AND inbox = $2"
		args = append(args, query.Inbox)
	}
	stmt += " ORDER BY created"
	if query.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		record, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return records, nil
}

// ActiveIDs lists the plain ids of the active messages in an inbox.
func (r *PostgresRepository) ActiveIDs(ctx context.Context, inboxKey string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT document_id FROM %s
		WHERE inbox = $1 AND status = $2
		ORDER BY created`, pq.QuoteIdentifier(r.tableName))
	rows, err := r.db.QueryContext(ctx, query, inboxKey, storage.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list message ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list message ids: %w", err)
	}
	return ids, nil
}

// MarkDeleted tombstones a message; zero affected rows means it was absent
// or already deleted.
func (r *PostgresRepository) MarkDeleted(ctx context.Context, key string, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $1, updated = $2
		WHERE id = $3 AND status = $4`, pq.QuoteIdentifier(r.tableName))
	result, err := r.db.ExecContext(ctx, query,
		storage.StatusDeleted, now.UTC(), key, storage.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to mark message deleted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark message deleted: %w", err)
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// SetInbox moves a message to another inbox in one conditional update; the
// inequality guard on inbox_id rejects no-op moves and stale sources.
func (r *PostgresRepository) SetInbox(ctx context.Context, key, inboxKey, inboxID string, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET inbox = $1, inbox_id = $2, updated = $3
		WHERE id = $4 AND inbox_id <> $2`, pq.QuoteIdentifier(r.tableName))
	result, err := r.db.ExecContext(ctx, query, inboxKey, inboxID, now.UTC(), key)
	if err != nil {
		return fmt.Errorf("failed to move message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to move message: %w", err)
	}
	if affected == 0 {
		return ErrNoMatchingMessage
	}
	return nil
}

// EnsureSchema creates the message table and its indexes if absent.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	table := pq.QuoteIdentifier(r.tableName)
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				document_id TEXT NOT NULL,
				inbox TEXT NOT NULL,
				inbox_id TEXT NOT NULL,
				document JSONB NOT NULL,
				extra JSONB,
				status TEXT NOT NULL,
				created TIMESTAMPTZ NOT NULL,
				updated TIMESTAMPTZ NOT NULL
			)`, table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (inbox, id)`,
			pq.QuoteIdentifier(r.tableName+"_inbox_id_idx"), table),
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create message schema: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessageRow(row rowScanner) (*Record, error) {
	record := &Record{}
	var document string
	var extra sql.NullString
	err := row.Scan(&record.ID, &record.DocumentID, &record.Inbox, &record.Meta.Inbox,
		&document, &extra, &record.Meta.Status, &record.Meta.Created, &record.Meta.Updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(document), &record.Message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message document: %w", err)
	}
	if extra.Valid {
		if err := json.Unmarshal([]byte(extra.String), &record.Meta.Extra); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message meta: %w", err)
		}
	}
	return record, nil
}
