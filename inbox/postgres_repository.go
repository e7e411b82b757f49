package inbox

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

// uniqueViolation is the Postgres error code for a unique-index conflict.
const uniqueViolation = "23505"

// PostgresRepository implements Repository using Postgres. The hashed id
// is the primary key; a unique compound index on (owner, id) mirrors the
// owner-scoped index of the DynamoDB layout.
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

// Insert stores a new inbox record.
func (r *PostgresRepository) Insert(ctx context.Context, record *Record) error {
	document, err := json.Marshal(record.Inbox)
	if err != nil {
		return fmt.Errorf("failed to marshal inbox document: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, owner, owner_id, document, status, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, pq.QuoteIdentifier(r.tableName))
	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.DocumentID, record.Owner, record.Meta.Owner,
		string(document), record.Meta.Status,
		record.Meta.Created.UTC(), record.Meta.Updated.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateInbox
		}
		return fmt.Errorf("failed to insert inbox: %w", err)
	}
	return nil
}

// FindActive retrieves an inbox by its hashed id, excluding tombstones.
func (r *PostgresRepository) FindActive(ctx context.Context, key string) (*Record, error) {
	query := fmt.Sprintf(`
		SELECT id, document_id, owner, owner_id, document, status, created, updated
		FROM %s WHERE id = $1 AND status = $2`, pq.QuoteIdentifier(r.tableName))
	record, err := scanInboxRow(r.db.QueryRowContext(ctx, query, key, storage.StatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inbox: %w", err)
	}
	return record, nil
}

// FindAll lists active inboxes, optionally scoped to a hashed owner key.
func (r *PostgresRepository) FindAll(ctx context.Context, query Query) ([]*Record, error) {
	stmt := fmt.Sprintf(`
		SELECT id, document_id, owner, owner_id, document, status, created, updated
		FROM %s WHERE status = $1`, pq.QuoteIdentifier(r.tableName))
	args := []any{storage.StatusActive}
	if query.Owner != "" {
		stmt += " AND owner = $2"
		args = append(args, query.Owner)
	}
	stmt += " ORDER BY created"
	if query.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list inboxes: %w", err)
	}
	defer rows.Close()

	records := make([]*Record, 0)
	for rows.Next() {
		record, err := scanInboxRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list inboxes: %w", err)
	}
	return records, nil
}

// MarkDeleted tombstones an inbox; zero affected rows means it was absent
// or already deleted.
func (r *PostgresRepository) MarkDeleted(ctx context.Context, key string, now time.Time) error {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $1, updated = $2
		WHERE id = $3 AND status = $4`, pq.QuoteIdentifier(r.tableName))
	result, err := r.db.ExecContext(ctx, query,
		storage.StatusDeleted, now.UTC(), key, storage.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to mark inbox deleted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark inbox deleted: %w", err)
	}
	if affected == 0 {
		return ErrInboxNotFound
	}
	return nil
}

// EnsureSchema creates the inbox table and its indexes if absent.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	table := pq.QuoteIdentifier(r.tableName)
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				document_id TEXT NOT NULL,
				owner TEXT NOT NULL,
				owner_id TEXT NOT NULL,
				document JSONB NOT NULL,
				status TEXT NOT NULL,
				created TIMESTAMPTZ NOT NULL,
				updated TIMESTAMPTZ NOT NULL
			)`, table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (owner, id)`,
			pq.QuoteIdentifier(r.tableName+"_owner_id_idx"), table),
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create inbox schema: %w", err)
		}
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInboxRow(row rowScanner) (*Record, error) {
	record := &Record{}
	var document string
	err := row.Scan(&record.ID, &record.DocumentID, &record.Owner, &record.Meta.Owner,
		&document, &record.Meta.Status, &record.Meta.Created, &record.Meta.Updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(document), &record.Inbox); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inbox document: %w", err)
	}
	return record, nil
}
