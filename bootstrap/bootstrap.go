// Package bootstrap wires the storage backend, permission gate, and stores
// together at storage-ready time: it provisions both collections, ensures
// their indexes, and seeds the configured inboxes idempotently.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/digitalbazaar/bedrock-ldn-inbox/config"
	"github.com/digitalbazaar/bedrock-ldn-inbox/inbox"
	"github.com/digitalbazaar/bedrock-ldn-inbox/lderr"
	"github.com/digitalbazaar/bedrock-ldn-inbox/message"
	"github.com/digitalbazaar/bedrock-ldn-inbox/notify"
	"github.com/digitalbazaar/bedrock-ldn-inbox/permission"
)

// System holds the constructed access layer. It is created once at
// startup and lives for the process lifetime.
type System struct {
	Inboxes  *inbox.Store
	Messages *message.Store

	db *sql.DB
}

// Close releases the backend connection, if any.
func (s *System) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// New builds the full access layer from configuration: backend
// repositories, permission gate over the given oracle, stores, and the
// optional notification publisher. It then ensures both collection
// schemas and seeds the configured inboxes.
func New(ctx context.Context, cfg *config.Config, oracle permission.Oracle, logger *slog.Logger) (*System, error) {
	system := &System{}

	var inboxRepo inbox.Repository
	var messageRepo message.Repository
	var publisher notify.Publisher

	switch cfg.Storage.Backend {
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		inboxRepo = inbox.NewDynamoDBRepository(client, cfg.Storage.InboxTable)
		messageRepo = message.NewDynamoDBRepository(client, cfg.Storage.MessageTable)
		if cfg.Notify.QueueURL != "" {
			publisher = notify.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.Notify.QueueURL)
		}
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		system.db = db
		inboxRepo = inbox.NewPostgresRepository(db, cfg.Storage.InboxTable)
		messageRepo = message.NewPostgresRepository(db, cfg.Storage.MessageTable)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	gate := permission.NewGate(oracle)
	system.Inboxes = inbox.NewStore(inboxRepo, gate, logger)
	system.Inboxes.SetMessageLister(messageRepo)
	system.Messages = message.NewStore(messageRepo, gate, system.Inboxes, publisher, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return inboxRepo.EnsureSchema(gctx) })
	g.Go(func() error { return messageRepo.EnsureSchema(gctx) })
	if err := g.Wait(); err != nil {
		system.Close()
		return nil, err
	}

	if err := Seed(ctx, system.Inboxes, cfg.Inboxes); err != nil {
		system.Close()
		return nil, err
	}
	return system, nil
}

// InboxAdder is the slice of the inbox store Seed needs.
type InboxAdder interface {
	Add(ctx context.Context, actor *permission.Actor, document map[string]any, owner string) (*inbox.Record, error)
}

// Seed creates the configured inboxes as the system actor. Duplicate-key
// conflicts mean the inbox was seeded on an earlier start and are
// suppressed here, and only here.
func Seed(ctx context.Context, inboxes InboxAdder, seeds map[string]config.SeedInbox) error {
	for id, seed := range seeds {
		document := make(map[string]any, len(seed.Document)+1)
		for k, v := range seed.Document {
			document[k] = v
		}
		document["id"] = id
		_, err := inboxes.Add(ctx, nil, document, seed.Owner)
		if lderr.IsKind(err, lderr.KindConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to seed inbox %q: %w", id, err)
		}
	}
	return nil
}
