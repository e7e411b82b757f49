package inbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/digitalbazaar/bedrock-ldn-inbox/storage"
)

// mockDynamoDBClient is a test double for DynamoDB operations.
type mockDynamoDBClient struct {
	getItemFunc     func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	putItemFunc     func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	updateItemFunc  func(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	queryFunc       func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	scanFunc        func(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	createTableFunc func(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, input, opts...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, input, opts...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, input, opts...)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamoDBClient) Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, input, opts...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockDynamoDBClient) Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if m.scanFunc != nil {
		return m.scanFunc(ctx, input, opts...)
	}
	return &dynamodb.ScanOutput{}, nil
}

func (m *mockDynamoDBClient) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if m.createTableFunc != nil {
		return m.createTableFunc(ctx, input, opts...)
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func testRecord(now time.Time) *Record {
	return &Record{
		ID:         storage.Hash("https://example.org/inboxes/alpha"),
		DocumentID: "https://example.org/inboxes/alpha",
		Owner:      storage.Hash("https://example.org/users/alice"),
		Inbox: map[string]any{
			"id":   "https://example.org/inboxes/alpha",
			"type": "Container",
		},
		Meta: Meta{
			Created: now,
			Updated: now,
			Owner:   "https://example.org/users/alice",
			Status:  storage.StatusActive,
		},
	}
}

func TestDynamoDBRepositoryInsert(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := testRecord(now)

	mock := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			if aws.ToString(input.ConditionExpression) != "attribute_not_exists(pk)" {
				t.Errorf("unexpected condition: %v", aws.ToString(input.ConditionExpression))
			}
			if pk, ok := input.Item["pk"].(*types.AttributeValueMemberS); !ok || pk.Value != record.ID {
				t.Errorf("unexpected pk: %v", input.Item["pk"])
			}
			if owner, ok := input.Item[AttrOwner].(*types.AttributeValueMemberS); !ok || owner.Value != record.Owner {
				t.Errorf("unexpected owner: %v", input.Item[AttrOwner])
			}
			if status, ok := input.Item["status"].(*types.AttributeValueMemberS); !ok || status.Value != "active" {
				t.Errorf("unexpected status: %v", input.Item["status"])
			}
			return &dynamodb.PutItemOutput{}, nil
		},
	}

	repo := NewDynamoDBRepository(mock, "ldn_inbox")
	if err := repo.Insert(ctx, record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDynamoDBRepositoryInsertDuplicate(t *testing.T) {
	mock := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		},
	}

	repo := NewDynamoDBRepository(mock, "ldn_inbox")
	err := repo.Insert(context.Background(), testRecord(time.Now()))
	if !errors.Is(err, ErrDuplicateInbox) {
		t.Fatalf("expected ErrDuplicateInbox, got %v", err)
	}
}

func TestDynamoDBRepositoryFindActive(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := testRecord(now)
	item, err := marshalInboxItem(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mock := &mockDynamoDBClient{
		getItemFunc: func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			if pk, ok := input.Key["pk"].(*types.AttributeValueMemberS); !ok || pk.Value != record.ID {
				t.Errorf("unexpected pk: %v", input.Key["pk"])
			}
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
	}

	repo := NewDynamoDBRepository(mock, "ldn_inbox")
	got, err := repo.FindActive(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DocumentID != record.DocumentID {
		t.Errorf("documentId = %q, want %q", got.DocumentID, record.DocumentID)
	}
	if got.Meta.Owner != record.Meta.Owner {
		t.Errorf("meta.owner = %q, want %q", got.Meta.Owner, record.Meta.Owner)
	}
	if got.Inbox["type"] != "Container" {
		t.Errorf("document not round-tripped: %v", got.Inbox)
	}
	if !got.Meta.Created.Equal(now) {
		t.Errorf("created = %v, want %v", got.Meta.Created, now)
	}
}

func TestDynamoDBRepositoryFindActiveMissing(t *testing.T) {
	repo := NewDynamoDBRepository(&mockDynamoDBClient{}, "ldn_inbox")
	_, err := repo.FindActive(context.Background(), storage.Hash("nope"))
	if !errors.Is(err, ErrInboxNotFound) {
		t.Fatalf("expected ErrInboxNotFound, got %v", err)
	}
}

func TestDynamoDBRepositoryFindActiveTombstoned(t *testing.T) {
	record := testRecord(time.Now())
	record.Meta.Status = storage.StatusDeleted
	item, err := marshalInboxItem(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mock := &mockDynamoDBClient{
		getItemFunc: func(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
	}

	repo := NewDynamoDBRepository(mock, "ldn_inbox")
	_, err = repo.FindActive(context.Background(), record.ID)
	if !errors.Is(err, ErrInboxNotFound) {
		t.Fatalf("expected ErrInboxNotFound for tombstone, got %v", err)
	}
}

func TestDynamoDBRepositoryFindAllByOwner(t *testing.T) {
	record := testRecord(time.Now())
	item, err := marshalInboxItem(record)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mock := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			if aws.ToString(input.IndexName) != OwnerIndex {
				t.Errorf("unexpected index: %v", aws.ToString(input.IndexName))
			}
			if owner, ok := input.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS); !ok || owner.Value != record.Owner {
				t.Errorf("unexpected owner key: %v", input.ExpressionAttributeValues[":owner"])
			}
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}, nil
		},
	}

	repo := NewDynamoDBRepository(mock, "ldn_inbox")
	records, err := repo.FindAll(context.Background(), Query{Owner: record.Owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ID != record.ID {
		t.Fatalf("unexpected records: %v", records)
	}
}

func TestDynamoDBRepositoryFindAllBroad(t *testing.T) {
	scanned := false
	mock := &mockDynamoDBClient{
		scanFunc: func(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
			scanned = true
			if !strings.Contains(aws.ToString(input.FilterExpression), ":active") {
				t.Errorf("scan must filter on status: %v", aws.ToString(input.FilterExpression))
			}
			return &dynamodb.ScanOutput{}, nil
		},
	}

	repo := NewDynamoDBRepository(mock, "ldn_inbox")
	records, err := repo.FindAll(context.Background(), Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !scanned {
		t.Error("expected a scan for the broad query")
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", records)
	}
}

func TestDynamoDBRepositoryMarkDeleted(t *testing.T) {
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	key := storage.Hash("https://example.org/inboxes/alpha")

	mock := &mockDynamoDBClient{
		updateItemFunc: func(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			cond := aws.ToString(input.ConditionExpression)
			if !strings.Contains(cond, "attribute_exists(pk)") || !strings.Contains(cond, "#status = :active") {
				t.Errorf("unexpected condition: %v", cond)
			}
			if deleted, ok := input.ExpressionAttributeValues[":deleted"].(*types.AttributeValueMemberS); !ok || deleted.Value != "deleted" {
				t.Errorf("unexpected :deleted value")
			}
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}

	repo := NewDynamoDBRepository(mock, "ldn_inbox")
	if err := repo.MarkDeleted(context.Background(), key, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDynamoDBRepositoryMarkDeletedRace(t *testing.T) {
	mock := &mockDynamoDBClient{
		updateItemFunc: func(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("no match")}
		},
	}

	repo := NewDynamoDBRepository(mock, "ldn_inbox")
	err := repo.MarkDeleted(context.Background(), storage.Hash("gone"), time.Now())
	if !errors.Is(err, ErrInboxNotFound) {
		t.Fatalf("expected ErrInboxNotFound, got %v", err)
	}
}

func TestDynamoDBRepositoryEnsureSchemaExisting(t *testing.T) {
	mock := &mockDynamoDBClient{
		createTableFunc: func(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
			return nil, &types.ResourceInUseException{Message: aws.String("exists")}
		},
	}

	repo := NewDynamoDBRepository(mock, "ldn_inbox")
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("existing table must not error: %v", err)
	}
}
