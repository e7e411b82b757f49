package message

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/digitalbazaar/bedrock-ldn-inbox/storage"
)

// mockDynamoDBClient is a test double for the DynamoDB client.
type mockDynamoDBClient struct {
	getItemFunc     func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	putItemFunc     func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	updateItemFunc  func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	queryFunc       func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	scanFunc        func(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	createTableFunc func(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

func (m *mockDynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamoDBClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if m.updateItemFunc != nil {
		return m.updateItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, params, optFns...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func (m *mockDynamoDBClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if m.scanFunc != nil {
		return m.scanFunc(ctx, params, optFns...)
	}
	return &dynamodb.ScanOutput{}, nil
}

func (m *mockDynamoDBClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if m.createTableFunc != nil {
		return m.createTableFunc(ctx, params, optFns...)
	}
	return &dynamodb.CreateTableOutput{}, nil
}

const testTable = "ldn_message_test"

func testRecord() *Record {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Record{
		ID:         storage.Hash(msgM),
		DocumentID: msgM,
		Inbox:      storage.Hash(boxA),
		Message:    messageDocument(msgM),
		Meta: Meta{
			Created: now,
			Updated: now,
			Status:  storage.StatusActive,
			Inbox:   boxA,
			Extra:   map[string]any{"origin": "outbox"},
		},
	}
}

func TestDynamoDBInsert(t *testing.T) {
	var captured *dynamodb.PutItemInput
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	if err := repo.Insert(context.Background(), testRecord()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured == nil {
		t.Fatal("expected a PutItem call")
	}
	if *captured.ConditionExpression != "attribute_not_exists(pk)" {
		t.Errorf("condition = %q", *captured.ConditionExpression)
	}
	if v, ok := captured.Item[AttrInboxID].(*types.AttributeValueMemberS); !ok || v.Value != boxA {
		t.Errorf("inboxId attribute = %v", captured.Item[AttrInboxID])
	}
	if _, ok := captured.Item[AttrExtra]; !ok {
		t.Error("expected extra meta attribute")
	}
}

func TestDynamoDBInsertDuplicate(t *testing.T) {
	client := &mockDynamoDBClient{
		putItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	err := repo.Insert(context.Background(), testRecord())
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected ErrDuplicateMessage, got %v", err)
	}
}

func TestDynamoDBFindActive(t *testing.T) {
	stored := testRecord()
	item, err := marshalMessageItem(stored)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	client := &mockDynamoDBClient{
		getItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	record, err := repo.FindActive(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.DocumentID != msgM || record.Meta.Inbox != boxA {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.Meta.Extra["origin"] != "outbox" {
		t.Errorf("extra meta not restored: %v", record.Meta.Extra)
	}
	if !record.Meta.Created.Equal(stored.Meta.Created) {
		t.Errorf("created = %v, want %v", record.Meta.Created, stored.Meta.Created)
	}
}

func TestDynamoDBFindActiveTombstoned(t *testing.T) {
	stored := testRecord()
	stored.Meta.Status = storage.StatusDeleted
	item, err := marshalMessageItem(stored)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	client := &mockDynamoDBClient{
		getItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	if _, err := repo.FindActive(context.Background(), stored.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound for a tombstone, got %v", err)
	}
}

func TestDynamoDBFindAllByInbox(t *testing.T) {
	stored := testRecord()
	item, err := marshalMessageItem(stored)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			if *params.IndexName != InboxIndex {
				t.Errorf("index = %q, want %q", *params.IndexName, InboxIndex)
			}
			if v, ok := params.ExpressionAttributeValues[":inbox"].(*types.AttributeValueMemberS); !ok || v.Value != stored.Inbox {
				t.Errorf(":inbox = %v", params.ExpressionAttributeValues[":inbox"])
			}
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}, nil
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	records, err := repo.FindAll(context.Background(), Query{Inbox: stored.Inbox})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].DocumentID != msgM {
		t.Fatalf("unexpected records: %v", records)
	}
}

func TestDynamoDBActiveIDs(t *testing.T) {
	client := &mockDynamoDBClient{
		queryFunc: func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			if !strings.Contains(*params.ProjectionExpression, "#documentId") {
				t.Errorf("projection = %q", *params.ProjectionExpression)
			}
			return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
				{storage.AttrDocumentID: &types.AttributeValueMemberS{Value: "urn:uuid:m-1"}},
				{storage.AttrDocumentID: &types.AttributeValueMemberS{Value: "urn:uuid:m-2"}},
			}}, nil
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	ids, err := repo.ActiveIDs(context.Background(), storage.Hash(boxA))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "urn:uuid:m-1" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestDynamoDBSetInbox(t *testing.T) {
	var captured *dynamodb.UpdateItemInput
	client := &mockDynamoDBClient{
		updateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			captured = params
			return &dynamodb.UpdateItemOutput{}, nil
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	now := time.Now().UTC()
	err := repo.SetInbox(context.Background(), storage.Hash(msgM), storage.Hash(boxB), boxB, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured == nil {
		t.Fatal("expected an UpdateItem call")
	}
	if *captured.ConditionExpression != "attribute_exists(pk) AND #inboxId <> :inboxId" {
		t.Errorf("condition = %q", *captured.ConditionExpression)
	}
	if v, ok := captured.ExpressionAttributeValues[":inboxId"].(*types.AttributeValueMemberS); !ok || v.Value != boxB {
		t.Errorf(":inboxId = %v", captured.ExpressionAttributeValues[":inboxId"])
	}
	if v, ok := captured.ExpressionAttributeValues[":inbox"].(*types.AttributeValueMemberS); !ok || v.Value != storage.Hash(boxB) {
		t.Errorf(":inbox = %v", captured.ExpressionAttributeValues[":inbox"])
	}
}

func TestDynamoDBSetInboxNoMatch(t *testing.T) {
	client := &mockDynamoDBClient{
		updateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	err := repo.SetInbox(context.Background(), storage.Hash(msgM), storage.Hash(boxA), boxA, time.Now().UTC())
	if !errors.Is(err, ErrNoMatchingMessage) {
		t.Fatalf("expected ErrNoMatchingMessage, got %v", err)
	}
}

func TestDynamoDBMarkDeletedRace(t *testing.T) {
	client := &mockDynamoDBClient{
		updateItemFunc: func(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
			return nil, &types.ConditionalCheckFailedException{}
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	err := repo.MarkDeleted(context.Background(), storage.Hash(msgM), time.Now().UTC())
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestDynamoDBEnsureSchemaExisting(t *testing.T) {
	client := &mockDynamoDBClient{
		createTableFunc: func(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
			return nil, &types.ResourceInUseException{}
		},
	}
	repo := NewDynamoDBRepository(client, testTable)

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("an existing table must be tolerated: %v", err)
	}
}
