package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/digitalbazaar/bedrock-ldn-inbox/storage"
)

// DynamoDBRepository implements Repository using DynamoDB. The table is
// keyed on the hashed message id; a global secondary index keyed on the
// hashed inbox supports per-inbox listing.
type DynamoDBRepository struct {
	client    storage.DynamoDBClient
	tableName string
}

// NewDynamoDBRepository creates a new DynamoDBRepository.
func NewDynamoDBRepository(client storage.DynamoDBClient, tableName string) *DynamoDBRepository {
	return &DynamoDBRepository{
		client:    client,
		tableName: tableName,
	}
}

// Insert stores a new message record, rejecting hashed ids that already
// exist, tombstoned records included.
func (r *DynamoDBRepository) Insert(ctx context.Context, record *Record) error {
	item, err := marshalMessageItem(record)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		if storage.IsConditionalCheckFailed(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindActive retrieves a message by its hashed id, excluding tombstones.
func (r *DynamoDBRepository) FindActive(ctx context.Context, key string) (*Record, error) {
	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			storage.AttrPK: &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if output.Item == nil {
		return nil, ErrMessageNotFound
	}
	record, err := unmarshalMessageItem(output.Item)
	if err != nil {
		return nil, err
	}
	if record.Meta.Status != storage.StatusActive {
		return nil, ErrMessageNotFound
	}
	return record, nil
}

// FindAll lists active messages, using the inbox index when the query is
// inbox-scoped and a filtered scan otherwise.
func (r *DynamoDBRepository) FindAll(ctx context.Context, query Query) ([]*Record, error) {
	var items []map[string]types.AttributeValue

	if query.Inbox != "" {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String(InboxIndex),
			KeyConditionExpression: aws.String("#inbox = :inbox"),
			FilterExpression:       aws.String("#status = :active"),
			ExpressionAttributeNames: map[string]string{
				"#inbox":  AttrInbox,
				"#status": storage.AttrStatus,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":inbox":  &types.AttributeValueMemberS{Value: query.Inbox},
				":active": &types.AttributeValueMemberS{Value: storage.StatusActive},
			},
		}
		if query.Limit > 0 {
			input.Limit = aws.Int32(int32(query.Limit))
		}
		output, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query messages: %w", err)
		}
		items = output.Items
	} else {
		input := &dynamodb.ScanInput{
			TableName:        aws.String(r.tableName),
			FilterExpression: aws.String("#status = :active"),
			ExpressionAttributeNames: map[string]string{
				"#status": storage.AttrStatus,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":active": &types.AttributeValueMemberS{Value: storage.StatusActive},
			},
		}
		if query.Limit > 0 {
			input.Limit = aws.Int32(int32(query.Limit))
		}
		output, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan messages: %w", err)
		}
		items = output.Items
	}

	records := make([]*Record, 0, len(items))
	for _, item := range items {
		record, err := unmarshalMessageItem(item)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// ActiveIDs lists the plain ids of the active messages in an inbox. It
// backs the inbox store's "contains" augmentation.
func (r *DynamoDBRepository) ActiveIDs(ctx context.Context, inboxKey string) ([]string, error) {
	output, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(InboxIndex),
		KeyConditionExpression: aws.String("#inbox = :inbox"),
		FilterExpression:       aws.String("#status = :active"),
		ProjectionExpression:   aws.String("#documentId"),
		ExpressionAttributeNames: map[string]string{
			"#inbox":      AttrInbox,
			"#status":     storage.AttrStatus,
			"#documentId": storage.AttrDocumentID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inbox":  &types.AttributeValueMemberS{Value: inboxKey},
			":active": &types.AttributeValueMemberS{Value: storage.StatusActive},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list message ids: %w", err)
	}
	ids := make([]string, 0, len(output.Items))
	for _, item := range output.Items {
		if v, ok := item[storage.AttrDocumentID].(*types.AttributeValueMemberS); ok {
			ids = append(ids, v.Value)
		}
	}
	return ids, nil
}

// MarkDeleted tombstones a message, restricted to currently-active records.
func (r *DynamoDBRepository) MarkDeleted(ctx context.Context, key string, now time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			storage.AttrPK: &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET #status = :deleted, #updated = :updated"),
		ConditionExpression: aws.String("attribute_exists(pk) AND #status = :active"),
		ExpressionAttributeNames: map[string]string{
			"#status":  storage.AttrStatus,
			"#updated": storage.AttrUpdated,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":deleted": &types.AttributeValueMemberS{Value: storage.StatusDeleted},
			":active":  &types.AttributeValueMemberS{Value: storage.StatusActive},
			":updated": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if storage.IsConditionalCheckFailed(err) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("failed to mark message deleted: %w", err)
	}
	return nil
}

// SetInbox moves a message to another inbox in one conditional write. The
// inequality guard rejects no-op moves and races where the message already
// left its expected source.
func (r *DynamoDBRepository) SetInbox(ctx context.Context, key, inboxKey, inboxID string, now time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			storage.AttrPK: &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("SET #inbox = :inbox, #inboxId = :inboxId, #updated = :updated"),
		ConditionExpression: aws.String("attribute_exists(pk) AND #inboxId <> :inboxId"),
		ExpressionAttributeNames: map[string]string{
			"#inbox":   AttrInbox,
			"#inboxId": AttrInboxID,
			"#updated": storage.AttrUpdated,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inbox":   &types.AttributeValueMemberS{Value: inboxKey},
			":inboxId": &types.AttributeValueMemberS{Value: inboxID},
			":updated": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if storage.IsConditionalCheckFailed(err) {
			return ErrNoMatchingMessage
		}
		return fmt.Errorf("failed to move message: %w", err)
	}
	return nil
}

// EnsureSchema provisions the message table and its inbox index,
// tolerating a table that already exists.
func (r *DynamoDBRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(r.tableName),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(storage.AttrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrInbox), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(storage.AttrPK), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(InboxIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(AttrInbox), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(storage.AttrPK), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	})
	if err != nil && !storage.IsTableExists(err) {
		return fmt.Errorf("failed to create message table: %w", err)
	}
	return nil
}

// marshalMessageItem converts a Record to DynamoDB attribute values.
func marshalMessageItem(record *Record) (map[string]types.AttributeValue, error) {
	document, err := json.Marshal(record.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message document: %w", err)
	}
	item := map[string]types.AttributeValue{
		storage.AttrPK:         &types.AttributeValueMemberS{Value: record.ID},
		storage.AttrDocumentID: &types.AttributeValueMemberS{Value: record.DocumentID},
		AttrInbox:              &types.AttributeValueMemberS{Value: record.Inbox},
		AttrInboxID:            &types.AttributeValueMemberS{Value: record.Meta.Inbox},
		storage.AttrDocument:   &types.AttributeValueMemberS{Value: string(document)},
		storage.AttrStatus:     &types.AttributeValueMemberS{Value: record.Meta.Status},
		storage.AttrCreated:    &types.AttributeValueMemberS{Value: record.Meta.Created.UTC().Format(time.RFC3339)},
		storage.AttrUpdated:    &types.AttributeValueMemberS{Value: record.Meta.Updated.UTC().Format(time.RFC3339)},
	}
	if len(record.Meta.Extra) > 0 {
		extra, err := json.Marshal(record.Meta.Extra)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message meta: %w", err)
		}
		item[AttrExtra] = &types.AttributeValueMemberS{Value: string(extra)}
	}
	return item, nil
}

// unmarshalMessageItem converts DynamoDB attribute values to a Record.
func unmarshalMessageItem(item map[string]types.AttributeValue) (*Record, error) {
	record := &Record{}

	if v, ok := item[storage.AttrPK].(*types.AttributeValueMemberS); ok {
		record.ID = v.Value
	}
	if v, ok := item[storage.AttrDocumentID].(*types.AttributeValueMemberS); ok {
		record.DocumentID = v.Value
	}
	if v, ok := item[AttrInbox].(*types.AttributeValueMemberS); ok {
		record.Inbox = v.Value
	}
	if v, ok := item[AttrInboxID].(*types.AttributeValueMemberS); ok {
		record.Meta.Inbox = v.Value
	}
	if v, ok := item[storage.AttrStatus].(*types.AttributeValueMemberS); ok {
		record.Meta.Status = v.Value
	}
	if v, ok := item[storage.AttrDocument].(*types.AttributeValueMemberS); ok {
		if err := json.Unmarshal([]byte(v.Value), &record.Message); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message document: %w", err)
		}
	}
	if v, ok := item[AttrExtra].(*types.AttributeValueMemberS); ok {
		if err := json.Unmarshal([]byte(v.Value), &record.Meta.Extra); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message meta: %w", err)
		}
	}
	if v, ok := item[storage.AttrCreated].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			record.Meta.Created = t
		}
	}
	if v, ok := item[storage.AttrUpdated].(*types.AttributeValueMemberS); ok {
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			record.Meta.Updated = t
		}
	}

	return record, nil
}
