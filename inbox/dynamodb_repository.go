package inbox

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
// keyed on the hashed inbox id; a global secondary index keyed on the
// hashed owner supports owner-scoped listing.
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

// Insert stores a new inbox record. The conditional put makes the hashed
// id unique across active and deleted records alike.
func (r *DynamoDBRepository) Insert(ctx context.Context, record *Record) error {
	item, err := marshalInboxItem(record)
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
			return ErrDuplicateInbox
		}
		return fmt.Errorf("failed to insert inbox: %w", err)
	}
	return nil
}

// FindActive retrieves an inbox by its hashed id, excluding tombstones.
func (r *DynamoDBRepository) FindActive(ctx context.Context, key string) (*Record, error) {
	output, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			storage.AttrPK: &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get inbox: %w", err)
	}
	if output.Item == nil {
		return nil, ErrInboxNotFound
	}
	record, err := unmarshalInboxItem(output.Item)
	if err != nil {
		return nil, err
	}
	if record.Meta.Status != storage.StatusActive {
		return nil, ErrInboxNotFound
	}
	return record, nil
}

// FindAll lists active inboxes, using the owner index when the query is
// owner-scoped and a filtered scan otherwise.
func (r *DynamoDBRepository) FindAll(ctx context.Context, query Query) ([]*Record, error) {
	var items []map[string]types.AttributeValue

	if query.Owner != "" {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(r.tableName),
			IndexName:              aws.String(OwnerIndex),
			KeyConditionExpression: aws.String("#owner = :owner"),
			FilterExpression:       aws.String("#status = :active"),
			ExpressionAttributeNames: map[string]string{
				"#owner":  AttrOwner,
				"#status": storage.AttrStatus,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner":  &types.AttributeValueMemberS{Value: query.Owner},
				":active": &types.AttributeValueMemberS{Value: storage.StatusActive},
			},
		}
		if query.Limit > 0 {
			input.Limit = aws.Int32(int32(query.Limit))
		}
		output, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query inboxes: %w", err)
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
			return nil, fmt.Errorf("failed to scan inboxes: %w", err)
		}
		items = output.Items
	}

	records := make([]*Record, 0, len(items))
	for _, item := range items {
		record, err := unmarshalInboxItem(item)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// MarkDeleted tombstones an inbox. The condition restricts the update to
// currently-active records, so a concurrent remove observably fails here
// instead of double-applying.
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
			return ErrInboxNotFound
		}
		return fmt.Errorf("failed to mark inbox deleted: %w", err)
	}
	return nil
}

// EnsureSchema provisions the inbox table and its owner index, tolerating
// a table that already exists.
func (r *DynamoDBRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(r.tableName),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(storage.AttrPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(AttrOwner), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(storage.AttrPK), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(OwnerIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(AttrOwner), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(storage.AttrPK), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	})
	if err != nil && !storage.IsTableExists(err) {
		return fmt.Errorf("failed to create inbox table: %w", err)
	}
	return nil
}

// marshalInboxItem converts a Record to DynamoDB attribute values.
func marshalInboxItem(record *Record) (map[string]types.AttributeValue, error) {
	document, err := json.Marshal(record.Inbox)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inbox document: %w", err)
	}
	return map[string]types.AttributeValue{
		storage.AttrPK:         &types.AttributeValueMemberS{Value: record.ID},
		storage.AttrDocumentID: &types.AttributeValueMemberS{Value: record.DocumentID},
		AttrOwner:              &types.AttributeValueMemberS{Value: record.Owner},
		AttrOwnerID:            &types.AttributeValueMemberS{Value: record.Meta.Owner},
		storage.AttrDocument:   &types.AttributeValueMemberS{Value: string(document)},
		storage.AttrStatus:     &types.AttributeValueMemberS{Value: record.Meta.Status},
		storage.AttrCreated:    &types.AttributeValueMemberS{Value: record.Meta.Created.UTC().Format(time.RFC3339)},
		storage.AttrUpdated:    &types.AttributeValueMemberS{Value: record.Meta.Updated.UTC().Format(time.RFC3339)},
	}, nil
}

// unmarshalInboxItem converts DynamoDB attribute values to a Record.
func unmarshalInboxItem(item map[string]types.AttributeValue) (*Record, error) {
	record := &Record{}

	if v, ok := item[storage.AttrPK].(*types.AttributeValueMemberS); ok {
		record.ID = v.Value
	}
	if v, ok := item[storage.AttrDocumentID].(*types.AttributeValueMemberS); ok {
		record.DocumentID = v.Value
	}
	if v, ok := item[AttrOwner].(*types.AttributeValueMemberS); ok {
		record.Owner = v.Value
	}
	if v, ok := item[AttrOwnerID].(*types.AttributeValueMemberS); ok {
		record.Meta.Owner = v.Value
	}
	if v, ok := item[storage.AttrStatus].(*types.AttributeValueMemberS); ok {
		record.Meta.Status = v.Value
	}
	if v, ok := item[storage.AttrDocument].(*types.AttributeValueMemberS); ok {
		if err := json.Unmarshal([]byte(v.Value), &record.Inbox); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inbox document: %w", err)
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
