package storage

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient defines the interface for DynamoDB operations.
type DynamoDBClient interface {
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, input *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Attribute names shared by the inbox and message tables.
const (
	AttrPK         = "pk"
	AttrDocumentID = "documentId"
	AttrDocument   = "document"
	AttrStatus     = "status"
	AttrCreated    = "created"
	AttrUpdated    = "updated"
)

// Record status values. Remove flips a record from active to deleted; the
// hashed identifier stays reserved forever.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// IsConditionalCheckFailed reports whether err is a DynamoDB conditional
// write rejection, i.e. the zero-affected-rows outcome of a guarded update.
func IsConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// IsTableExists reports whether err is a CreateTable collision with an
// already-provisioned table.
func IsTableExists(err error) bool {
	var in *types.ResourceInUseException
	return errors.As(err, &in)
}
