// Package notify publishes delivery notifications for message writes so
// downstream consumers can react to inbox activity without polling.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Action identifies the write that produced an event.
type Action string

const (
	ActionStored Action = "stored"
	ActionMoved  Action = "moved"
)

// Event describes a message write.
type Event struct {
	MessageID string `json:"messageId"`
	InboxID   string `json:"inboxId"`
	Action    Action `json:"action"`
}

// Publisher publishes delivery notifications.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes delivery notifications to an SQS queue.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
}

// NewSQSPublisher creates a new SQSPublisher.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
	}
}

// Publish sends a delivery notification to SQS.
func (p *SQSPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	bodyStr := string(body)
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &bodyStr,
	})
	return err
}
