// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub"
)

// TopicAttribute names the message attribute carrying the logical topic.
const TopicAttribute = "graphbuilder_topic"

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
}

type gcpTopic struct {
	t *pubsub.Topic
}

func (g gcpTopic) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return g.t.Publish(ctx, msg)
}

// Publisher sends JSON payloads to one Pub/Sub topic. The logical topic passed
// to Publish travels as a message attribute.
type Publisher struct {
	client *pubsub.Client
	topic  topic
}

// New connects to projectID and binds topicName.
func New(ctx context.Context, projectID, topicName string) (*Publisher, error) {
	if projectID == "" || topicName == "" {
		return nil, fmt.Errorf("pubsub project id and topic name are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{client: client, topic: gcpTopic{t: client.Topic(topicName)}}, nil
}

// Publish marshals the payload to JSON and publishes it, returning the
// server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, topicName string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if topicName != "" {
		msg.Attributes[TopicAttribute] = topicName
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	if gt, ok := p.topic.(gcpTopic); ok {
		gt.t.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
