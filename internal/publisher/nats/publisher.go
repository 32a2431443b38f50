// Package nats publishes completion events to NATS subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type conn interface {
	PublishMsg(msg *nats.Msg) error
	Drain() error
}

// Config controls the connection and subject naming.
type Config struct {
	URL string
	// SubjectPrefix is prepended to the topic passed to Publish.
	SubjectPrefix string
	Name          string
}

// Publisher sends JSON payloads as core NATS messages.
type Publisher struct {
	conn   conn
	prefix string
}

// New connects to cfg.URL.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "graphbuilder"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: nc, prefix: cfg.SubjectPrefix}, nil
}

// Publish marshals payload and publishes it on prefix+topic. NATS assigns no
// message ids, so a random id is generated and sent in the Nats-Msg-Id header.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	subject := p.subject(topic)
	if subject == "" {
		return "", fmt.Errorf("nats subject is empty")
	}
	id := uuid.NewString()
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, id)
	if err := p.conn.PublishMsg(msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", subject, err)
	}
	return id, nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

func (p *Publisher) subject(topic string) string {
	prefix := strings.TrimSuffix(p.prefix, ".")
	switch {
	case prefix == "":
		return topic
	case topic == "":
		return prefix
	default:
		return prefix + "." + topic
	}
}
