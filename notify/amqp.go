// Package notify delivers password reset links to the mail worker over
// RabbitMQ.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "authcore.password-reset"

// PasswordResetMessage is the body published for each reset request.
type PasswordResetMessage struct {
	Type      string    `json:"type"`
	Email     string    `json:"email"`
	ResetLink string    `json:"reset_link"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher is the subset of *amqp.Channel the notifier uses.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier implements authcore.ResetNotifier by publishing one
// persistent JSON message per reset to a queue.
type AMQPNotifier struct {
	Publisher Publisher
	Queue     string
	Now       func() time.Time
}

func (n *AMQPNotifier) queue() string {
	if n.Queue == "" {
		return DefaultQueue
	}
	return n.Queue
}

func (n *AMQPNotifier) NotifyPasswordReset(ctx context.Context, email, resetLink string) error {
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	body, err := json.Marshal(PasswordResetMessage{
		Type:      "password_reset",
		Email:     email,
		ResetLink: resetLink,
		CreatedAt: now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.Publisher.PublishWithContext(ctx, "", n.queue(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now().UTC(),
		Body:         body,
	})
}

// Connection owns the AMQP connection and channel behind an AMQPNotifier.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to url and declares a durable queue.
func Dial(url, queue string) (*Connection, *AMQPNotifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil, errors.New("amqp url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	n := &AMQPNotifier{Publisher: ch, Queue: queue}
	if _, err := ch.QueueDeclare(n.queue(), true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return &Connection{conn: conn, channel: ch}, n, nil
}

// Close closes the underlying channel and connection.
func (c *Connection) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
