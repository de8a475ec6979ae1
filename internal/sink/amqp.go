package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lcrostarosa/safecheck/internal/dispatch"
)

const (
	// MessageTypeAlert carries a dispatch.Alert.
	MessageTypeAlert = "safecheck.alert"
	// MessageTypeDeleted tells consumers an alert was acknowledged.
	MessageTypeDeleted = "safecheck.alert.deleted"
)

// QueueName is the durable queue of contactID's alert notifications.
func QueueName(contactID string) string {
	return "alerts.pending." + contactID
}

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes alerts as persistent messages on one durable queue per
// contact, for push-notification workers.
type AMQP struct {
	ch Channel

	mu       sync.Mutex
	declared map[string]bool
}

// DialAMQP connects to url and opens a channel.
func DialAMQP(url string) (*AMQP, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	return NewAMQP(ch), conn, nil
}

func NewAMQP(ch Channel) *AMQP {
	return &AMQP{ch: ch, declared: make(map[string]bool)}
}

func (p *AMQP) Enqueue(ctx context.Context, contactID string, a dispatch.Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return p.publish(ctx, contactID, alertMessage(MessageTypeAlert, a.ID, body))
}

func (p *AMQP) Delete(ctx context.Context, contactID, alertID string) error {
	body, err := json.Marshal(map[string]string{"id": alertID})
	if err != nil {
		return fmt.Errorf("encode delete: %w", err)
	}
	return p.publish(ctx, contactID, alertMessage(MessageTypeDeleted, alertID, body))
}

// Close closes the channel.
func (p *AMQP) Close() error {
	return p.ch.Close()
}

func (p *AMQP) publish(ctx context.Context, contactID string, msg amqp.Publishing) error {
	queue := QueueName(contactID)
	if err := p.declare(queue); err != nil {
		return err
	}
	// default exchange, routing key = queue name
	if err := p.ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

func (p *AMQP) declare(queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared[queue] {
		return nil
	}
	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", queue, err)
	}
	p.declared[queue] = true
	return nil
}

func alertMessage(typ, id string, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Type:         typ,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
}
