package notify

import (
	"context"
	"fmt"

	"github.com/streadway/amqp"
)

// AMQPPublisher is the subset of *amqp.Channel used by AMQPChannel.
type AMQPPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPChannel publishes events to a topic exchange; the routing key is the event name.
type AMQPChannel struct {
	ch       AMQPPublisher
	exchange string
	closers  []func() error
}

// DialAMQP connects to the broker at url and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPChannel, error) {
	if exchange == "" {
		exchange = "scenepipe.events"
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // args
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	a := NewAMQPChannel(ch, exchange)
	a.closers = []func() error{ch.Close, conn.Close}
	return a, nil
}

// NewAMQPChannel wraps an already configured channel.
func NewAMQPChannel(ch AMQPPublisher, exchange string) *AMQPChannel {
	return &AMQPChannel{ch: ch, exchange: exchange}
}

// Publish implements Channel.
func (a *AMQPChannel) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := e.Payload()
	if err != nil {
		return err
	}
	err = a.ch.Publish(a.exchange, e.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Timestamp,
		AppId:        "scenepipe",
	})
	if err != nil {
		return fmt.Errorf("amqp publish %s: %w", e.Name, err)
	}
	return nil
}

// Close closes the channel and connection opened by DialAMQP.
func (a *AMQPChannel) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ Channel = (*AMQPChannel)(nil)
