// Package amqp publishes expense change events to RabbitMQ.
package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"hazine/internal/log"
)

const publishTimeout = 5 * time.Second

// channel is the part of *amqp091.Channel the client publishes through.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

type Client struct {
	conn         *amqp091.Connection
	exchangeName string
	routingKey   string
	logger       *log.Logger

	mu sync.Mutex
	ch channel
}

// NewClient dials url and declares a durable topic exchange. When queueName
// is set a durable queue is declared and bound to every event of the
// exchange, so events are kept even before a consumer exists.
func NewClient(url, exchangeName, routingKey, queueName string, logger *log.Logger) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		ch:           ch,
		exchangeName: exchangeName,
		routingKey:   routingKey,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}

	if err := client.setup(ch, queueName); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

func (c *Client) setup(ch *amqp091.Channel, queueName string) error {
	err := ch.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if queueName == "" {
		return nil
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(queueName, c.routingKey+".#", c.exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// RoutingKey is "<prefix>.<event type>", e.g. "expenses.created".
func (c *Client) RoutingKey(typ EventType) string {
	return c.routingKey + "." + string(typ)
}

// PublishExpenseEvent sends ev as a persistent JSON message. The call is
// bounded by a 5s timeout on top of ctx.
func (c *Client) PublishExpenseEvent(ctx context.Context, ev ExpenseEvent) error {
	body, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	key := c.RoutingKey(ev.Type)

	c.mu.Lock()
	err = c.ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		key,            // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    ev.Timestamp,
			Type:         string(ev.Type),
			Body:         body,
		},
	)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	c.logger.DebugContext(ctx, "Published expense event",
		log.FieldExpenseID, ev.ExpenseID,
		log.FieldRoutingKey, key,
		"exchange", c.exchangeName,
	)
	return nil
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
