package rabbitmq

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/logging"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Queue is the request queue of the remote agent. Defaults to QueueName(id).
	Queue string
	// Exchange to publish requests to. Defaults to the default exchange.
	Exchange string
	// Receivable lists the kinds the remote agent accepts.
	Receivable []core.Kind
	// Timeout bounds a single request/reply round trip.
	Timeout time.Duration
	Logger  logging.Logger
}

// Client is a core.Agent whose handler runs in another process behind a
// Server. Each Receive publishes the message to the remote agent's queue and
// waits for the correlated reply on an exclusive reply queue.
type Client struct {
	id          string
	ch          Channel
	queue       string
	exchange    string
	receivable  []core.Kind
	timeout     time.Duration
	logger      logging.Logger
	replyQueue  string
	consumerTag string

	mu      sync.Mutex
	pending map[string]chan Envelope
	closed  bool
}

// NewClient declares a reply queue on ch and starts consuming it.
func NewClient(ch Channel, agentID string, optFns ...func(o *ClientOptions)) (*Client, error) {
	if ch == nil {
		return nil, core.NewConstructionError("rabbitmq client", "channel cannot be nil")
	}
	if agentID == "" {
		return nil, core.NewConstructionError("rabbitmq client", "agent id cannot be empty")
	}

	opts := ClientOptions{
		Queue:   QueueName(agentID),
		Timeout: 30 * time.Second,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare reply queue: %w", err)
	}

	c := &Client{
		id:          agentID,
		ch:          ch,
		queue:       opts.Queue,
		exchange:    opts.Exchange,
		receivable:  slices.Clone(opts.Receivable),
		timeout:     opts.Timeout,
		logger:      logging.OrNoOp(opts.Logger),
		replyQueue:  q.Name,
		consumerTag: "agentnet.client." + uuid.NewString()[:8],
		pending:     make(map[string]chan Envelope),
	}

	deliveries, err := ch.Consume(q.Name, c.consumerTag, true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume reply queue %s: %w", q.Name, err)
	}
	go c.dispatchReplies(deliveries)

	return c, nil
}

// ID implements core.Agent.
func (c *Client) ID() string { return c.id }

// Receivable implements core.Agent.
func (c *Client) Receivable() []core.Kind { return slices.Clone(c.receivable) }

// Receive implements core.Agent by a request/reply round trip to the remote
// agent. A remote handler error is returned as the equivalent local error.
func (c *Client) Receive(ctx context.Context, msg core.Message) (core.Result, error) {
	body, err := Envelope{Messages: []core.Message{msg}}.Encode()
	if err != nil {
		return core.None(), err
	}

	correlationID := uuid.NewString()
	replyCh := make(chan Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.None(), fmt.Errorf("rabbitmq client %s is closed", c.id)
	}
	c.pending[correlationID] = replyCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	requestCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err = c.ch.PublishWithContext(requestCtx, c.exchange, c.queue, false, false, amqp.Publishing{
		ContentType:   ContentType,
		CorrelationId: correlationID,
		ReplyTo:       c.replyQueue,
		MessageId:     msg.ID,
		Type:          string(msg.Kind),
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return core.None(), fmt.Errorf("failed to publish %s to %s: %w", msg.ID, c.queue, err)
	}
	c.logger.Debug("rabbitmq.request", "agent", c.id, "message_id", msg.ID, "correlation_id", correlationID)

	select {
	case reply := <-replyCh:
		if err := reply.Err(c.id, msg); err != nil {
			return core.None(), err
		}
		return core.Slice(reply.Messages...), nil
	case <-requestCtx.Done():
		return core.None(), fmt.Errorf("request %s to %s timeout or cancelled: %w", msg.ID, c.id, requestCtx.Err())
	}
}

func (c *Client) dispatchReplies(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		c.mu.Lock()
		replyCh, ok := c.pending[d.CorrelationId]
		c.mu.Unlock()
		if !ok {
			c.logger.Warn("rabbitmq.reply.orphan", "agent", c.id, "correlation_id", d.CorrelationId)
			continue
		}

		env, err := DecodeEnvelope(d.Body)
		if err != nil {
			env = errorEnvelope(err)
		}
		select {
		case replyCh <- env:
		default:
			c.logger.Warn("rabbitmq.reply.duplicate", "agent", c.id, "correlation_id", d.CorrelationId)
		}
	}
}

// Close stops consuming replies. Pending requests run into their timeout.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.ch.Cancel(c.consumerTag, false); err != nil {
		return fmt.Errorf("failed to cancel consumer %s: %w", c.consumerTag, err)
	}
	return nil
}
