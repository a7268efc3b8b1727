package rabbitmq

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/logging"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Queue to consume. Defaults to QueueName of the served agent.
	Queue string
	// Durable declares the queue durable.
	Durable     bool
	ConsumerTag string
	Logger      logging.Logger
}

// Server exposes a local agent on a request queue.
type Server struct {
	agent       core.Agent
	ch          Channel
	queue       string
	durable     bool
	consumerTag string
	logger      logging.Logger
}

// NewServer creates a server for a.
func NewServer(ch Channel, a core.Agent, optFns ...func(o *ServerOptions)) (*Server, error) {
	if ch == nil {
		return nil, core.NewConstructionError("rabbitmq server", "channel cannot be nil")
	}
	if a == nil {
		return nil, core.NewConstructionError("rabbitmq server", "agent cannot be nil")
	}

	opts := ServerOptions{
		Queue:       QueueName(a.ID()),
		ConsumerTag: "agentnet.server." + uuid.NewString()[:8],
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Server{
		agent:       a,
		ch:          ch,
		queue:       opts.Queue,
		durable:     opts.Durable,
		consumerTag: opts.ConsumerTag,
		logger:      logging.OrNoOp(opts.Logger),
	}, nil
}

// Queue returns the consumed queue.
func (s *Server) Queue() string { return s.queue }

// Serve declares the request queue and handles deliveries one at a time
// until ctx is done or the broker closes the consumer.
func (s *Server) Serve(ctx context.Context) error {
	if _, err := s.ch.QueueDeclare(s.queue, s.durable, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", s.queue, err)
	}
	deliveries, err := s.ch.Consume(s.queue, s.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", s.queue, err)
	}
	s.logger.Info("rabbitmq.serve", "agent", s.agent.ID(), "queue", s.queue)

	for {
		select {
		case <-ctx.Done():
			if err := s.ch.Cancel(s.consumerTag, false); err != nil {
				s.logger.Warn("rabbitmq.cancel", "queue", s.queue, "error", err.Error())
			}
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			s.handle(ctx, d)
		}
	}
}

func (s *Server) handle(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	reply := s.process(ctx, d.Body)
	if d.ReplyTo != "" {
		body, err := reply.Encode()
		if err == nil {
			err = s.ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
				ContentType:   ContentType,
				CorrelationId: d.CorrelationId,
				Timestamp:     time.Now(),
				Body:          body,
			})
		}
		if err != nil {
			s.logger.Error("rabbitmq.reply.failed", "agent", s.agent.ID(), "correlation_id", d.CorrelationId, "error", err.Error())
			// the handler already ran; a requeue would repeat its side effects
			if nackErr := d.Nack(false, false); nackErr != nil {
				s.logger.Debug("rabbitmq.nack", "error", nackErr.Error())
			}
			return
		}
	}
	if ackErr := d.Ack(false); ackErr != nil {
		s.logger.Debug("rabbitmq.ack", "error", ackErr.Error())
	}

	s.logger.Debug(
		"rabbitmq.handled",
		"agent", s.agent.ID(),
		"correlation_id", d.CorrelationId,
		"replies", len(reply.Messages),
		"error", reply.Error != "",
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// process delivers every message of the request envelope to the agent and
// collects what it produced. The first error ends processing.
func (s *Server) process(ctx context.Context, body []byte) (reply Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("rabbitmq.handler.panic", "agent", s.agent.ID(), "recover", rec, "stack", string(debug.Stack()))
			reply = errorEnvelope(fmt.Errorf("panic: %v", rec))
		}
	}()

	req, err := DecodeEnvelope(body)
	if err != nil {
		return errorEnvelope(err)
	}

	reply.Messages = []core.Message{}
	for _, msg := range req.Messages {
		result, err := s.agent.Receive(ctx, msg)
		if err != nil {
			return errorEnvelope(err)
		}
		msgs, err := result.Collect()
		if err != nil {
			return errorEnvelope(err)
		}
		reply.Messages = append(reply.Messages, msgs...)
	}
	return reply
}
