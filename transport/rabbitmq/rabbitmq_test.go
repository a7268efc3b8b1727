package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/internal/testutil"
	"github.com/hupe1980/agentnet/propagation"
)

// fakeBroker is an in-memory Channel routing publishes on the default
// exchange to the queue named by the routing key.
type fakeBroker struct {
	mu          sync.Mutex
	queues      map[string]chan amqp.Delivery
	consumers   map[string]string // consumer tag -> queue
	closed      map[string]bool
	unreachable map[string]bool
	seq         int
	tag         uint64
	published   []amqp.Publishing
	acks        []uint64
	nacks       []nack
}

type nack struct {
	tag     uint64
	requeue bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queues:      map[string]chan amqp.Delivery{},
		consumers:   map[string]string{},
		closed:      map[string]bool{},
		unreachable: map[string]bool{},
	}
}

func (b *fakeBroker) Ack(tag uint64, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acks = append(b.acks, tag)
	return nil
}

func (b *fakeBroker) Nack(tag uint64, _ bool, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nacks = append(b.nacks, nack{tag: tag, requeue: requeue})
	return nil
}

func (b *fakeBroker) Reject(tag uint64, requeue bool) error {
	return b.Nack(tag, false, requeue)
}

func (b *fakeBroker) Nacks() []nack {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]nack(nil), b.nacks...)
}

func (b *fakeBroker) queueLocked(name string) chan amqp.Delivery {
	q, ok := b.queues[name]
	if !ok {
		q = make(chan amqp.Delivery, 64)
		b.queues[name] = q
	}
	return q
}

func (b *fakeBroker) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		b.seq++
		name = fmt.Sprintf("amq.gen-%d", b.seq)
	}
	b.queueLocked(name)
	return amqp.Queue{Name: name}, nil
}

func (b *fakeBroker) Consume(queue, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumers[consumer] = queue
	return b.queueLocked(queue), nil
}

func (b *fakeBroker) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed[key] || b.unreachable[key] {
		return errors.New("queue closed")
	}
	b.published = append(b.published, msg)
	b.tag++
	b.queueLocked(key) <- amqp.Delivery{
		Acknowledger:  b,
		DeliveryTag:   b.tag,
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationId,
		ReplyTo:       msg.ReplyTo,
		MessageId:     msg.MessageId,
		Type:          msg.Type,
		Body:          msg.Body,
	}
	return nil
}

func (b *fakeBroker) Cancel(consumer string, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	queue, ok := b.consumers[consumer]
	if !ok {
		return fmt.Errorf("unknown consumer %s", consumer)
	}
	delete(b.consumers, consumer)
	if !b.closed[queue] {
		b.closed[queue] = true
		close(b.queues[queue])
	}
	return nil
}

func (b *fakeBroker) Published() []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]amqp.Publishing(nil), b.published...)
}

const (
	kindCFP     core.Kind = "cfp"
	kindPropose core.Kind = "propose"
)

func serve(t *testing.T, broker *fakeBroker, a core.Agent) {
	t.Helper()
	srv, err := NewServer(broker, a)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Serve declares the queue before consuming; wait until it is registered
	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		for _, q := range broker.consumers {
			if q == srv.Queue() {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestEnvelope_Encode(t *testing.T) {
	msg := testutil.NewMessageBuilder(kindCFP).ID("cfp-1").From("m").To("a").Body("paint").Meta("budget", 100).Build()

	b, err := Envelope{Messages: []core.Message{msg}}.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"messages":[{"id":"cfp-1","kind":"cfp","sender":"m","receiver":"a","body":"paint","metadata":{"budget":100}}]}`, string(b))

	env, err := DecodeEnvelope(b)
	require.NoError(t, err)
	require.Len(t, env.Messages, 1)
	assert.Equal(t, "cfp-1", env.Messages[0].ID)
	assert.Equal(t, 100, env.Messages[0].Metadata["budget"])
	assert.NoError(t, env.Err("a", msg))

	_, err = DecodeEnvelope([]byte("{"))
	assert.Error(t, err)
}

func TestDecodeEnvelope_Numbers(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"messages":[{"id":"p","kind":"propose","metadata":{"price":49.5,"hours":4,"quote":{"rate":25,"tax":0.19},"slots":[1,2.5]}}]}`))
	require.NoError(t, err)
	require.Len(t, env.Messages, 1)

	md := env.Messages[0].Metadata
	assert.Equal(t, 49.5, md["price"])
	assert.Equal(t, 4, md["hours"])
	assert.Equal(t, map[string]any{"rate": 25, "tax": 0.19}, md["quote"])
	assert.Equal(t, []any{1, 2.5}, md["slots"])
}

func TestEnvelope_Err(t *testing.T) {
	msg := core.Message{ID: "m1", Kind: kindCFP}

	err := errorEnvelope(&core.UnsupportedKindError{AgentID: "a", Kind: kindCFP}).Err("a", msg)
	assert.ErrorIs(t, err, core.ErrUnsupportedMessageKind)

	err = errorEnvelope(&core.UnexpectedReplyError{Request: kindCFP, Reply: "done"}).Err("a", msg)
	assert.ErrorIs(t, err, core.ErrUnexpectedReply)
	assert.ErrorIs(t, err, core.ErrHandlerFailure)

	err = errorEnvelope(errors.New("boom")).Err("a", msg)
	var herr *core.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "a", herr.AgentID)
	assert.Equal(t, "m1", herr.MessageID)
	assert.Equal(t, core.ErrorKindHandler, core.ErrorKind(err))
}

func TestClient_RoundTrip(t *testing.T) {
	broker := newFakeBroker()
	serve(t, broker, testutil.NewScriptedAgent("painter").Reply(kindCFP, kindPropose))

	client, err := NewClient(broker, "painter", func(o *ClientOptions) {
		o.Receivable = []core.Kind{kindCFP}
		o.Timeout = time.Second
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "painter", client.ID())
	assert.Equal(t, []core.Kind{kindCFP}, client.Receivable())

	cfp := testutil.NewMessageBuilder(kindCFP).ID("cfp-1").From("manager").To("painter").Build()
	result, err := client.Receive(context.Background(), cfp)
	require.NoError(t, err)

	msgs, err := result.Collect()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, kindPropose, msgs[0].Kind)
	assert.Equal(t, "cfp-1", msgs[0].ReplyTo)
	assert.Equal(t, "manager", msgs[0].Receiver)

	published := broker.Published()
	require.Len(t, published, 2)
	assert.Equal(t, ContentType, published[0].ContentType)
	assert.Equal(t, "cfp", published[0].Type)
	assert.Equal(t, published[0].CorrelationId, published[1].CorrelationId)
}

func TestClient_RemoteErrors(t *testing.T) {
	broker := newFakeBroker()
	serve(t, broker, testutil.NewScriptedAgent("painter").Fail(kindCFP, errors.New("no paint")))

	client, err := NewClient(broker, "painter", func(o *ClientOptions) { o.Timeout = time.Second })
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Receive(context.Background(), core.Message{ID: "c1", Kind: kindCFP})
	var herr *core.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Contains(t, herr.Error(), "no paint")

	_, err = client.Receive(context.Background(), core.Message{ID: "c2", Kind: "request"})
	assert.ErrorIs(t, err, core.ErrUnsupportedMessageKind)
}

func TestClient_Timeout(t *testing.T) {
	broker := newFakeBroker()
	client, err := NewClient(broker, "nobody", func(o *ClientOptions) { o.Timeout = 20 * time.Millisecond })
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Receive(context.Background(), core.Message{ID: "c1", Kind: kindCFP})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Closed(t *testing.T) {
	broker := newFakeBroker()
	client, err := NewClient(broker, "painter")
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err = client.Receive(context.Background(), core.Message{ID: "c1", Kind: kindCFP})
	assert.Error(t, err)
}

func TestServer_ReplyFailureIsNotRequeued(t *testing.T) {
	broker := newFakeBroker()
	painter := testutil.NewScriptedAgent("painter").Reply(kindCFP, kindPropose)
	serve(t, broker, painter)

	broker.mu.Lock()
	broker.unreachable["gone"] = true
	broker.mu.Unlock()

	body, err := Envelope{Messages: []core.Message{{ID: "c1", Kind: kindCFP, Sender: "manager", Receiver: "painter"}}}.Encode()
	require.NoError(t, err)
	require.NoError(t, broker.PublishWithContext(context.Background(), "", QueueName("painter"), false, false, amqp.Publishing{
		ContentType:   ContentType,
		CorrelationId: "corr-1",
		ReplyTo:       "gone",
		Body:          body,
	}))

	require.Eventually(t, func() bool { return len(broker.Nacks()) == 1 }, time.Second, time.Millisecond)
	assert.False(t, broker.Nacks()[0].requeue)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, painter.Calls())
}

func TestNew_Validation(t *testing.T) {
	_, err := NewClient(nil, "a")
	assert.ErrorIs(t, err, core.ErrConstruction)
	_, err = NewClient(newFakeBroker(), "")
	assert.ErrorIs(t, err, core.ErrConstruction)
	_, err = NewServer(newFakeBroker(), nil)
	assert.ErrorIs(t, err, core.ErrConstruction)
}

func TestClient_InPropagation(t *testing.T) {
	broker := newFakeBroker()
	serve(t, broker, testutil.NewScriptedAgent("painter").Reply(kindCFP, kindPropose))
	serve(t, broker, testutil.NewScriptedAgent("plumber").Fail(kindCFP, errors.New("wrong trade")))

	painter, err := NewClient(broker, "painter", func(o *ClientOptions) { o.Timeout = time.Second })
	require.NoError(t, err)
	defer painter.Close()
	plumber, err := NewClient(broker, "plumber", func(o *ClientOptions) { o.Timeout = time.Second })
	require.NoError(t, err)
	defer plumber.Close()

	manager := testutil.NewScriptedAgent("manager").Sink(kindPropose).Sink(core.KindFailure)
	p := propagation.New(propagation.NewDirectory(manager, painter, plumber))

	ids := &core.SequenceGenerator{}
	out, err := p.Collect(context.Background(),
		testutil.NewMessageBuilder(kindCFP).IDs(ids).From("manager").To("painter").Build(),
		testutil.NewMessageBuilder(kindCFP).IDs(ids).From("manager").To("plumber").Build(),
	)
	require.NoError(t, err)

	assert.Len(t, out, 4)
	propose, ok := testutil.Find(out, kindPropose)
	require.True(t, ok)
	assert.Equal(t, "painter", propose.Sender)
	failure, ok := testutil.Find(out, core.KindFailure)
	require.True(t, ok)
	assert.Equal(t, "plumber", failure.Sender)
	assert.Contains(t, failure.Body, "wrong trade")
	assert.Equal(t, 2, manager.Calls())
}
