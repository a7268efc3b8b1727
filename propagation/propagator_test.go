package propagation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/internal/testutil"
	"github.com/hupe1980/agentnet/logging"
)

const (
	kindCFP     core.Kind = "cfp"
	kindPropose core.Kind = "propose"
	kindRefuse  core.Kind = "refuse"
)

func newManager() *testutil.ScriptedAgent {
	return testutil.NewScriptedAgent("manager").
		Sink(kindPropose).
		Sink(kindRefuse).
		Sink(core.KindFailure)
}

func cfpsFor(ids core.IDGenerator, receivers ...string) []core.Message {
	out := make([]core.Message, 0, len(receivers))
	for _, r := range receivers {
		out = append(out, testutil.NewMessageBuilder(kindCFP).IDs(ids).From("manager").To(r).Build())
	}
	return out
}

func TestPropagator_FanOutAndCausalOrder(t *testing.T) {
	ids := &core.SequenceGenerator{}
	manager := newManager()
	c1 := testutil.NewScriptedAgent("c1").Reply(kindCFP, kindPropose)
	c2 := testutil.NewScriptedAgent("c2").Reply(kindCFP, kindRefuse)
	c3 := testutil.NewScriptedAgent("c3").Reply(kindCFP, kindPropose)

	p := New(NewDirectory(manager, c1, c2, c3))
	out, err := p.Collect(context.Background(), cfpsFor(ids, "c1", "c2", "c3")...)
	require.NoError(t, err)

	assert.Len(t, out, 6)
	assert.Equal(t, 3, testutil.CountKind(out, kindCFP))
	assert.Equal(t, 2, testutil.CountKind(out, kindPropose))
	assert.Equal(t, 1, testutil.CountKind(out, kindRefuse))
	assert.Equal(t, 3, manager.Calls())

	// every reply_to points to an earlier message
	g, err := core.BuildGraph(out)
	require.NoError(t, err)
	assert.Equal(t, 6, g.Len())
}

func TestPropagator_HandlerFailureIsLocal(t *testing.T) {
	ids := &core.SequenceGenerator{}
	manager := newManager()
	ok := testutil.NewScriptedAgent("ok").Reply(kindCFP, kindPropose)
	bad := testutil.NewScriptedAgent("bad").Fail(kindCFP, errors.New("boom"))

	p := New(NewDirectory(manager, ok, bad))
	msgs := cfpsFor(ids, "ok", "bad")
	out, err := p.Collect(context.Background(), msgs...)
	require.NoError(t, err)

	failure, found := testutil.Find(out, core.KindFailure)
	require.True(t, found)
	assert.Equal(t, "bad", failure.Sender)
	assert.Equal(t, "manager", failure.Receiver)
	assert.Equal(t, msgs[1].ID, failure.ReplyTo)
	assert.Equal(t, core.ErrorKindHandler, failure.MetaString(core.MetadataErrorKind))
	assert.Contains(t, failure.MetaString(core.MetadataError), "boom")

	assert.Equal(t, 1, testutil.CountKind(out, kindPropose))
}

func TestPropagator_PanicBecomesFailure(t *testing.T) {
	manager := newManager()
	c := testutil.NewScriptedAgent("c").On(kindCFP, func(context.Context, core.Message) (core.Result, error) {
		panic("unexpected")
	})

	p := New(NewDirectory(manager, c))
	out, err := p.Collect(context.Background(), cfpsFor(&core.SequenceGenerator{}, "c")...)
	require.NoError(t, err)

	failure, found := testutil.Find(out, core.KindFailure)
	require.True(t, found)
	assert.Contains(t, failure.MetaString(core.MetadataError), "panic: unexpected")
}

func TestPropagator_UnsupportedKindBecomesFailure(t *testing.T) {
	manager := newManager()
	c := testutil.NewScriptedAgent("c").Sink("accept_proposal")

	p := New(NewDirectory(manager, c))
	out, err := p.Collect(context.Background(), cfpsFor(&core.SequenceGenerator{}, "c")...)
	require.NoError(t, err)

	failure, found := testutil.Find(out, core.KindFailure)
	require.True(t, found)
	assert.Equal(t, core.ErrorKindUnsupported, failure.MetaString(core.MetadataErrorKind))
}

func TestPropagator_UndeliverableFailureEscapes(t *testing.T) {
	// the manager cannot receive failures, so the failure has nowhere to go
	manager := testutil.NewScriptedAgent("manager").Sink(kindPropose)
	c := testutil.NewScriptedAgent("c").Fail(kindCFP, errors.New("boom"))

	p := New(NewDirectory(manager, c))
	out, err := p.Collect(context.Background(), cfpsFor(&core.SequenceGenerator{}, "c")...)
	require.Error(t, err)

	var perr *core.PropagationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, core.KindFailure, perr.Message.Kind)
	assert.ErrorIs(t, err, core.ErrUnsupportedMessageKind)
	assert.NotEmpty(t, out)
}

func TestPropagator_FailureWithoutSenderEscapes(t *testing.T) {
	c := testutil.NewScriptedAgent("c").Fail(kindCFP, errors.New("boom"))

	p := New(NewDirectory(c))
	msg := testutil.NewMessageBuilder(kindCFP).To("c").Build()
	_, err := p.Collect(context.Background(), msg)

	var perr *core.PropagationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, msg.ID, perr.Message.ID)
	assert.ErrorIs(t, err, core.ErrHandlerFailure)
}

func TestPropagator_InitialBatchValidatedBeforeDispatch(t *testing.T) {
	c1 := testutil.NewScriptedAgent("c1").Reply(kindCFP, kindPropose)

	p := New(NewDirectory(c1))
	stream, err := p.Propagate(context.Background(), cfpsFor(&core.SequenceGenerator{}, "c1", "missing")...)
	require.Error(t, err)
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, core.ErrRouteNotPermitted)
	assert.Equal(t, 0, c1.Calls())
}

func TestPropagator_UnaddressedMessagesAreOnlyYielded(t *testing.T) {
	c := testutil.NewScriptedAgent("c").Sink(kindCFP)

	p := New(NewDirectory(c))
	msg := testutil.NewMessageBuilder("response").Build()
	out, err := p.Collect(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []core.Message{msg}, out)
	assert.Equal(t, 0, c.Calls())
}

func TestPropagator_EmptyBatch(t *testing.T) {
	p := New(NewDirectory())
	out, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPropagator_StopDiscardsRunningHandlers(t *testing.T) {
	const contractors = 10

	release := make(chan struct{})
	manager := newManager()
	agents := []core.Agent{manager}
	receivers := make([]string, 0, contractors)
	for i := 0; i < contractors; i++ {
		id := fmt.Sprintf("c%d", i)
		receivers = append(receivers, id)
		c := testutil.NewScriptedAgent(id)
		c.On(kindCFP, func(_ context.Context, m core.Message) (core.Result, error) {
			<-release
			return core.Single(c.Factory().Reply(m, kindPropose)), nil
		})
		agents = append(agents, c)
	}

	ctx := context.Background()
	p := New(NewDirectory(agents...))
	stream, err := p.Propagate(ctx, cfpsFor(&core.SequenceGenerator{}, receivers...)...)
	require.NoError(t, err)

	const k = 3
	for i := 0; i < k; i++ {
		m, err := stream.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, kindCFP, m.Kind)
	}
	stream.Stop()
	close(release)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, core.ErrStreamStopped)

	select {
	case <-stream.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("propagation did not terminate after stop")
	}

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, core.ErrStreamStopped)
	assert.Equal(t, 0, manager.Calls())
}

func TestPropagator_DispatchWaitsForConsumer(t *testing.T) {
	manager := newManager()
	c := testutil.NewScriptedAgent("c").Reply(kindCFP, kindPropose)

	ctx := context.Background()
	stream, err := New(NewDirectory(manager, c)).Propagate(ctx, cfpsFor(&core.SequenceGenerator{}, "c")...)
	require.NoError(t, err)

	// the propose cannot reach the manager before the consumer took it
	m, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, kindCFP, m.Kind)
	require.Eventually(t, func() bool { return c.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, manager.Calls())

	stream.Stop()
	<-stream.Done()
	assert.Equal(t, 0, manager.Calls())
}

func TestPropagator_BufferedRunAhead(t *testing.T) {
	manager := newManager()
	c := testutil.NewScriptedAgent("c").Reply(kindCFP, kindPropose)

	ctx := context.Background()
	p := New(NewDirectory(manager, c), func(o *Options) { o.Config.BufferSize = 8 })
	stream, err := p.Propagate(ctx, cfpsFor(&core.SequenceGenerator{}, "c")...)
	require.NoError(t, err)
	defer stream.Stop()

	// nothing consumed, yet the whole branch runs
	require.Eventually(t, func() bool { return manager.Calls() == 1 }, time.Second, time.Millisecond)
}

func TestPropagator_BreakStopsStream(t *testing.T) {
	manager := newManager()
	c1 := testutil.NewScriptedAgent("c1").Reply(kindCFP, kindPropose)
	c2 := testutil.NewScriptedAgent("c2").Reply(kindCFP, kindPropose)

	ctx := context.Background()
	p := New(NewDirectory(manager, c1, c2))
	stream, err := p.Propagate(ctx, cfpsFor(&core.SequenceGenerator{}, "c1", "c2")...)
	require.NoError(t, err)

	seen := 0
	for _, err := range stream.All(ctx) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
	assert.True(t, stream.Stopped())
}

func TestPropagator_ParentContextCancel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c := testutil.NewScriptedAgent("c").On(kindCFP, func(ctx context.Context, _ core.Message) (core.Result, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return core.None(), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	p := New(NewDirectory(testutil.NewScriptedAgent("manager").Sink(kindPropose), c))
	stream, err := p.Propagate(ctx, cfpsFor(&core.SequenceGenerator{}, "c")...)
	require.NoError(t, err)

	_, err = stream.Next(context.Background())
	require.NoError(t, err)
	cancel()

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPropagator_ReplyPolicyViolation(t *testing.T) {
	manager := newManager()
	c := testutil.NewScriptedAgent("c").Reply(kindCFP, "inform_done")

	policy := core.ExpectedReplies{kindCFP: {kindPropose, kindRefuse}}
	p := New(NewDirectory(manager, c), func(o *Options) {
		o.ReplyPolicy = policy.Check
	})
	out, err := p.Collect(context.Background(), cfpsFor(&core.SequenceGenerator{}, "c")...)
	require.NoError(t, err)

	assert.Equal(t, 0, testutil.CountKind(out, "inform_done"))
	failure, found := testutil.Find(out, core.KindFailure)
	require.True(t, found)
	assert.Equal(t, core.ErrorKindUnexpected, failure.MetaString(core.MetadataErrorKind))
	assert.Equal(t, "manager", failure.Receiver)
}

func TestPropagator_DispatchLimit(t *testing.T) {
	// ping-pong forever between two agents
	ping := testutil.NewScriptedAgent("ping")
	pong := testutil.NewScriptedAgent("pong")
	ping.Reply("ball", "ball")
	pong.Reply("ball", "ball")

	p := New(NewDirectory(ping, pong), func(o *Options) {
		o.Config.MaxDispatches = 10
	})
	msg := testutil.NewMessageBuilder("ball").From("ping").To("pong").Build()
	out, err := p.Collect(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDispatchLimit)
	assert.Len(t, out, 11)
}

// recordingLogger keeps the arguments of every Debug entry by message.
type recordingLogger struct {
	logging.NoOpLogger
	mu      sync.Mutex
	entries map[string][]any
}

func (l *recordingLogger) Debug(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = map[string][]any{}
	}
	l.entries[msg] = args
}

func (l *recordingLogger) attr(msg, key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	args := l.entries[msg]
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == key {
			return args[i+1], true
		}
	}
	return nil, false
}

func TestPropagator_CompleteLogsRemainingBudget(t *testing.T) {
	logger := &recordingLogger{}
	manager := newManager()
	c := testutil.NewScriptedAgent("c").Reply(kindCFP, kindPropose)

	p := New(NewDirectory(manager, c), func(o *Options) {
		o.Config.MaxDispatches = 5
		o.Logger = logger
	})
	_, err := p.Collect(context.Background(), cfpsFor(&core.SequenceGenerator{}, "c")...)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := logger.attr("propagation.complete", "remaining")
		return ok
	}, time.Second, time.Millisecond)
	remaining, _ := logger.attr("propagation.complete", "remaining")
	assert.Equal(t, 3, remaining)
	dispatches, _ := logger.attr("propagation.complete", "dispatches")
	assert.Equal(t, 2, dispatches)
}

func TestPropagator_MaxConcurrentDispatches(t *testing.T) {
	var running, peak atomic.Int64
	handler := func(context.Context, core.Message) (core.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return core.None(), nil
	}

	agents := []core.Agent{}
	receivers := []string{}
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("c%d", i)
		receivers = append(receivers, id)
		agents = append(agents, testutil.NewScriptedAgent(id).On(kindCFP, handler))
	}

	p := New(NewDirectory(agents...), func(o *Options) {
		o.Config.MaxConcurrentDispatches = 2
	})
	_, err := p.Collect(context.Background(), cfpsFor(&core.SequenceGenerator{}, receivers...)...)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestPropagator_RelayedResultIsNotDispatchedAgain(t *testing.T) {
	ids := &core.SequenceGenerator{}
	inner := testutil.NewScriptedAgent("inner").Reply(kindCFP, kindPropose)
	innerManager := newManager()
	innerProp := New(NewDirectory(inner, innerManager))

	outer := testutil.NewScriptedAgent("outer")
	outer.On("request", func(ctx context.Context, m core.Message) (core.Result, error) {
		stream, err := innerProp.Propagate(ctx, cfpsFor(ids, "inner")...)
		if err != nil {
			return core.None(), err
		}
		return core.FromStream(ctx, stream), nil
	})

	p := New(NewDirectory(outer))
	req := testutil.NewMessageBuilder("request").IDs(ids).To("outer").Build()
	out, err := p.Collect(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []core.Kind{"request", kindCFP, kindPropose}, testutil.Kinds(out))
	assert.Equal(t, 1, inner.Calls())
	assert.Equal(t, 1, innerManager.Calls())
}

func TestRouterFunc(t *testing.T) {
	a := testutil.NewScriptedAgent("a")
	r := RouterFunc(func(core.Message) (core.Agent, error) { return a, nil })
	got, err := r.Route(core.Message{Receiver: "x"})
	require.NoError(t, err)
	assert.Same(t, a, got)
}
