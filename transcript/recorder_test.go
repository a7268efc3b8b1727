package transcript

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentnet/core"
	"github.com/hupe1980/agentnet/internal/testutil"
	"github.com/hupe1980/agentnet/propagation"
)

const (
	kindRequest core.Kind = "request"
	kindCFP     core.Kind = "cfp"
	kindPropose core.Kind = "propose"
)

func startRun(t *testing.T, ctx context.Context, contractors ...string) (core.Message, *core.Stream) {
	t.Helper()
	ids := &core.SequenceGenerator{}
	agents := []core.Agent{testutil.NewScriptedAgent("manager").Sink(kindPropose)}
	for _, c := range contractors {
		agents = append(agents, testutil.NewScriptedAgent(c).Reply(kindCFP, kindPropose))
	}

	req := testutil.NewMessageBuilder(kindRequest).IDs(ids).Build()
	cfps := make([]core.Message, 0, len(contractors))
	for _, c := range contractors {
		cfps = append(cfps, testutil.NewMessageBuilder(kindCFP).IDs(ids).From("manager").To(c).ReplyTo(req.ID).Build())
	}

	stream, err := propagation.New(propagation.NewDirectory(agents...)).Propagate(ctx, cfps...)
	require.NoError(t, err)
	return req, stream
}

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()

	req, src := startRun(t, ctx, "a", "b")
	out, err := rec.Record(ctx, "conv-1", src, req).Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, out, 4)

	msgs := rec.Messages("conv-1")
	require.Len(t, msgs, 5)
	assert.Equal(t, req, msgs[0])
	assert.Equal(t, out, msgs[1:])

	g, err := rec.Graph("conv-1")
	require.NoError(t, err)
	assert.Equal(t, 5, g.Len())
	for _, m := range out {
		assert.True(t, g.HasPredecessor(m, req))
	}
}

func TestRecorder_GraphWithoutSeed(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()

	_, src := startRun(t, ctx, "a")
	_, err := rec.Record(ctx, "conv", src).Collect(ctx)
	require.NoError(t, err)

	_, err = rec.Graph("conv")
	assert.ErrorIs(t, err, core.ErrDanglingReference)
}

func TestRecorder_StopPropagatesToSource(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()

	_, src := startRun(t, ctx, "a", "b", "c")
	out := rec.Record(ctx, "conv", src)

	_, err := out.Next(ctx)
	require.NoError(t, err)
	out.Stop()

	_, err = out.Next(ctx)
	assert.ErrorIs(t, err, core.ErrStreamStopped)

	<-out.Done()
	<-src.Done()
	assert.True(t, src.Stopped())
	assert.LessOrEqual(t, len(rec.Messages("conv")), 2)
}

func TestRecorder_SourceFailure(t *testing.T) {
	ctx := context.Background()
	rec := NewRecorder()

	src, sink := core.NewPipe(ctx, 1)
	boom := errors.New("boom")
	go func() {
		sink.Emit(testutil.NewMessageBuilder(kindCFP).ID("m1").Build())
		sink.Fail(boom)
		sink.Close()
	}()

	out, err := rec.Record(ctx, "conv", src).Collect(ctx)
	assert.ErrorIs(t, err, boom)
	assert.LessOrEqual(t, len(out), 1)
}

func TestRecorder_Conversations(t *testing.T) {
	rec := NewRecorder()

	var wg sync.WaitGroup
	for _, id := range []string{"b", "a", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			rec.Append(id, testutil.NewMessageBuilder(kindRequest).ID(id+"-1").Build())
		}(id)
	}
	wg.Wait()

	assert.Equal(t, []string{"a", "b", "c"}, rec.Conversations())

	rec.Delete("b")
	assert.Equal(t, []string{"a", "c"}, rec.Conversations())
	assert.Empty(t, rec.Messages("b"))
}
