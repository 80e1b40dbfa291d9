package loom

import (
	"context"
	"testing"
	"time"

	"github.com/sielicki/loom/internal/fi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionContextTerminalExclusivity(t *testing.T) {
	before := RegistryLen()

	var values, errors, stops int
	recv := CallbackReceiver{
		OnValue:   func(Event) { values++ },
		OnError:   func(error) { errors++ },
		OnStopped: func() { stops++ },
	}

	sc := NewSubmissionContext(recv)
	assert.Equal(t, before+1, RegistryLen())

	Dispatch(sc.Header(), Event{Bytes: 4})
	// A second completion against the same (now-deregistered) header must be
	// dropped, not re-delivered.
	Dispatch(sc.Header(), Event{Bytes: 4, Err: ErrCanceled})

	assert.Equal(t, 1, values)
	assert.Equal(t, 0, errors)
	assert.Equal(t, 0, stops)
	assert.Equal(t, before, RegistryLen(), "delivered context must be deregistered")
}

func TestDispatchOnUnknownHeaderIsNoOp(t *testing.T) {
	registry := fi.NewContextRegistry()
	h := registry.Register(nil)
	registry.Deregister(h)

	// h is not registered in the global registry at all; Dispatch must not
	// panic or find a stale entry.
	assert.NotPanics(t, func() { Dispatch(h, Event{Bytes: 1}) })
}

func TestChannelReceiverCanceledMapsToErrCanceled(t *testing.T) {
	recv := NewChannelReceiver()
	sc := NewSubmissionContext(recv)
	Dispatch(sc.Header(), Event{Err: ErrCanceled})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := recv.Await(ctx)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestPromiseReceiverFutureRoundtrip(t *testing.T) {
	promise, future := NewPromiseReceiver()
	sc := NewSubmissionContext(promise)
	Dispatch(sc.Header(), Event{Bytes: 99})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := future.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), ev.Bytes)
}

func TestExecutorReceiverDestroysContextBeforeDispatch(t *testing.T) {
	before := RegistryLen()
	done := make(chan struct{})
	var observedLen int

	handler := func(err error, bytes uint64) {
		observedLen = RegistryLen()
		close(done)
	}
	recv := NewExecutorReceiver(handler, InlineExecutor{})
	sc := NewSubmissionContext(recv)
	Dispatch(sc.Header(), Event{Bytes: 1})

	<-done
	assert.Equal(t, before, observedLen, "handler must observe the context already deregistered")
}

func TestCancelSlotFiresEndpointCancel(t *testing.T) {
	domain := NewMockDomain()
	pa := domain.NewEndpoint()
	ea := NewEndpoint[VerbsTag](pa, CapMsg, EndpointTypeMsg)
	cq := NewCompletionQueue(CQConfig{Capacity: 4}, ProgressAuto)
	require.NoError(t, ea.BindCQ(cq, DirBoth))
	startReactor(t, cq)
	require.NoError(t, ea.Enable())

	recv := NewChannelReceiver()
	sc, err := ea.Recv(make([]byte, 4), recv)
	require.NoError(t, err)

	slot := NewCancelSlot(ea, sc)
	slot.Fire()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = recv.Await(ctx)
	assert.ErrorIs(t, err, ErrCanceled)

	assert.Equal(t, 1, pa.CancelCalls)
}
