package loom

import (
	"context"
	"testing"
	"time"

	"github.com/sielicki/loom/internal/fi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startReactor runs a Reactor draining cq for the rest of the test, so
// completions the mock provider posts reach their receivers.
func startReactor(t *testing.T, cq *CompletionQueue) {
	t.Helper()
	r := NewReactor(nil, nil)
	r.RegisterCQ(cq, DefaultReactorOptions())
	r.Start()
	t.Cleanup(r.Stop)
}

func newLoopbackPair(t *testing.T) (*Endpoint[VerbsTag], *MockProvider, *Endpoint[VerbsTag], *MockProvider) {
	t.Helper()
	domain := NewMockDomain()

	pa := domain.NewEndpoint()
	pb := domain.NewEndpoint()

	ea := NewEndpoint[VerbsTag](pa, CapMsg|CapTagged, EndpointTypeMsg)
	eb := NewEndpoint[VerbsTag](pb, CapMsg|CapTagged, EndpointTypeMsg)

	for _, pair := range []struct {
		ep *Endpoint[VerbsTag]
		p  *MockProvider
	}{{ea, pa}, {eb, pb}} {
		cq := NewCompletionQueue(CQConfig{Capacity: 16}, ProgressAuto)
		require.NoError(t, pair.ep.BindCQ(cq, DirBoth))
		startReactor(t, cq)
		require.NoError(t, pair.ep.Enable())
	}

	return ea, pa, eb, pb
}

func TestSendRecvLoopback(t *testing.T) {
	ea, _, eb, pb := newLoopbackPair(t)

	recvBuf := make([]byte, 8)
	recvDone := NewChannelReceiver()
	_, err := eb.Recv(recvBuf, recvDone)
	require.NoError(t, err)

	sendDone := NewChannelReceiver()
	_, err = ea.Send([]byte("hello!!!"), pb.Address(), sendDone)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = sendDone.Await(ctx)
	require.NoError(t, err)

	ev, err := recvDone.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), ev.Bytes)
	assert.Equal(t, "hello!!!", string(recvBuf))
}

func TestTaggedReceiveFiltersByTag(t *testing.T) {
	ea, _, eb, pb := newLoopbackPair(t)

	bufA := make([]byte, 4)
	bufB := make([]byte, 4)
	recvA := NewChannelReceiver()
	recvB := NewChannelReceiver()
	_, err := eb.TaggedRecv(bufA, Tag(1), 0, recvA)
	require.NoError(t, err)
	_, err = eb.TaggedRecv(bufB, Tag(2), 0, recvB)
	require.NoError(t, err)

	sentDone := NewChannelReceiver()
	_, err = ea.TaggedSend([]byte("beta"), pb.Address(), Tag(2), sentDone)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = sentDone.Await(ctx)
	require.NoError(t, err)

	_, err = recvB.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "beta", string(bufB))
	assert.Equal(t, []byte{0, 0, 0, 0}, bufA, "tag-1 receive must not have matched a tag-2 send")
}

func TestCancelBeforeCompletionDeliversStopped(t *testing.T) {
	ea, pa, _, _ := newLoopbackPair(t)
	_ = pa

	recvDone := NewChannelReceiver()
	sc, err := ea.Recv(make([]byte, 4), recvDone)
	require.NoError(t, err)

	require.NoError(t, ea.Cancel(sc.Header()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = recvDone.Await(ctx)
	assert.ErrorIs(t, err, ErrCanceled)

	// A second cancel on the same (already-delivered) header must be a no-op,
	// not a double-delivery.
	require.NoError(t, ea.Cancel(sc.Header()))
}

func TestCancelAfterCompletionIsNoOp(t *testing.T) {
	ea, _, eb, pb := newLoopbackPair(t)

	recvDone := NewChannelReceiver()
	_, err := eb.Recv(make([]byte, 4), recvDone)
	require.NoError(t, err)

	sendDone := NewChannelReceiver()
	sc, err := ea.Send([]byte("ping"), pb.Address(), sendDone)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = sendDone.Await(ctx)
	require.NoError(t, err)

	// The send already matched; racing a cancel against it must not disturb
	// the delivered completion or panic on a stale registry entry.
	require.NoError(t, ea.Cancel(sc.Header()))
}

func TestStagedAtomicFetchAdd(t *testing.T) {
	domain := NewMockDomain()
	pa := domain.NewEndpoint()
	ea := NewEndpoint[EFATag](pa, CapAtomic, EndpointTypeMsg)
	cq := NewCompletionQueue(CQConfig{Capacity: 4}, ProgressAuto)
	require.NoError(t, ea.BindCQ(cq, DirBoth))
	startReactor(t, cq)
	require.NoError(t, ea.Enable())
	require.False(t, ea.SupportsNativeAtomics(), "EFA must route through the staged path")

	backing := make([]byte, 8)
	putBeUint(backing, 41)
	mr, key, err := RegisterMockMemory(backing, AccessRemoteRead|AccessRemoteWrite)
	require.NoError(t, err)
	remote := RemoteMemory{Key: key, Addr: 0}
	_ = mr

	result := make([]byte, 8)
	done := NewChannelReceiver()
	_, err = ea.Atomic(remote, pa.Address(), AtomicOp{Op: fi.OpSum, Datatype: fi.DatatypeUint64, Operand: 1}, result, done)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := done.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), ev.Bytes)
	assert.Equal(t, uint64(41), beUint(result), "fetch result must be the pre-increment value")
	assert.Equal(t, uint64(42), beUint(backing), "remote memory must hold the post-increment value")
}

func TestEndpointRejectsOperationsBeforeEnable(t *testing.T) {
	domain := NewMockDomain()
	p := domain.NewEndpoint()
	ep := NewEndpoint[VerbsTag](p, CapMsg, EndpointTypeMsg)

	_, err := ep.Send([]byte("x"), p.Address(), NewChannelReceiver())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindState))
}

func TestInjectRejectsOversizeBuffer(t *testing.T) {
	ea, _, eb, _ := newLoopbackPair(t)
	_ = eb

	big := make([]byte, VerbsTag{}.Traits().MaxInjectSize+1)
	err := ea.Inject(big, FabricAddr(2))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindMessageTooLong))
}
