package loom

import (
	"context"
	"testing"
	"time"

	"github.com/sielicki/loom/internal/fi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdConditionMet(t *testing.T) {
	c := NewCounter()
	cond := ThresholdCondition{Counter: c, Threshold: 3}

	assert.False(t, cond.Met())
	c.Add(2)
	assert.False(t, cond.Met())
	c.Add(1)
	assert.True(t, cond.Met())
}

func TestNilConditionIsAlwaysMet(t *testing.T) {
	assert.True(t, ThresholdCondition{}.Met())
}

func TestQueueTriggeredFiresOnceConditionMet(t *testing.T) {
	domain := NewMockDomain()
	pa := domain.NewEndpoint()
	pb := domain.NewEndpoint()
	ea := NewEndpoint[VerbsTag](pa, CapMsg, EndpointTypeMsg)
	eb := NewEndpoint[VerbsTag](pb, CapMsg, EndpointTypeMsg)
	for _, ep := range []*Endpoint[VerbsTag]{ea, eb} {
		cq := NewCompletionQueue(CQConfig{Capacity: 8}, ProgressAuto)
		require.NoError(t, ep.BindCQ(cq, DirBoth))
		startReactor(t, cq)
		require.NoError(t, ep.Enable())
	}

	recv := NewChannelReceiver()
	_, err := eb.Recv(make([]byte, 4), recv)
	require.NoError(t, err)

	fabric, err := CreateFabric(FabricInfo{ProviderName: "verbs"})
	require.NoError(t, err)
	dom, err := CreateDomain[VerbsTag](fabric, FabricInfo{})
	require.NoError(t, err)

	c := NewCounter()
	work := DeferredWork{
		Condition: ThresholdCondition{Counter: c, Threshold: 1},
		Op: OpDescriptor{
			Op:       fi.OpSend,
			Buf:      []byte("go!!"),
			Dest:     pb.Address(),
			Receiver: CallbackReceiver{},
		},
	}
	dom.QueueTriggered(ea, work)

	assert.Equal(t, 0, dom.DrainTriggered(), "condition not yet met")

	c.Add(1)
	assert.Equal(t, 1, dom.DrainTriggered())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := recv.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), ev.Bytes)

	assert.Equal(t, 0, dom.DrainTriggered(), "fired work must not fire twice")
}

func TestQueueTriggeredCounterSetAndAddFireAgainstTargetCounter(t *testing.T) {
	domain := NewMockDomain()
	pa := domain.NewEndpoint()
	ea := NewEndpoint[VerbsTag](pa, CapMsg, EndpointTypeMsg)
	require.NoError(t, ea.BindCQ(NewCompletionQueue(CQConfig{Capacity: 8}, ProgressAuto), DirBoth))
	require.NoError(t, ea.Enable())

	fabric, err := CreateFabric(FabricInfo{ProviderName: "verbs"})
	require.NoError(t, err)
	dom, err := CreateDomain[VerbsTag](fabric, FabricInfo{})
	require.NoError(t, err)

	gate := NewCounter()
	target := NewCounter()

	dom.QueueTriggered(ea, DeferredWork{
		Condition: ThresholdCondition{Counter: gate, Threshold: 1},
		Op:        OpDescriptor{Op: fi.OpCntrSet, Counter: target, Value: 7},
	})
	dom.QueueTriggered(ea, DeferredWork{
		Condition: ThresholdCondition{Counter: gate, Threshold: 1},
		Op:        OpDescriptor{Op: fi.OpCntrAdd, Counter: target, Value: 3},
	})

	assert.Equal(t, 0, dom.DrainTriggered(), "condition not yet met")
	assert.Equal(t, uint64(0), target.Value())

	gate.Add(1)
	assert.Equal(t, 2, dom.DrainTriggered())
	assert.Equal(t, uint64(10), target.Value(), "set(7) then add(3)")
}

func TestFireTriggeredCounterOpsRejectMissingCounter(t *testing.T) {
	domain := NewMockDomain()
	pa := domain.NewEndpoint()
	ea := NewEndpoint[VerbsTag](pa, CapMsg, EndpointTypeMsg)
	require.NoError(t, ea.BindCQ(NewCompletionQueue(CQConfig{Capacity: 8}, ProgressAuto), DirBoth))
	require.NoError(t, ea.Enable())

	fabric, err := CreateFabric(FabricInfo{ProviderName: "verbs"})
	require.NoError(t, err)
	dom, err := CreateDomain[VerbsTag](fabric, FabricInfo{})
	require.NoError(t, err)

	gate := NewCounter()
	dom.QueueTriggered(ea, DeferredWork{
		Condition: ThresholdCondition{Counter: gate, Threshold: 1},
		Op:        OpDescriptor{Op: fi.OpCntrSet},
	})
	gate.Add(1)
	assert.Equal(t, 1, dom.DrainTriggered(), "fired (even though the op itself errors internally)")

	assert.True(t, IsKind(ea.fireTriggered(OpDescriptor{Op: fi.OpCntrSet}), KindInvalidArgument))
	assert.True(t, IsKind(ea.fireTriggered(OpDescriptor{Op: fi.OpCntrAdd}), KindInvalidArgument))
}

func TestCollectiveBarrierFansOutToAllMembers(t *testing.T) {
	domain := NewMockDomain()
	pa := domain.NewEndpoint() // address 1
	pb := domain.NewEndpoint() // address 2
	pc := domain.NewEndpoint() // address 3
	ea := NewEndpoint[VerbsTag](pa, CapCollective, EndpointTypeMsg)
	require.NoError(t, ea.BindCQ(NewCompletionQueue(CQConfig{Capacity: 8}, ProgressAuto), DirBoth))
	require.NoError(t, ea.Enable())
	for _, p := range []*MockProvider{pb, pc} {
		ep := NewEndpoint[VerbsTag](p, CapCollective, EndpointTypeMsg)
		require.NoError(t, ep.BindCQ(NewCompletionQueue(CQConfig{Capacity: 8}, ProgressAuto), DirBoth))
		require.NoError(t, ep.Enable())
	}

	// An AVHandle and a FabricAddr are the same opaque fi_addr_t value in
	// this binding's model (see collective.go); filler entries shift the AV's
	// dense allocation so hb/hc land on the same numeric values as pb/pc's
	// domain-assigned addresses.
	av := NewAddressVector(AVConfig{Capacity: 4})
	_, err := av.Insert(Address{})
	require.NoError(t, err)
	_, err = av.Insert(Address{})
	require.NoError(t, err)
	hb, err := av.Insert(Address{Format: FormatInet, Port: 1})
	require.NoError(t, err)
	hc, err := av.Insert(Address{Format: FormatInet, Port: 2})
	require.NoError(t, err)
	require.Equal(t, AVHandle(pb.Address()), hb)
	require.Equal(t, AVHandle(pc.Address()), hc)

	group := NewCollectiveGroup(av, []AVHandle{hb, hc})

	sc, err := ea.Collective(group, CollectiveBarrier, nil, CallbackReceiver{})
	require.NoError(t, err)
	assert.NotNil(t, sc)
	assert.Equal(t, 2, pa.SendCalls, "one send per group member")
}
