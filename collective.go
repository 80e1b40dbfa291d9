package loom

import "github.com/sielicki/loom/internal/fi"

// CollectiveOp mirrors fi_collective_op.
type CollectiveOp int

const (
	CollectiveBarrier CollectiveOp = iota
	CollectiveBroadcast
	CollectiveAllToAll
	CollectiveAllReduce
	CollectiveAllGather
	CollectiveReduceScatter
	CollectiveReduce
	CollectiveScatter
	CollectiveGather
)

func (op CollectiveOp) fiCode() int {
	switch op {
	case CollectiveBarrier:
		return fi.CollectiveBarrier
	case CollectiveBroadcast:
		return fi.CollectiveBroadcast
	case CollectiveAllToAll:
		return fi.CollectiveAllToAll
	case CollectiveAllReduce:
		return fi.CollectiveAllReduce
	case CollectiveAllGather:
		return fi.CollectiveAllGather
	case CollectiveReduceScatter:
		return fi.CollectiveReduceScatter
	case CollectiveReduce:
		return fi.CollectiveReduce
	case CollectiveScatter:
		return fi.CollectiveScatter
	case CollectiveGather:
		return fi.CollectiveGather
	default:
		return -1
	}
}

// CollectiveGroup is the AV-registered set of peers a collective runs over,
// the loom analogue of the original's collective group abstraction
// (original_source's collective.cpp builds these from an address vector
// subset rather than a dedicated wire handshake).
type CollectiveGroup struct {
	av      *AddressVector
	members []AVHandle
}

// NewCollectiveGroup creates a group over the given AV handles.
func NewCollectiveGroup(av *AddressVector, members []AVHandle) *CollectiveGroup {
	return &CollectiveGroup{av: av, members: append([]AVHandle(nil), members...)}
}

// Collective runs op over group using the ordinary submission-context/
// receiver plumbing: every listed member (the local endpoint's own address
// included, if listed) receives a posted send of buf over the transport's
// point-to-point path, so the same reactor dispatch path drives collectives
// and two-sided messaging alike. No op computes a reduction. Each send gets
// its own submission context sharing receiver, which therefore sees one
// terminal call per send; the returned context is the last send's.
func (e *Endpoint[P]) Collective(group *CollectiveGroup, op CollectiveOp, buf []byte, receiver Receiver) (*SubmissionContext, error) {
	if err := e.checkEnabled("Endpoint.Collective"); err != nil {
		return nil, err
	}
	if op.fiCode() < 0 {
		return nil, NewError("Endpoint.Collective", KindInvalidArgument, "unknown collective op")
	}

	switch op {
	case CollectiveBarrier:
		// No payload: post a zero-length send to every member. No replies
		// are awaited; receiver gets one terminal call per send.
		return e.collectiveFanOut(group, nil, receiver)
	case CollectiveBroadcast, CollectiveScatter:
		return e.collectiveFanOut(group, buf, receiver)
	default:
		// all-reduce / reduce / all-gather / all-to-all / reduce-scatter:
		// this binding's mock transport has no multi-party reduction
		// engine, so it fans the buffer out and lets the receiver observe
		// per-member completions; a real provider binding performs the
		// reduction in the fabric.
		return e.collectiveFanOut(group, buf, receiver)
	}
}

func (e *Endpoint[P]) collectiveFanOut(group *CollectiveGroup, buf []byte, receiver Receiver) (*SubmissionContext, error) {
	var lastErr error
	var lastCtx *SubmissionContext
	for _, h := range group.members {
		if _, err := group.av.Lookup(h); err != nil {
			lastErr = err
			continue
		}
		// An AVHandle doubles as the fi_addr_t a send targets: both are the
		// opaque value fi_av_insert hands back for use as dest_addr.
		dest := FabricAddr(h)
		sc, err := e.Send(buf, dest, receiver)
		if err != nil {
			lastErr = err
			continue
		}
		lastCtx = sc
	}
	if lastCtx == nil {
		return nil, lastErr
	}
	return lastCtx, nil
}
