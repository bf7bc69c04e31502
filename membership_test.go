package partisan

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/hashicorp/go-metrics"
	"github.com/partisan-go/partisan/pkg/wire"
	"github.com/stretchr/testify/require"
)

// newTestMembershipManager wires a membershipManager to a registry
// whose dial always fails immediately, so fire-and-forget
// registry.ensure calls triggered by view mutations never block a test
// on a real network connection. That's enough to exercise every
// HyParView view-mutation rule, which doesn't require a live socket.
func newTestMembershipManager(t *testing.T, self NodeSpec) *membershipManager {
	t.Helper()
	registry := newConnectionRegistry(defaultChannels(), func(NodeSpec, string, int) (*Connection, error) {
		return nil, ErrConnectTimeout
	}, slog.Default(), &metrics.BlackholeSink{})

	m := newMembershipManager(self, registry, LocalState{}, nil, nil, slog.Default(), &metrics.BlackholeSink{})
	t.Cleanup(m.Close)
	return m
}

// forwardJoinFrame builds a direct join: the new peer announcing
// itself to its chosen contact, Sender == NewPeer.Name.
func forwardJoinFrame(from wire.NodeSpec, ttl int) *wire.Frame {
	return relayedForwardJoinFrame(from, from.Name, ttl)
}

// relayedForwardJoinFrame builds a forward_join some node other than
// the new peer is relaying on its behalf, Sender != NewPeer.Name.
func relayedForwardJoinFrame(newPeer wire.NodeSpec, sender string, ttl int) *wire.Frame {
	return &wire.Frame{
		Kind: wire.KindForwardJoin,
		ForwardJoin: &wire.ForwardJoinBody{
			NewPeer: newPeer,
			TTL:     ttl,
			Sender:  sender,
		},
	}
}

func TestMembershipJoinSelfIsNoOp(t *testing.T) {
	self := NodeSpec{Name: "node1"}
	m := newTestMembershipManager(t, self)

	err := m.Join(context.Background(), self)
	require.NoError(t, err)
	require.Equal(t, []NodeSpec{self}, m.Members())
}

func TestMembershipForwardJoinBootstrapAcceptsImmediately(t *testing.T) {
	self := NodeSpec{Name: "node1"}
	m := newTestMembershipManager(t, self)

	peer := wire.NodeSpec{Name: "node2"}
	m.Deliver(NodeSpec{Name: "node2"}, forwardJoinFrame(peer, 0))

	members := m.Members()
	require.Len(t, members, 2)
	require.Contains(t, members, NodeSpec{Name: "node2"})
}

func TestMembershipActiveViewNeverExceedsActiveSize(t *testing.T) {
	self := NodeSpec{Name: "node1"}
	m := newTestMembershipManager(t, self)

	for i := 0; i < ActiveSize+1; i++ {
		peer := wire.NodeSpec{Name: fmt.Sprintf("node%d", i+2)}
		m.Deliver(NodeSpec{Name: peer.Name}, forwardJoinFrame(peer, 0))
	}

	state := m.GetLocalState()
	require.LessOrEqual(t, len(state.Active), ActiveSize)
}

func TestMembershipActiveAndPassiveAreDisjoint(t *testing.T) {
	self := NodeSpec{Name: "node1"}
	m := newTestMembershipManager(t, self)

	// Bootstrap one active peer first so |Active| > 1 and a later
	// PRWL-depth forward_join actually takes the relay/passive-insert
	// branch instead of the |Active|=1 bootstrap shortcut.
	bootstrap := wire.NodeSpec{Name: "node9"}
	m.Deliver(NodeSpec{Name: "node9"}, forwardJoinFrame(bootstrap, 0))

	peer := wire.NodeSpec{Name: "node2"}
	m.Deliver(NodeSpec{Name: "node3"}, relayedForwardJoinFrame(peer, "node3", PRWL))
	state := m.GetLocalState()
	require.Contains(t, state.Passive, NodeSpec{Name: "node2"})

	// A direct accept must then remove it from Passive.
	m.Deliver(NodeSpec{Name: "node2"}, forwardJoinFrame(peer, 0))
	state = m.GetLocalState()
	require.Contains(t, state.Active, NodeSpec{Name: "node2"})
	require.NotContains(t, state.Passive, NodeSpec{Name: "node2"})
}

func TestMembershipNeighborAcceptsWithHighPriorityWhenActiveEmpty(t *testing.T) {
	self := NodeSpec{Name: "node1"}
	m := newTestMembershipManager(t, self)

	peer := wire.NodeSpec{Name: "node2"}
	m.Deliver(NodeSpec{Name: "node2"}, &wire.Frame{
		Kind: wire.KindNeighbor,
		Neighbor: &wire.NeighborBody{
			Peer:     peer,
			Priority: "high",
			Sender:   peer.Name,
		},
	})

	require.Contains(t, m.Members(), NodeSpec{Name: "node2"})
}

func TestMembershipDisconnectMovesPeerFromActiveToPassive(t *testing.T) {
	self := NodeSpec{Name: "node1"}
	m := newTestMembershipManager(t, self)

	peer := wire.NodeSpec{Name: "node2"}
	m.Deliver(NodeSpec{Name: "node2"}, forwardJoinFrame(peer, 0))
	require.Contains(t, m.Members(), NodeSpec{Name: "node2"})

	m.Deliver(NodeSpec{Name: "node2"}, &wire.Frame{Kind: wire.KindDisconnect, Disconnect: &wire.DisconnectBody{Peer: "node2"}})

	state := m.GetLocalState()
	require.NotContains(t, state.Active, NodeSpec{Name: "node2"})
	require.Contains(t, state.Passive, NodeSpec{Name: "node2"})
}

func TestMembershipLeaveOfSelfClearsEverythingAndDeletesPersisted(t *testing.T) {
	self := NodeSpec{Name: "node1"}
	registry := newConnectionRegistry(defaultChannels(), func(NodeSpec, string, int) (*Connection, error) {
		return nil, ErrConnectTimeout
	}, slog.Default(), &metrics.BlackholeSink{})

	deleted := make(chan struct{}, 1)
	m := newMembershipManager(self, registry, LocalState{}, nil, func() { deleted <- struct{}{} }, slog.Default(), &metrics.BlackholeSink{})
	t.Cleanup(m.Close)

	peer := wire.NodeSpec{Name: "node2"}
	m.Deliver(NodeSpec{Name: "node2"}, forwardJoinFrame(peer, 0))
	require.Contains(t, m.Members(), NodeSpec{Name: "node2"})

	m.Leave(self)
	require.Equal(t, []NodeSpec{self}, m.Members())

	select {
	case <-deleted:
	default:
		t.Fatal("expected deletePersisted to be called on self-leave")
	}
}

func TestMembershipLeaveOfPeerRemovesFromBothViews(t *testing.T) {
	self := NodeSpec{Name: "node1"}
	m := newTestMembershipManager(t, self)

	peer := wire.NodeSpec{Name: "node2"}
	m.Deliver(NodeSpec{Name: "node2"}, forwardJoinFrame(peer, 0))
	require.Contains(t, m.Members(), NodeSpec{Name: "node2"})

	m.Leave(NodeSpec{Name: "node2"})

	state := m.GetLocalState()
	require.NotContains(t, state.Active, NodeSpec{Name: "node2"})
	require.NotContains(t, state.Passive, NodeSpec{Name: "node2"})
}

func TestMembershipSubscribeFiresOnChange(t *testing.T) {
	self := NodeSpec{Name: "node1"}
	m := newTestMembershipManager(t, self)

	views := make(chan []NodeSpec, 4)
	m.Subscribe(func(v []NodeSpec) { views <- v })

	peer := wire.NodeSpec{Name: "node2"}
	m.Deliver(NodeSpec{Name: "node2"}, forwardJoinFrame(peer, 0))

	view := <-views
	require.Contains(t, view, NodeSpec{Name: "node2"})
}
