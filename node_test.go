package partisan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustCreateNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	n, err := Create(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

func TestCreateRejectsMissingName(t *testing.T) {
	_, err := Create(WithInsecure(), WithListenAddrs("127.0.0.1:0"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCreateRejectsMissingTLSWithoutInsecure(t *testing.T) {
	_, err := Create(WithName("node1"), WithListenAddrs("127.0.0.1:0"))
	require.ErrorIs(t, err, ErrNoTLSConfig)
}

func TestNodeSelfReturnsConfiguredIdentity(t *testing.T) {
	n := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18101"))
	require.Equal(t, NodeSpec{Name: "node1", ListenAddrs: []string{"127.0.0.1:18101"}}, n.Self())
}

func TestNodeMembersStartsAsSelfOnly(t *testing.T) {
	n := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18102"))
	require.Equal(t, []NodeSpec{n.Self()}, n.Members())
}

func TestNodeJoinConvergesMembershipBothWays(t *testing.T) {
	node1 := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18111"))
	node2 := mustCreateNode(t, WithName("node2"), WithInsecure(), WithListenAddrs("127.0.0.1:18112"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, node2.Join(ctx, node1.Self()))

	require.Eventually(t, func() bool {
		return containsPeer(node1.Members(), node2.Self()) && containsPeer(node2.Members(), node1.Self())
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNodeJoinSelfIsNoOp(t *testing.T) {
	n := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18113"))
	require.NoError(t, n.Join(context.Background(), n.Self()))
	require.Equal(t, []NodeSpec{n.Self()}, n.Members())
}

func TestNodeForwardDeliversToRegisteredRef(t *testing.T) {
	node1 := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18121"))
	node2 := mustCreateNode(t, WithName("node2"), WithInsecure(), WithListenAddrs("127.0.0.1:18122"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, node2.Join(ctx, node1.Self()))
	require.Eventually(t, func() bool {
		return containsPeer(node1.Members(), node2.Self())
	}, 2*time.Second, 20*time.Millisecond)

	received := make(chan []byte, 1)
	require.NoError(t, node2.RegisterRef("echo", func(payload []byte) { received <- payload }))

	require.Eventually(t, func() bool {
		err := node1.Forward(context.Background(), node2.Self(), "echo", []byte("hello"), SendOptions{})
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case payload := <-received:
		require.Equal(t, []byte("hello"), payload)
	case <-time.After(time.Second):
		t.Fatal("forward never reached the registered ref")
	}
}

func TestNodeRegisterRefRejectsDuplicateName(t *testing.T) {
	n := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18131"))
	require.NoError(t, n.RegisterRef("inbox", func([]byte) {}))
	err := n.RegisterRef("inbox", func([]byte) {})
	require.ErrorIs(t, err, ErrNameConflict)

	n.UnregisterRef("inbox")
	require.NoError(t, n.RegisterRef("inbox", func([]byte) {}))
}

func TestNodeForwardToSelfBypassesNetwork(t *testing.T) {
	n := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18141"))

	received := make(chan []byte, 1)
	require.NoError(t, n.RegisterRef("inbox", func(payload []byte) { received <- payload }))

	require.NoError(t, n.Forward(context.Background(), n.Self(), "inbox", []byte("local"), SendOptions{}))
	select {
	case payload := <-received:
		require.Equal(t, []byte("local"), payload)
	default:
		t.Fatal("self-forward should deliver synchronously")
	}
}

func TestNodeSendToSelfUsesDefaultServerRef(t *testing.T) {
	n := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18151"))

	received := make(chan []byte, 1)
	require.NoError(t, n.RegisterRef(DefaultServerRef, func(payload []byte) { received <- payload }))

	require.NoError(t, n.Send(context.Background(), n.Self(), []byte("ping"), SendOptions{}))
	select {
	case payload := <-received:
		require.Equal(t, []byte("ping"), payload)
	default:
		t.Fatal("self-send should deliver synchronously")
	}
}

func TestNodeResolveRefForSelfBypassesMembershipLookup(t *testing.T) {
	n := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18161"))

	peer, target, ok := n.ResolveRef(NewRegisteredRef("node1", "inbox"))
	require.True(t, ok)
	require.Equal(t, n.Self(), peer)
	require.Equal(t, "inbox", target)
}

func TestNodeResolveRefUnknownPeerFails(t *testing.T) {
	n := mustCreateNode(t, WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18171"))

	_, _, ok := n.ResolveRef(NewRegisteredRef("ghost", "inbox"))
	require.False(t, ok)
}

func TestNodeCloseIsIdempotent(t *testing.T) {
	n, err := Create(WithName("node1"), WithInsecure(), WithListenAddrs("127.0.0.1:18181"))
	require.NoError(t, err)

	require.NoError(t, n.Close())
	require.NoError(t, n.Close())
}

func containsPeer(members []NodeSpec, target NodeSpec) bool {
	for _, m := range members {
		if m.Equal(target) {
			return true
		}
	}
	return false
}
