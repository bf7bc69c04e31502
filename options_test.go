package partisan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func applyOptions(t *testing.T, opts ...Option) *config {
	t.Helper()
	c := defaultConfig()
	for _, opt := range opts {
		require.NoError(t, opt(c))
	}
	return c
}

func TestDefaultConfigHasMembershipChannelAndSaneDefaults(t *testing.T) {
	c := defaultConfig()
	require.Contains(t, c.channels, ChannelMembership)
	require.Equal(t, FormatImproperList, c.remoteRefFormat)
	require.Equal(t, DefaultConnectTimeout, c.dialTimeout)
	require.False(t, c.insecure)
}

func TestWithNameSetsIdentity(t *testing.T) {
	c := applyOptions(t, WithName("node1"))
	require.Equal(t, "node1", c.name)
}

func TestWithListenAddrsSetsAddrs(t *testing.T) {
	c := applyOptions(t, WithListenAddrs("127.0.0.1:7001", "127.0.0.1:7002"))
	require.Equal(t, []string{"127.0.0.1:7001", "127.0.0.1:7002"}, c.listenAddrs)
}

func TestWithChannelOverridesDefault(t *testing.T) {
	c := applyOptions(t, WithChannel("bulk", ChannelConfig{Parallelism: 4}))
	require.Equal(t, 4, c.channels["bulk"].Parallelism)
}

func TestWithParallelismPreservesMonotonicFlag(t *testing.T) {
	c := applyOptions(t, WithChannel("ordered", ChannelConfig{Monotonic: true}), WithParallelism("ordered", 8))
	cfg := c.channels["ordered"]
	require.True(t, cfg.Monotonic)
	require.Equal(t, 8, cfg.Parallelism)
}

func TestWithInsecureSetsFlag(t *testing.T) {
	c := applyOptions(t, WithInsecure())
	require.True(t, c.insecure)
}

func TestWithTLSConfigRejectsNil(t *testing.T) {
	c := defaultConfig()
	err := WithTLSConfig(nil)(c)
	require.ErrorIs(t, err, ErrNoTLSConfig)
}

func TestWithEgressAndIngressDelay(t *testing.T) {
	c := applyOptions(t, WithEgressDelay(10*time.Millisecond), WithIngressDelay(20*time.Millisecond))
	require.Equal(t, 10*time.Millisecond, c.egressDelay)
	require.Equal(t, 20*time.Millisecond, c.ingressDelay)
}

func TestWithRemoteRefFormat(t *testing.T) {
	c := applyOptions(t, WithRemoteRefFormat(FormatURI))
	require.Equal(t, FormatURI, c.remoteRefFormat)
}

func TestWithCausalLabel(t *testing.T) {
	c := applyOptions(t, WithCausalLabel("chat"))
	require.Equal(t, "chat", c.causalLabel)
}

func TestWithNeighbours(t *testing.T) {
	n1 := NodeSpec{Name: "node2"}
	n2 := NodeSpec{Name: "node3"}
	c := applyOptions(t, WithNeighbours(n1, n2))
	require.Equal(t, []NodeSpec{n1, n2}, c.neighbours)
}

func TestWithDialTimeoutZeroFallsBackToDefault(t *testing.T) {
	c := applyOptions(t, WithDialTimeout(0))
	require.Equal(t, DefaultConnectTimeout, c.dialTimeout)
}

func TestWithDialTimeoutNonZero(t *testing.T) {
	c := applyOptions(t, WithDialTimeout(3*time.Second))
	require.Equal(t, 3*time.Second, c.dialTimeout)
}

func TestWithMetricSinkRejectsNilByFallingBack(t *testing.T) {
	c := applyOptions(t, WithMetricSink(nil))
	require.NotNil(t, c.msink)
}
