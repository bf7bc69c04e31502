package partisan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelConfigNormalize(t *testing.T) {
	cfg := ChannelConfig{Parallelism: 0, Compression: 99}.normalize()
	require.Equal(t, 1, cfg.Parallelism)
	require.Equal(t, CompressionDisabled, cfg.Compression)

	cfg = ChannelConfig{Parallelism: 4, Compression: 6}.normalize()
	require.Equal(t, 4, cfg.Parallelism)
	require.Equal(t, 6, cfg.Compression)
}

func TestChannelConfigSlotForMonotonic(t *testing.T) {
	cfg := ChannelConfig{Monotonic: true, Parallelism: 4}
	require.Equal(t, 0, cfg.slotFor(3, true))
	require.Equal(t, 0, cfg.slotFor(0, false))
}

func TestChannelConfigSlotForPartitionKey(t *testing.T) {
	cfg := ChannelConfig{Parallelism: 4}
	require.Equal(t, 1, cfg.slotFor(5, true))
	require.Equal(t, 3, cfg.slotFor(-1, true))
}

func TestChannelConfigSlotForRoundRobinHint(t *testing.T) {
	cfg := ChannelConfig{Parallelism: 4}
	require.Equal(t, -1, cfg.slotFor(0, false))
}

func TestDefaultChannelsIncludesMembership(t *testing.T) {
	channels := defaultChannels()
	require.Contains(t, channels, DefaultChannel)
	require.Contains(t, channels, ChannelMembership)
	require.True(t, channels[ChannelMembership].Monotonic)
}
