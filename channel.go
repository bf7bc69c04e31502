package partisan

// DefaultChannel is the distinguished channel every node always has,
// per §3.
const DefaultChannel = "default"

// Well-known channel names recognised by the reference system. Nodes
// are free to configure additional channels.
const (
	ChannelMembership = "membership"
	ChannelGossip     = "gossip"
	ChannelVnode      = "vnode"
	ChannelRPC        = "rpc"
)

// ChannelConfig describes a named logical lane between two peers.
type ChannelConfig struct {
	// Monotonic forces all traffic on this channel through slot 0,
	// guaranteeing strict FIFO delivery order (§4.2, §8).
	Monotonic bool

	// Parallelism is the number of independent sockets opened per
	// peer on this channel. Must be >= 1.
	Parallelism int

	// Compression is a flate compression level in [0,9], or -1 to
	// disable compression (flate.NoCompression is 0, which is a valid
	// "store" level distinct from "disabled").
	Compression int
}

// CompressionDisabled marks a ChannelConfig as not compressing frame
// bodies before framing.
const CompressionDisabled = -1

func defaultChannels() map[string]ChannelConfig {
	return map[string]ChannelConfig{
		DefaultChannel:    {Parallelism: 1, Compression: CompressionDisabled},
		ChannelMembership: {Monotonic: true, Parallelism: 1, Compression: CompressionDisabled},
	}
}

func (c ChannelConfig) normalize() ChannelConfig {
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	if c.Compression < CompressionDisabled || c.Compression > 9 {
		c.Compression = CompressionDisabled
	}
	return c
}

// slotFor implements the registry's slot-selection rule from §4.2:
// monotonic channels always use slot 0; a partition-key hint selects
// hint mod parallelism; otherwise the caller round-robins.
func (c ChannelConfig) slotFor(hint int, hasHint bool) int {
	if c.Monotonic {
		return 0
	}
	if hasHint {
		slot := hint % c.Parallelism
		if slot < 0 {
			slot += c.Parallelism
		}
		return slot
	}
	return -1 // caller must round-robin
}
