package partisan

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/hashicorp/go-metrics"
)

// config accumulates every Option before Create builds a Node from it.
type config struct {
	name        string
	listenAddrs []string

	channels map[string]ChannelConfig

	tlsConfig *tls.Config
	insecure  bool

	dataDir string

	egressDelay  time.Duration
	ingressDelay time.Duration

	remoteRefFormat RemoteRefFormat
	causalLabel     string

	neighbours []NodeSpec

	logHandler slog.Handler
	msink      metrics.MetricSink

	dialTimeout time.Duration
}

func defaultConfig() *config {
	return &config{
		channels:        defaultChannels(),
		remoteRefFormat: FormatImproperList,
		dialTimeout:     DefaultConnectTimeout,
		msink:           &metrics.BlackholeSink{},
	}
}

// Option configures a Node before Create builds it.
type Option func(*config) error

// WithName sets this node's globally-unique identity (§3). Required.
func WithName(name string) Option {
	return func(c *config) error {
		c.name = name
		return nil
	}
}

// WithListenAddrs sets the host:port pairs this node accepts inbound
// connections on (§3, §6). The first is advertised as the primary
// address when this node is gossiped to peers.
func WithListenAddrs(addrs ...string) Option {
	return func(c *config) error {
		c.listenAddrs = addrs
		return nil
	}
}

// WithChannel registers (or overrides) a named channel's configuration
// (§3, §6).
func WithChannel(name string, cfg ChannelConfig) Option {
	return func(c *config) error {
		c.channels[name] = cfg.normalize()
		return nil
	}
}

// WithParallelism is shorthand for WithChannel(name, ChannelConfig{Parallelism: n}),
// keeping any Monotonic/Compression already set on that channel.
func WithParallelism(name string, n int) Option {
	return func(c *config) error {
		cfg := c.channels[name]
		cfg.Parallelism = n
		c.channels[name] = cfg.normalize()
		return nil
	}
}

// WithTLSConfig sets the tls.Config used for both dialing and
// listening. Required unless WithInsecure is set (§6, §7).
func WithTLSConfig(tlsConf *tls.Config) Option {
	return func(c *config) error {
		if tlsConf == nil {
			return ErrNoTLSConfig
		}
		c.tlsConfig = tlsConf.Clone()
		return nil
	}
}

// WithInsecure disables TLS, for tests and local development only.
func WithInsecure() Option {
	return func(c *config) error {
		c.insecure = true
		return nil
	}
}

// WithDataDir enables atomic persistence of the local (Active, Passive)
// state to disk under dir (§4.5, §6). Without it, a restart always
// rejoins from scratch.
func WithDataDir(dir string) Option {
	return func(c *config) error {
		c.dataDir = dir
		return nil
	}
}

// WithEgressDelay injects an artificial delay before every outbound
// frame write, for chaos/fault-injection tests (§6, §9).
func WithEgressDelay(d time.Duration) Option {
	return func(c *config) error {
		c.egressDelay = d
		return nil
	}
}

// WithIngressDelay injects an artificial delay before every inbound
// frame is decoded and dispatched (§6, §9).
func WithIngressDelay(d time.Duration) Option {
	return func(c *config) error {
		c.ingressDelay = d
		return nil
	}
}

// WithRemoteRefFormat selects which wire encoding RemoteRef uses (§6).
func WithRemoteRefFormat(format RemoteRefFormat) Option {
	return func(c *config) error {
		c.remoteRefFormat = format
		return nil
	}
}

// WithCausalLabel sets the default causal label attached to every Send
// that doesn't specify SendOptions.CausalLabel explicitly (§4.7, §6).
func WithCausalLabel(label string) Option {
	return func(c *config) error {
		c.causalLabel = label
		return nil
	}
}

// WithNeighbours lists seed peers this node attempts to Join on
// startup (§4.5, §6).
func WithNeighbours(neighbours ...NodeSpec) Option {
	return func(c *config) error {
		c.neighbours = neighbours
		return nil
	}
}

// WithLogHandler sets the slog.Handler backing this node's logger.
func WithLogHandler(handler slog.Handler) Option {
	return func(c *config) error {
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink sets the go-metrics sink every component reports to.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithDialTimeout controls how long a dial attempt waits before
// returning ErrConnectTimeout (§4.1, §6).
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout == 0 {
			timeout = DefaultConnectTimeout
		}
		c.dialTimeout = timeout
		return nil
	}
}
