package partisan

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
)

// minReconnectBackoff and maxReconnectBackoff bound the jittered
// exponential backoff used to retry a failed dial, per §4.2: "Connection
// establishment is retried on failure with a bounded backoff; a peer
// stays in the registry in a 'known but disconnected' state until the
// membership manager removes it."
const (
	minReconnectBackoff = 250 * time.Millisecond
	maxReconnectBackoff = 30 * time.Second
)

type connKey struct {
	channel string
	slot    int
}

// Connection is a live socket owned by exactly one (peer, channel,
// slot) triple (§3).
type Connection struct {
	Peer    NodeSpec
	Channel string
	Slot    int

	sock *peerSocket
	out  *outboundClient

	closeOnce sync.Once
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		if c.out != nil {
			c.out.close()
		}
		if c.sock != nil {
			c.sock.Close()
		}
	})
}

// dialFunc opens a new Connection for (peer, channel, slot), including
// performing the hello handshake. Supplied by the Node so the registry
// never needs to know about listen addresses or TLS configuration
// directly (§9: "resolve by message passing only").
type dialFunc func(peer NodeSpec, channel string, slot int) (*Connection, error)

// connectionRegistry is the single-writer-owned mapping described in
// §3/§4.2. Only the membership manager calls the mutating methods
// (ensure/close); the dispatcher only calls pick, which takes a
// read lock, per §5's single-writer discipline.
type connectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]map[connKey]*Connection // peer name -> conns

	// rr is read and written from every pick() call, which only takes
	// r.mu's read lock (§5: the dispatcher is stateless and reentrant
	// from any caller goroutine) — it needs its own lock rather than
	// riding along under mu's RLock, which concurrent writers would
	// turn into a concurrent map write.
	rrMu sync.Mutex
	rr   map[string]int // "peer|channel" -> round-robin cursor

	channels map[string]ChannelConfig

	connected map[string]bool // peer name -> fully connected
	onUpFns   map[string][]func(NodeSpec)
	onDownFns map[string][]func(NodeSpec)

	dial   dialFunc
	logger *slog.Logger
	msink  metrics.MetricSink
}

func newConnectionRegistry(channels map[string]ChannelConfig, dial dialFunc, logger *slog.Logger, msink metrics.MetricSink) *connectionRegistry {
	return &connectionRegistry{
		conns:     make(map[string]map[connKey]*Connection),
		rr:        make(map[string]int),
		channels:  channels,
		connected: make(map[string]bool),
		onUpFns:   make(map[string][]func(NodeSpec)),
		onDownFns: make(map[string][]func(NodeSpec)),
		dial:      dial,
		logger:    logger,
		msink:     msink,
	}
}

// ensure opens a socket for (peer, channel, slot) if none exists yet.
// Idempotent (§4.2).
func (r *connectionRegistry) ensure(peer NodeSpec, channel string, slot int) error {
	r.mu.Lock()
	peerConns, ok := r.conns[peer.Name]
	if !ok {
		peerConns = make(map[connKey]*Connection)
		r.conns[peer.Name] = peerConns
	}
	key := connKey{channel, slot}
	if _, exists := peerConns[key]; exists {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	start := time.Now()
	conn, err := r.dial(peer, channel, slot)
	if err != nil {
		r.msink.IncrCounterWithLabels(MetricConnErrorCount, 1.0, []metrics.Label{
			LabelPeerName.M(peer.Name), LabelChannel.M(channel), LabelError.M(err.Error()),
		})
		go r.reconnect(peer, channel, slot)
		return err
	}

	r.mu.Lock()
	peerConns, known := r.conns[peer.Name]
	if !known {
		// close() removed peer entirely while we were dialing; the
		// membership manager has given up on it, so discard this
		// socket rather than resurrecting a stale entry.
		r.mu.Unlock()
		conn.close()
		return nil
	}
	if _, exists := peerConns[key]; exists {
		r.mu.Unlock()
		conn.close() // a racing ensure/accept/reconnect already filled it
		return nil
	}
	peerConns[key] = conn
	r.msink.IncrCounterWithLabels(MetricConnEstablishedCount, 1.0, []metrics.Label{
		LabelPeerName.M(peer.Name), LabelChannel.M(channel),
	})
	fns := r.checkTransitionLocked(peer)
	r.mu.Unlock()
	fireTransition(peer, fns)
	r.logEstablished(peer, channel, slot, conn, time.Since(start))
	return nil
}

// logEstablished emits the debug line the teacher logs on every new
// socket, carrying the remote address, slot, and dial latency.
func (r *connectionRegistry) logEstablished(peer NodeSpec, channel string, slot int, conn *Connection, dialDuration time.Duration) {
	attrs := []any{LabelPeerName.L(peer.Name), LabelChannel.L(channel), LabelSlot.L(slot), LabelDuration.L(dialDuration)}
	if conn.sock != nil && !conn.sock.isClosed() {
		attrs = append(attrs, LabelPeerAddr.L(conn.sock.RemoteAddr().String()))
	}
	r.logger.Debug("connection established", attrs...)
}

// accept registers a socket the peer opened by dialing us, mirroring
// ensure but skipping the dial step: either side of a (peer, channel,
// slot) triple may be the one to open the socket (§4.4). If another
// goroutine already filed a connection under the same key (e.g. we
// were mid-dial when they connected to us), the later arrival is
// closed and discarded rather than overwriting the winner.
func (r *connectionRegistry) accept(peer NodeSpec, channel string, slot int, conn *Connection) {
	r.mu.Lock()
	peerConns, ok := r.conns[peer.Name]
	if !ok {
		peerConns = make(map[connKey]*Connection)
		r.conns[peer.Name] = peerConns
	}
	key := connKey{channel, slot}
	if _, exists := peerConns[key]; exists {
		r.mu.Unlock()
		conn.close()
		return
	}
	peerConns[key] = conn
	r.msink.IncrCounterWithLabels(MetricConnEstablishedCount, 1.0, []metrics.Label{
		LabelPeerName.M(peer.Name), LabelChannel.M(channel),
	})
	fns := r.checkTransitionLocked(peer)
	r.mu.Unlock()
	fireTransition(peer, fns)
	r.logEstablished(peer, channel, slot, conn, 0)
}

// pick selects a Connection for (peer, channel) following §4.2's slot
// rules: partition-key hint => hint mod parallelism; monotonic =>
// slot 0; otherwise round-robin across the channel's parallelism.
func (r *connectionRegistry) pick(peer NodeSpec, channel string, hint int, hasHint bool) (*Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.channels[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	slot := cfg.slotFor(hint, hasHint)
	if slot == -1 {
		rrKey := peer.Name + "|" + channel
		r.rrMu.Lock()
		slot = r.rr[rrKey] % cfg.Parallelism
		r.rr[rrKey]++
		r.rrMu.Unlock()
	}

	peerConns, ok := r.conns[peer.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, peer.Name)
	}
	conn, ok := peerConns[connKey{channel, slot}]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s/%d", ErrNotConnected, peer.Name, channel, slot)
	}
	return conn, nil
}

// close tears down every socket to peer and removes its entry (§4.2).
func (r *connectionRegistry) close(peerName string) {
	r.mu.Lock()
	peerConns, ok := r.conns[peerName]
	if !ok {
		r.mu.Unlock()
		return
	}
	for _, c := range peerConns {
		c.close()
	}
	delete(r.conns, peerName)
	wasConnected := r.connected[peerName]
	delete(r.connected, peerName)
	fns := r.onDownFns[peerName]
	r.mu.Unlock()

	r.msink.IncrCounterWithLabels(MetricConnClosedCount, 1.0, []metrics.Label{LabelPeerName.M(peerName)})

	if wasConnected {
		for _, fn := range fns {
			fn(NodeSpec{Name: peerName})
		}
	}
}

// dropConnection removes a single (peer, channel, slot) entry, e.g.
// after an EOF on one socket, without necessarily closing the whole
// peer (other channels may still be healthy). The peer stays known to
// the registry, so a background reconnect is started for the dropped
// slot (§4.2); close() is what actually gives up on a peer.
func (r *connectionRegistry) dropConnection(peer NodeSpec, channel string, slot int) {
	r.mu.Lock()
	peerConns, known := r.conns[peer.Name]
	if known {
		if c, exists := peerConns[connKey{channel, slot}]; exists {
			c.close()
			delete(peerConns, connKey{channel, slot})
		}
	}
	fns := r.checkTransitionLocked(peer)
	r.mu.Unlock()
	fireTransition(peer, fns)

	if known {
		go r.reconnect(peer, channel, slot)
	}
}

// checkTransitionLocked recomputes full connectivity for peer and
// returns the onUp/onDown callbacks to fire for the transition, if any
// (§4.8 fires each exactly once per transition). Caller must hold r.mu,
// and MUST invoke the returned callbacks only after releasing it — they
// are user code and may call back into the registry (e.g. ensure from
// within onUp), which would deadlock against a lock still held here.
func (r *connectionRegistry) checkTransitionLocked(peer NodeSpec) []func(NodeSpec) {
	nowConnected := r.isFullyConnectedLocked(peer.Name)
	wasConnected := r.connected[peer.Name]
	if nowConnected == wasConnected {
		return nil
	}
	r.connected[peer.Name] = nowConnected

	if nowConnected {
		return r.onUpFns[peer.Name]
	}
	return r.onDownFns[peer.Name]
}

func fireTransition(peer NodeSpec, fns []func(NodeSpec)) {
	for _, fn := range fns {
		fn(peer)
	}
}

// isFullyConnectedLocked implements the §3 invariant: a peer is
// "connected" iff it has at least one Connection on every configured
// channel with slot 0.
func (r *connectionRegistry) isFullyConnectedLocked(peerName string) bool {
	peerConns, ok := r.conns[peerName]
	if !ok {
		return false
	}
	for channel := range r.channels {
		if _, has := peerConns[connKey{channel, 0}]; !has {
			return false
		}
	}
	return true
}

func (r *connectionRegistry) onUp(peerName string, cb func(NodeSpec)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUpFns[peerName] = append(r.onUpFns[peerName], cb)
}

func (r *connectionRegistry) onDown(peerName string, cb func(NodeSpec)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDownFns[peerName] = append(r.onDownFns[peerName], cb)
}

// reconnect retries dialing (peer, channel, slot) with jittered
// exponential backoff until it either succeeds, finds the slot already
// filled by a racing ensure()/accept()/reconnect(), or the peer is
// removed from the registry entirely via close() — the signal that the
// membership manager has given up on it (§4.2).
func (r *connectionRegistry) reconnect(peer NodeSpec, channel string, slot int) {
	key := connKey{channel, slot}
	backoff := minReconnectBackoff
	for {
		if !r.stillPending(peer, key) {
			return
		}
		time.Sleep(backoff)
		if !r.stillPending(peer, key) {
			return
		}

		start := time.Now()
		conn, err := r.dial(peer, channel, slot)
		if err != nil {
			r.msink.IncrCounterWithLabels(MetricConnErrorCount, 1.0, []metrics.Label{
				LabelPeerName.M(peer.Name), LabelChannel.M(channel), LabelError.M(err.Error()),
			})
			backoff = nextReconnectBackoff(backoff)
			continue
		}

		r.mu.Lock()
		peerConns, known := r.conns[peer.Name]
		if !known {
			r.mu.Unlock()
			conn.close()
			return
		}
		if _, exists := peerConns[key]; exists {
			r.mu.Unlock()
			conn.close() // a racing ensure/accept/reconnect already filled it
			return
		}
		peerConns[key] = conn
		r.msink.IncrCounterWithLabels(MetricConnEstablishedCount, 1.0, []metrics.Label{
			LabelPeerName.M(peer.Name), LabelChannel.M(channel),
		})
		fns := r.checkTransitionLocked(peer)
		r.mu.Unlock()
		fireTransition(peer, fns)
		r.logEstablished(peer, channel, slot, conn, time.Since(start))
		return
	}
}

// stillPending reports whether peer is still known to the registry and
// key has not already been filled by a racing dial.
func (r *connectionRegistry) stillPending(peer NodeSpec, key connKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peerConns, known := r.conns[peer.Name]
	if !known {
		return false
	}
	_, exists := peerConns[key]
	return !exists
}

// nextReconnectBackoff doubles cur, capped at maxReconnectBackoff, and
// adds up to 50% jitter so many peers reconnecting at once don't retry
// in lockstep.
func nextReconnectBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxReconnectBackoff {
		next = maxReconnectBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(next)/2 + 1))
	return next - jitter
}
