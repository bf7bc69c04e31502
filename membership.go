package partisan

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/partisan-go/partisan/pkg/wire"
)

// HyParView constants (§4.5).
const (
	ActiveSize          = 5
	PassiveSize         = 30
	ARWL                = 6 // active random-walk length
	PRWL                = 3 // passive random-walk length
	MaintenanceInterval = 10 * time.Second
	KActive             = 3
	KPassive            = 4
)

// LocalState is the (Active, Passive) pair returned by get_local_state
// and persisted to disk (§4.5, §6).
type LocalState struct {
	Active  []NodeSpec
	Passive []NodeSpec
}

// mgmtEvent is the membership manager's mailbox element. Modelled on
// the teacher's Fabric.handleEvents switch over serf.Event, but using
// concrete Go types instead of an interface carrying a protobuf event,
// since these commands originate locally rather than off the wire.
type mgmtEvent interface{}

type evJoin struct {
	peer NodeSpec
	done chan error
}

type evLeave struct {
	peer NodeSpec
}

type evMembers struct {
	reply chan []NodeSpec
}

type evLocalState struct {
	reply chan LocalState
}

type evConnUp struct {
	peer NodeSpec
}

type evConnDown struct {
	peer NodeSpec
}

type evShuffleTick struct{}

type evProtoFrame struct {
	peer  NodeSpec
	frame *wire.Frame
}

type evSubscribe struct {
	fn func([]NodeSpec)
}

// membershipManager is the HyParView actor described by §4.5: a single
// run() goroutine owns Active/Passive/Pending/Suspected and is the only
// writer of the connection registry, directly modelled on
// Fabric.handleEvents's select-loop-over-mailbox pattern.
type membershipManager struct {
	self     NodeSpec
	registry *connectionRegistry

	active    map[string]NodeSpec
	passive   map[string]NodeSpec
	pending   map[string]NodeSpec
	suspected map[string]NodeSpec

	// demoting marks peers handleDisconnect/evictActive have just moved
	// Active->Passive, so the connDown event close() triggers for them
	// doesn't run straight into handleConnDown's ordinary "already in
	// Passive means a failed socket, drop it" branch and undo the
	// demotion it was never about (§4.5). Consumed (and, on re-admission
	// to Active, cleared) by insertActive/handleConnDown.
	demoting map[string]struct{}

	registered map[string]bool // peers we've already hooked onUp/onDown for

	subscribers []func([]NodeSpec)

	persist      func(LocalState)
	deletePersisted func()

	rng *rand.Rand

	mailbox chan mgmtEvent
	dropCh  chan struct{}
	wg      sync.WaitGroup

	logger *slog.Logger
	msink  metrics.MetricSink
}

func newMembershipManager(self NodeSpec, registry *connectionRegistry, initial LocalState, persist func(LocalState), deletePersisted func(), logger *slog.Logger, msink metrics.MetricSink) *membershipManager {
	m := &membershipManager{
		self:            self,
		registry:        registry,
		active:          make(map[string]NodeSpec),
		passive:         make(map[string]NodeSpec),
		pending:         make(map[string]NodeSpec),
		suspected:       make(map[string]NodeSpec),
		demoting:        make(map[string]struct{}),
		registered:      make(map[string]bool),
		persist:         persist,
		deletePersisted: deletePersisted,
		rng:             rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		mailbox:         make(chan mgmtEvent, 256),
		dropCh:          make(chan struct{}),
		logger:          logger,
		msink:           msink,
	}

	for _, p := range initial.Active {
		if p.Equal(self) {
			continue
		}
		m.active[p.Name] = p
	}
	for _, p := range initial.Passive {
		if p.Equal(self) {
			continue
		}
		if _, already := m.active[p.Name]; already {
			continue
		}
		m.passive[p.Name] = p
	}

	m.wg.Add(1)
	go m.run()
	return m
}

func (m *membershipManager) run() {
	defer m.wg.Done()

	// Re-establish connections to whatever was loaded from persistence
	// before entering the loop, so they go through the normal
	// watch/ensure path.
	for _, p := range m.active {
		m.watchPeer(p)
		go m.registry.ensure(p, ChannelMembership, 0)
	}

	ticker := time.NewTicker(MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.dropCh:
			return
		case <-ticker.C:
			m.onShuffleTick()
		case ev := <-m.mailbox:
			switch ev := ev.(type) {
			case evJoin:
				m.handleJoin(ev)
			case evLeave:
				m.handleLeave(ev.peer)
			case evMembers:
				ev.reply <- m.membersLocked()
			case evLocalState:
				ev.reply <- m.localStateLocked()
			case evConnUp:
				m.handleConnUp(ev.peer)
			case evConnDown:
				m.handleConnDown(ev.peer)
			case evShuffleTick:
				m.onShuffleTick()
			case evSubscribe:
				m.subscribers = append(m.subscribers, ev.fn)
			case evProtoFrame:
				m.handleProtoFrame(ev.peer, ev.frame)
			}
		}
	}
}

// Close stops the actor. Connections are torn down by the caller
// (Node.Close), not here, since the registry outlives this manager's
// loop during shutdown draining.
func (m *membershipManager) Close() {
	close(m.dropCh)
	m.wg.Wait()
}

// --- public operations (§4.5) -------------------------------------

func (m *membershipManager) Join(ctx context.Context, peer NodeSpec) error {
	if peer.Equal(m.self) {
		return nil
	}
	done := make(chan error, 1)
	select {
	case m.mailbox <- evJoin{peer: peer, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *membershipManager) Leave(peer NodeSpec) {
	select {
	case m.mailbox <- evLeave{peer: peer}:
	case <-m.dropCh:
	}
}

func (m *membershipManager) Members() []NodeSpec {
	reply := make(chan []NodeSpec, 1)
	select {
	case m.mailbox <- evMembers{reply: reply}:
	case <-m.dropCh:
		return nil
	}
	return <-reply
}

func (m *membershipManager) GetLocalState() LocalState {
	reply := make(chan LocalState, 1)
	select {
	case m.mailbox <- evLocalState{reply: reply}:
	case <-m.dropCh:
		return LocalState{}
	}
	return <-reply
}

// Subscribe registers a membership-changed callback (§4.8); fired with
// the current Active view (including self) on every change.
func (m *membershipManager) Subscribe(fn func([]NodeSpec)) {
	select {
	case m.mailbox <- evSubscribe{fn: fn}:
	case <-m.dropCh:
	}
}

// Deliver hands a decoded membership-channel frame to the actor.
func (m *membershipManager) Deliver(peer NodeSpec, f *wire.Frame) {
	select {
	case m.mailbox <- evProtoFrame{peer: peer, frame: f}:
	case <-m.dropCh:
	}
}

// notifyConnUp/notifyConnDown are wired as the registry's onUp/onDown
// callbacks for a watched peer.
func (m *membershipManager) notifyConnUp(peer NodeSpec) {
	select {
	case m.mailbox <- evConnUp{peer: peer}:
	case <-m.dropCh:
	}
}

func (m *membershipManager) notifyConnDown(peer NodeSpec) {
	select {
	case m.mailbox <- evConnDown{peer: peer}:
	case <-m.dropCh:
	}
}

// --- actor-internal handlers (run() goroutine only) ----------------

func (m *membershipManager) handleJoin(ev evJoin) {
	if _, already := m.active[ev.peer.Name]; already {
		ev.done <- nil
		return
	}
	m.watchPeer(ev.peer)
	m.pending[ev.peer.Name] = ev.peer
	peer := ev.peer
	done := ev.done
	go func() {
		err := m.registry.ensure(peer, ChannelMembership, 0)
		if err == nil {
			m.sendFrame(peer, &wire.Frame{
				Kind: wire.KindForwardJoin,
				ForwardJoin: &wire.ForwardJoinBody{
					NewPeer: toWireSpec(m.self),
					TTL:     ARWL,
					Sender:  m.self.Name,
				},
			})
		}
		done <- err
	}()
}

func (m *membershipManager) handleLeave(peer NodeSpec) {
	if peer.Equal(m.self) {
		for name := range m.active {
			m.registry.close(name)
		}
		for name := range m.passive {
			m.registry.close(name)
		}
		m.active = make(map[string]NodeSpec)
		m.passive = make(map[string]NodeSpec)
		m.pending = make(map[string]NodeSpec)
		m.suspected = make(map[string]NodeSpec)
		if m.deletePersisted != nil {
			m.deletePersisted()
		}
		m.fireMembershipChanged()
		return
	}

	_, wasActive := m.active[peer.Name]
	delete(m.active, peer.Name)
	delete(m.passive, peer.Name)
	delete(m.pending, peer.Name)
	m.registry.close(peer.Name)

	if wasActive {
		for _, other := range m.active {
			m.sendFrame(other, &wire.Frame{Kind: wire.KindDisconnect, Disconnect: &wire.DisconnectBody{Peer: peer.Name}})
		}
	}
	m.fireMembershipChanged()
	m.persistNow()
}

func (m *membershipManager) membersLocked() []NodeSpec {
	out := make([]NodeSpec, 0, len(m.active)+1)
	out = append(out, m.self)
	for _, p := range m.active {
		out = append(out, p)
	}
	return out
}

func (m *membershipManager) localStateLocked() LocalState {
	state := LocalState{
		Active:  make([]NodeSpec, 0, len(m.active)),
		Passive: make([]NodeSpec, 0, len(m.passive)),
	}
	for _, p := range m.active {
		state.Active = append(state.Active, p)
	}
	for _, p := range m.passive {
		state.Passive = append(state.Passive, p)
	}
	return state
}

func (m *membershipManager) handleConnUp(peer NodeSpec) {
	_, wasPending := m.pending[peer.Name]
	delete(m.pending, peer.Name)
	if !wasPending {
		// An inbound-only accept, or a spurious duplicate; active-view
		// admission for those arrives via the forward_join/neighbor
		// protocol handlers instead.
		return
	}

	if _, inPassive := m.passive[peer.Name]; inPassive && len(m.suspected) > 0 {
		priority := "low"
		if len(m.active) == 0 {
			priority = "high"
		}
		m.sendFrame(peer, &wire.Frame{
			Kind: wire.KindNeighbor,
			Neighbor: &wire.NeighborBody{
				Peer:     toWireSpec(m.self),
				Priority: priority,
				Sender:   m.self.Name,
			},
		})
		return
	}

	m.insertActive(peer)
	for _, other := range m.active {
		if other.Name == peer.Name {
			continue
		}
		m.sendFrame(other, &wire.Frame{
			Kind: wire.KindForwardJoin,
			ForwardJoin: &wire.ForwardJoinBody{
				NewPeer: toWireSpec(peer),
				TTL:     ARWL,
				Sender:  m.self.Name,
			},
		})
	}
	m.fireMembershipChanged()
	m.persistNow()
}

func (m *membershipManager) handleConnDown(peer NodeSpec) {
	delete(m.pending, peer.Name)
	if _, wasDemoting := m.demoting[peer.Name]; wasDemoting {
		// handleDisconnect/evictActive already moved this peer to
		// Passive; this connDown is the expected tail of that
		// demotion, not a fresh failure, so don't touch Passive.
		delete(m.demoting, peer.Name)
		return
	}
	if _, inPassive := m.passive[peer.Name]; inPassive {
		delete(m.passive, peer.Name)
		return
	}
	if _, inActive := m.active[peer.Name]; inActive {
		delete(m.active, peer.Name)
		m.suspected[peer.Name] = peer
		m.msink.SetGauge(MetricMembershipSuspectedSize, float32(len(m.suspected)))
		m.fireMembershipChanged()
		m.persistNow()
		m.trySuspectedReplacement()
	}
}

// trySuspectedReplacement implements the "suspected" local event: pick
// a random Passive member and attempt to connect it as a replacement
// (§4.5, resolving the §9 open question by forwarding the replacement
// candidate rather than the peer that just went down).
func (m *membershipManager) trySuspectedReplacement() {
	candidate, ok := m.randomPassive()
	if !ok {
		return
	}
	m.watchPeer(candidate)
	m.pending[candidate.Name] = candidate
	go m.registry.ensure(candidate, ChannelMembership, 0)
}

func (m *membershipManager) handleProtoFrame(from NodeSpec, f *wire.Frame) {
	switch f.Kind {
	case wire.KindForwardJoin:
		m.handleForwardJoin(from, f.ForwardJoin)
	case wire.KindNeighbor:
		m.handleNeighbor(from, f.Neighbor)
	case wire.KindNeighborAccepted:
		m.handleNeighborAccepted(from)
	case wire.KindNeighborRejected:
		m.handleNeighborRejected(from)
	case wire.KindShuffle:
		m.handleShuffle(from, f.Shuffle)
	case wire.KindShuffleReply:
		m.handleShuffleReply(f.ShuffleReply)
	case wire.KindDisconnect:
		m.handleDisconnect(from)
	default:
		m.logger.Warn("unexpected frame on membership channel", LabelFrameKind.L(f.Kind.String()), LabelPeerName.L(from.Name))
	}
}

func (m *membershipManager) handleForwardJoin(from NodeSpec, body *wire.ForwardJoinBody) {
	newPeer := fromWireSpec(body.NewPeer)
	if newPeer.Equal(m.self) {
		return
	}
	m.msink.IncrCounterWithLabels(MetricMembershipForwardJoins, 1.0, []metrics.Label{LabelPeerName.M(newPeer.Name)})

	// A direct join (the joiner announcing itself to its chosen contact,
	// Sender == NewPeer) is always accepted into Active, evicting per
	// rule 2 if full; the ttl/|Active| termination gate below only
	// governs a walk some other node is relaying on the new peer's
	// behalf. Gating direct joins on |Active|==1 would only admit the
	// very first joiner a contact ever sees and silently drop every one
	// after it.
	directJoin := body.Sender == newPeer.Name
	if directJoin || body.TTL <= 0 || m.activeSize() == 1 {
		m.watchPeer(newPeer)
		m.insertActive(newPeer)
		m.fireMembershipChanged()
		m.persistNow()
		return
	}

	if body.TTL == PRWL {
		m.watchPeer(newPeer)
		m.insertPassive(newPeer)
	}

	if relay, ok := m.randomActiveExcept(body.Sender); ok {
		m.sendFrame(relay, &wire.Frame{
			Kind: wire.KindForwardJoin,
			ForwardJoin: &wire.ForwardJoinBody{
				NewPeer: body.NewPeer,
				TTL:     body.TTL - 1,
				Sender:  m.self.Name,
			},
		})
	}
}

func (m *membershipManager) handleNeighbor(from NodeSpec, body *wire.NeighborBody) {
	peer := fromWireSpec(body.Peer)
	accept := body.Priority == "high" || m.activeSize() < ActiveSize
	if accept {
		m.watchPeer(peer)
		m.insertActive(peer)
		m.sendFrame(peer, &wire.Frame{Kind: wire.KindNeighborAccepted, NeighborAccepted: &wire.NeighborAcceptedBody{Peer: toWireSpec(m.self)}})
		m.fireMembershipChanged()
		m.persistNow()
		return
	}
	m.sendFrame(peer, &wire.Frame{Kind: wire.KindNeighborRejected, NeighborRejected: &wire.NeighborRejectedBody{Peer: toWireSpec(m.self)}})
}

func (m *membershipManager) handleNeighborAccepted(from NodeSpec) {
	delete(m.pending, from.Name)
	delete(m.suspected, from.Name)
	m.insertActive(from)
	m.fireMembershipChanged()
	m.persistNow()
}

func (m *membershipManager) handleNeighborRejected(from NodeSpec) {
	delete(m.pending, from.Name)
	delete(m.suspected, from.Name)
	// "the requester may try another passive candidate" (§4.5).
	m.trySuspectedReplacement()
}

func (m *membershipManager) handleShuffle(from NodeSpec, body *wire.ShuffleBody) {
	if body.TTL > 0 && m.activeSize() > 1 {
		if relay, ok := m.randomActiveExcept(body.Sender); ok {
			m.sendFrame(relay, &wire.Frame{
				Kind: wire.KindShuffle,
				Shuffle: &wire.ShuffleBody{
					Exchange: body.Exchange,
					TTL:      body.TTL - 1,
					Sender:   m.self.Name,
				},
			})
			return
		}
	}

	response := m.samplePassive(len(body.Exchange))
	m.sendFrame(from, &wire.Frame{
		Kind: wire.KindShuffleReply,
		ShuffleReply: &wire.ShuffleReplyBody{
			Exchange: toWireSpecSlice(response),
			Sender:   m.self.Name,
		},
	})
	m.mergeIntoPassive(fromWireSpecSlice(body.Exchange))
}

func (m *membershipManager) handleShuffleReply(body *wire.ShuffleReplyBody) {
	m.mergeIntoPassive(fromWireSpecSlice(body.Exchange))
}

func (m *membershipManager) handleDisconnect(from NodeSpec) {
	if peer, wasActive := m.active[from.Name]; wasActive {
		delete(m.active, from.Name)
		m.insertPassive(peer)
		// Marked so the connDown that close() below may still trigger
		// doesn't land on handleConnDown's "already in Passive means a
		// dead socket, drop it" branch and undo the insertPassive just
		// above (§4.5).
		m.demoting[from.Name] = struct{}{}
	}
	m.registry.close(from.Name)
	m.fireMembershipChanged()
	m.persistNow()
}

func (m *membershipManager) onShuffleTick() {
	target, ok := m.randomActiveExcept("")
	if !ok {
		return
	}
	exchange := make([]NodeSpec, 0, 1+KActive+KPassive)
	exchange = append(exchange, m.self)
	exchange = append(exchange, m.sampleActive(KActive, target.Name)...)
	exchange = append(exchange, m.samplePassive(KPassive)...)

	m.sendFrame(target, &wire.Frame{
		Kind: wire.KindShuffle,
		Shuffle: &wire.ShuffleBody{
			Exchange: toWireSpecSlice(exchange),
			TTL:      ARWL,
			Sender:   m.self.Name,
		},
	})
	m.msink.IncrCounter(MetricMembershipShuffleCount, 1.0)
}

// --- view mutation rules (§4.5) -------------------------------------

// activeSize is self-inclusive: an otherwise-empty node already
// satisfies "|Active|=1" (see DESIGN.md for why forward_join's
// bootstrap case requires this reading of §3's "self is logically in
// Active only for accounting").
func (m *membershipManager) activeSize() int {
	return len(m.active) + 1
}

func (m *membershipManager) insertActive(peer NodeSpec) {
	if peer.Equal(m.self) {
		return // rule 1: never insert self
	}
	delete(m.passive, peer.Name) // rule 4: active takes precedence

	if _, already := m.active[peer.Name]; !already {
		if len(m.active) >= ActiveSize-1 {
			if victim, ok := m.randomActiveExcept(peer.Name); ok {
				m.evictActive(victim)
			}
		}
		m.active[peer.Name] = peer
		m.msink.SetGauge(MetricMembershipActiveSize, float32(m.activeSize()))
	}

	if _, inPending := m.pending[peer.Name]; !inPending {
		go m.registry.ensure(peer, ChannelMembership, 0)
	}
	delete(m.pending, peer.Name)
	delete(m.suspected, peer.Name)
	// A stale demoting entry from a prior demotion whose connDown never
	// arrived must not suppress the handling of a later, genuine
	// failure of this same peer now that it's back in Active.
	delete(m.demoting, peer.Name)
	go m.ensureDataChannels(peer)
}

// ensureDataChannels opens every configured channel other than the
// membership control channel for peer, so a peer freshly admitted to
// Active immediately satisfies §8's connectivity invariant (the
// registry carries at least `parallelism` sockets per channel for
// every Active peer) instead of waiting for a first Send to trigger
// registry.pick against a channel nothing ever dialed.
func (m *membershipManager) ensureDataChannels(peer NodeSpec) {
	for name, cfg := range m.registry.channels {
		if name == ChannelMembership {
			continue
		}
		for slot := 0; slot < cfg.Parallelism; slot++ {
			if err := m.registry.ensure(peer, name, slot); err != nil {
				m.logger.Warn("failed to establish data channel", LabelPeerName.L(peer.Name), LabelChannel.L(name), LabelError.L(err))
			}
		}
	}
}

// evictActive implements rule 2: evict a uniformly random current
// Active member, move it to Passive, and cast disconnect to it. Marks
// demoting for the same reason as handleDisconnect — see the note
// there.
func (m *membershipManager) evictActive(victim NodeSpec) {
	delete(m.active, victim.Name)
	m.insertPassive(victim)
	m.demoting[victim.Name] = struct{}{}
	m.sendFrame(victim, &wire.Frame{Kind: wire.KindDisconnect, Disconnect: &wire.DisconnectBody{Peer: m.self.Name}})
	m.registry.close(victim.Name)
}

func (m *membershipManager) insertPassive(peer NodeSpec) {
	if peer.Equal(m.self) {
		return // rule 1
	}
	if _, isActive := m.active[peer.Name]; isActive {
		return // rule 4
	}
	if _, already := m.passive[peer.Name]; already {
		return
	}
	if len(m.passive) >= PassiveSize {
		if victim, ok := m.randomPassiveExcept(peer.Name); ok {
			delete(m.passive, victim.Name)
		}
	}
	m.passive[peer.Name] = peer
	m.msink.SetGauge(MetricMembershipPassiveSize, float32(len(m.passive)))
}

func (m *membershipManager) mergeIntoPassive(specs []NodeSpec) {
	for _, spec := range specs {
		m.insertPassive(spec)
	}
}

// --- random sampling (per-task PRNG, §9 design note) ----------------

func (m *membershipManager) randomActiveExcept(except string) (NodeSpec, bool) {
	candidates := make([]NodeSpec, 0, len(m.active))
	for name, p := range m.active {
		if name == except {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return NodeSpec{}, false
	}
	return candidates[m.rng.IntN(len(candidates))], true
}

func (m *membershipManager) randomPassive() (NodeSpec, bool) {
	return m.randomPassiveExcept("")
}

func (m *membershipManager) randomPassiveExcept(except string) (NodeSpec, bool) {
	candidates := make([]NodeSpec, 0, len(m.passive))
	for name, p := range m.passive {
		if name == except {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return NodeSpec{}, false
	}
	return candidates[m.rng.IntN(len(candidates))], true
}

func (m *membershipManager) sampleActive(k int, except string) []NodeSpec {
	candidates := make([]NodeSpec, 0, len(m.active))
	for name, p := range m.active {
		if name == except {
			continue
		}
		candidates = append(candidates, p)
	}
	m.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k]
}

func (m *membershipManager) samplePassive(k int) []NodeSpec {
	candidates := make([]NodeSpec, 0, len(m.passive))
	for _, p := range m.passive {
		candidates = append(candidates, p)
	}
	m.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k]
}

// --- plumbing ---------------------------------------------------------

func (m *membershipManager) watchPeer(peer NodeSpec) {
	if m.registered[peer.Name] {
		return
	}
	m.registered[peer.Name] = true
	m.registry.onUp(peer.Name, m.notifyConnUp)
	m.registry.onDown(peer.Name, m.notifyConnDown)
}

func (m *membershipManager) sendFrame(peer NodeSpec, frame *wire.Frame) error {
	conn, err := m.registry.pick(peer, ChannelMembership, 0, false)
	if err != nil {
		return err
	}
	body, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	return conn.out.send(context.Background(), body)
}

func (m *membershipManager) fireMembershipChanged() {
	view := m.membersLocked()
	for _, fn := range m.subscribers {
		fn(view)
	}
}

func (m *membershipManager) persistNow() {
	if m.persist == nil {
		return
	}
	m.persist(m.localStateLocked())
}

func toWireSpec(n NodeSpec) wire.NodeSpec {
	return wire.NodeSpec{Name: n.Name, ListenAddrs: n.ListenAddrs}
}

func fromWireSpec(n wire.NodeSpec) NodeSpec {
	return NodeSpec{Name: n.Name, ListenAddrs: n.ListenAddrs}
}

func toWireSpecSlice(ns []NodeSpec) []wire.NodeSpec {
	out := make([]wire.NodeSpec, len(ns))
	for i, n := range ns {
		out[i] = toWireSpec(n)
	}
	return out
}

func fromWireSpecSlice(ns []wire.NodeSpec) []NodeSpec {
	out := make([]NodeSpec, len(ns))
	for i, n := range ns {
		out[i] = fromWireSpec(n)
	}
	return out
}
