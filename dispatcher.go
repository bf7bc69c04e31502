package partisan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-metrics"
	"github.com/partisan-go/partisan/pkg/wire"
)

// DefaultAckTimeout bounds how long Send waits for an ack before
// retrying (§4.6).
const DefaultAckTimeout = 5 * time.Second

// DefaultAckRetries is the bounded resend budget for acked sends: the
// frame is written at most DefaultAckRetries+1 times before Send gives
// up with ErrAckTimeout.
const DefaultAckRetries = 3

// DefaultInterpositionDelay is the implementation-defined wait used by
// InterpositionDelay (§4.7 leaves the duration unspecified).
const DefaultInterpositionDelay = 200 * time.Millisecond

// SendOptions configures one Send or Forward call (§4.6).
type SendOptions struct {
	Channel         string
	PartitionKey    int
	HasPartitionKey bool
	Ack             bool
	CausalLabel     string

	// DestinationRef, if set, is an encoded RemoteRef (see
	// RemoteRef.Encode) carried alongside the payload of a Send (Forward
	// frames do not carry it) so the receiver
	// can recover the caller's original destination identifier — e.g.
	// when a NodeSpec was resolved from a RemoteRef naming an opaque
	// process id rather than a registered name.
	DestinationRef []byte
}

// resolver looks up a locally registered ServerRef by name, used on
// the receive side of Forward (§4.6, §6: "a process or name registered
// locally").
type resolver func(name string) (func([]byte), bool)

type pendingAck struct {
	done chan error
}

// dispatcher implements §4.6's send/forward/receive path: destination
// resolution, causal-clock attachment, interposition, and ack/retry,
// directly modelled on the teacher's pkg/flow.Sender/Receiver pairing
// but carrying Partisan's four application frame kinds instead of one
// fixed payload type.
type dispatcher struct {
	self     NodeSpec
	registry *connectionRegistry
	causal   *causalLayer
	interp   *interpositionTable

	resolveServerRef resolver
	deliverData      func(peer NodeSpec, payload []byte)

	acksMu sync.Mutex
	acks   map[string]*pendingAck

	ackTimeout time.Duration
	ackRetries int

	logger *slog.Logger
	msink  metrics.MetricSink
}

func newDispatcher(self NodeSpec, registry *connectionRegistry, causal *causalLayer, interp *interpositionTable, resolveServerRef resolver, deliverData func(NodeSpec, []byte), logger *slog.Logger, msink metrics.MetricSink) *dispatcher {
	return &dispatcher{
		self:             self,
		registry:         registry,
		causal:           causal,
		interp:           interp,
		resolveServerRef: resolveServerRef,
		deliverData:      deliverData,
		acks:             make(map[string]*pendingAck),
		ackTimeout:       DefaultAckTimeout,
		ackRetries:       DefaultAckRetries,
		logger:           logger,
		msink:            msink,
	}
}

// Send implements §4.6's send(destination, message, opts): run the
// forward_message interposition, optionally attach a causal dependency
// set, resolve a connection, then write (with bounded ack/retry if
// requested).
func (d *dispatcher) Send(ctx context.Context, peer NodeSpec, payload []byte, opts SendOptions) error {
	if peer.Equal(d.self) {
		return ErrSelfTarget
	}

	result := d.interp.evaluate(InterpositionForward, peer, payload)
	switch result.variant {
	case resultDrop:
		d.msink.IncrCounterWithLabels(MetricDispatchDropped, 1.0, []metrics.Label{LabelPeerName.M(peer.Name)})
		return nil
	case resultSubstitute:
		payload = result.payload
	case resultDelay:
		delayed := result.payload
		time.AfterFunc(DefaultInterpositionDelay, func() {
			if err := d.Send(context.Background(), peer, delayed, opts); err != nil {
				d.logger.Warn("delayed send failed", LabelPeerName.L(peer.Name), LabelError.L(err))
			}
		})
		return nil
	}

	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	var causalMeta *wire.CausalMeta
	if opts.CausalLabel != "" {
		vc, err := d.causal.NextVC(ctx, opts.CausalLabel)
		if err != nil {
			return err
		}
		causalMeta = &wire.CausalMeta{Label: opts.CausalLabel, Sender: d.self.Name, DepVC: vc}
	}

	conn, err := d.registry.pick(peer, channel, opts.PartitionKey, opts.HasPartitionKey)
	if err != nil {
		return err
	}

	if !opts.Ack {
		frame := &wire.Frame{Kind: wire.KindData, Data: &wire.DataBody{Payload: payload, Ref: opts.DestinationRef, Causal: causalMeta}}
		return d.writeFrame(ctx, conn, peer, frame)
	}

	return d.sendWithAck(ctx, conn, peer, payload, causalMeta, opts.DestinationRef)
}

func (d *dispatcher) sendWithAck(ctx context.Context, conn *Connection, peer NodeSpec, payload []byte, causalMeta *wire.CausalMeta, ref []byte) error {
	id := uuid.NewString()
	pending := &pendingAck{done: make(chan error, 1)}
	d.acksMu.Lock()
	d.acks[id] = pending
	d.acksMu.Unlock()
	defer func() {
		d.acksMu.Lock()
		delete(d.acks, id)
		d.acksMu.Unlock()
	}()

	frame := &wire.Frame{Kind: wire.KindDataWithID, DataWithID: &wire.DataWithIDBody{ID: id, Payload: payload, Ref: ref, Causal: causalMeta}}

	for attempt := 0; attempt <= d.ackRetries; attempt++ {
		if err := d.writeFrame(ctx, conn, peer, frame); err != nil {
			return err
		}
		select {
		case err := <-pending.done:
			return err
		case <-time.After(d.ackTimeout):
			d.msink.IncrCounter(MetricDispatchAckTimeout, 1.0)
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// Retry budget exhausted without an ack: report the send failed to
	// the caller (§4.6 step 5), carrying ErrAckTimeout as the reason.
	return fmt.Errorf("%w: %w", ErrSendFailed, ErrAckTimeout)
}

// Forward implements §4.6's forward(destination, server_ref, message):
// a self-target resolves and invokes the registered handler directly
// (§9's "local delivery bypasses the network"), otherwise the payload
// is routed to the destination node to be handed to its own registered
// handler.
func (d *dispatcher) Forward(ctx context.Context, peer NodeSpec, serverRef string, payload []byte, opts SendOptions) error {
	if peer.Equal(d.self) {
		fn, ok := d.resolveServerRef(serverRef)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNameResolution, serverRef)
		}
		fn(payload)
		return nil
	}

	result := d.interp.evaluate(InterpositionForward, peer, payload)
	switch result.variant {
	case resultDrop:
		d.msink.IncrCounterWithLabels(MetricDispatchDropped, 1.0, []metrics.Label{LabelPeerName.M(peer.Name)})
		return nil
	case resultSubstitute:
		payload = result.payload
	case resultDelay:
		delayed := result.payload
		time.AfterFunc(DefaultInterpositionDelay, func() {
			if err := d.Forward(context.Background(), peer, serverRef, delayed, opts); err != nil {
				d.logger.Warn("delayed forward failed", LabelPeerName.L(peer.Name), LabelError.L(err))
			}
		})
		return nil
	}

	channel := opts.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	var causalMeta *wire.CausalMeta
	if opts.CausalLabel != "" {
		vc, err := d.causal.NextVC(ctx, opts.CausalLabel)
		if err != nil {
			return err
		}
		causalMeta = &wire.CausalMeta{Label: opts.CausalLabel, Sender: d.self.Name, DepVC: vc}
	}

	conn, err := d.registry.pick(peer, channel, opts.PartitionKey, opts.HasPartitionKey)
	if err != nil {
		return err
	}

	frame := &wire.Frame{Kind: wire.KindForward, Forward: &wire.ForwardBody{ServerRef: serverRef, Payload: payload, Causal: causalMeta}}
	return d.writeFrame(ctx, conn, peer, frame)
}

func (d *dispatcher) writeFrame(ctx context.Context, conn *Connection, peer NodeSpec, frame *wire.Frame) error {
	body, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	if err := conn.out.send(ctx, body); err != nil {
		d.msink.IncrCounterWithLabels(MetricDispatchSendErrors, 1.0, []metrics.Label{LabelPeerName.M(peer.Name)})
		return err
	}
	d.msink.IncrCounterWithLabels(MetricDispatchSendBytes, float32(len(body)), []metrics.Label{LabelPeerName.M(peer.Name)})
	return nil
}

// HandleFrame is the dispatcher's half of the frameHandler wired into
// the inbound server and the dial-side read loop (§4.4, §4.6). Only
// the four application frame kinds reach here; membership-channel
// frames are routed to the membership manager before this is called.
func (d *dispatcher) HandleFrame(conn *Connection, f *wire.Frame) {
	switch f.Kind {
	case wire.KindData:
		d.handleData(conn, f.Data.Payload, f.Data.Causal, "")
	case wire.KindDataWithID:
		d.handleData(conn, f.DataWithID.Payload, f.DataWithID.Causal, f.DataWithID.ID)
	case wire.KindAck:
		d.handleAck(f.Ack.ID)
	case wire.KindForward:
		d.handleForward(conn, f.Forward)
	default:
		d.logger.Warn("unexpected frame on data channel", LabelFrameKind.L(f.Kind.String()), LabelPeerName.L(conn.Peer.Name))
	}
}

// handleData implements the receive side of §4.6: an ack (if
// requested) is sent on receipt, independent of whether causal
// ordering defers the application-visible delivery.
func (d *dispatcher) handleData(conn *Connection, payload []byte, causal *wire.CausalMeta, ackID string) {
	if ackID != "" {
		d.sendAck(conn, ackID)
	}

	peer := conn.Peer
	result := d.interp.evaluate(InterpositionReceive, peer, payload)
	switch result.variant {
	case resultDrop:
		d.msink.IncrCounterWithLabels(MetricDispatchDropped, 1.0, []metrics.Label{LabelPeerName.M(peer.Name)})
		return
	case resultSubstitute:
		payload = result.payload
	case resultDelay:
		delayed := result.payload
		time.AfterFunc(DefaultInterpositionDelay, func() {
			d.deliverPayload(peer, delayed, causal)
		})
		return
	}
	d.deliverPayload(peer, payload, causal)
}

func (d *dispatcher) deliverPayload(peer NodeSpec, payload []byte, causal *wire.CausalMeta) {
	if causal != nil {
		d.causal.Deliver(*causal, func() { d.deliverData(peer, payload) })
		return
	}
	d.deliverData(peer, payload)
}

func (d *dispatcher) handleForward(conn *Connection, body *wire.ForwardBody) {
	peer := conn.Peer
	payload := body.Payload

	result := d.interp.evaluate(InterpositionReceive, peer, payload)
	switch result.variant {
	case resultDrop:
		d.msink.IncrCounterWithLabels(MetricDispatchDropped, 1.0, []metrics.Label{LabelPeerName.M(peer.Name)})
		return
	case resultSubstitute:
		payload = result.payload
	case resultDelay:
		delayed := result.payload
		time.AfterFunc(DefaultInterpositionDelay, func() {
			d.deliverForward(peer, body.ServerRef, delayed, body.Causal)
		})
		return
	}
	d.deliverForward(peer, body.ServerRef, payload, body.Causal)
}

func (d *dispatcher) deliverForward(peer NodeSpec, serverRef string, payload []byte, causal *wire.CausalMeta) {
	deliver := func() {
		fn, ok := d.resolveServerRef(serverRef)
		if !ok {
			d.logger.Warn("forward target not registered locally", LabelPeerName.L(peer.Name))
			return
		}
		fn(payload)
	}
	if causal != nil {
		d.causal.Deliver(*causal, deliver)
		return
	}
	deliver()
}

func (d *dispatcher) sendAck(conn *Connection, id string) {
	replyConn, err := d.registry.pick(conn.Peer, conn.Channel, 0, false)
	if err != nil {
		replyConn = conn
	}
	frame := &wire.Frame{Kind: wire.KindAck, Ack: &wire.AckBody{ID: id}}
	body, err := wire.Encode(frame)
	if err != nil {
		d.logger.Warn("failed to encode ack", LabelError.L(err))
		return
	}
	if err := replyConn.out.send(context.Background(), body); err != nil {
		d.logger.Warn("failed to send ack", LabelPeerName.L(conn.Peer.Name), LabelError.L(err))
	}
}

func (d *dispatcher) handleAck(id string) {
	d.acksMu.Lock()
	pending, ok := d.acks[id]
	d.acksMu.Unlock()
	if !ok {
		return // late or duplicate ack, the sender already gave up or got one
	}
	select {
	case pending.done <- nil:
	default:
	}
}
