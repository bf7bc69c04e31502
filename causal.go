package partisan

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-metrics"
	"github.com/partisan-go/partisan/pkg/wire"
)

// causalReq is a causalLabelActor mailbox element, following the same
// tagged-interface shape as membership.go's mgmtEvent.
type causalReq interface{}

type reqEmitVC struct {
	reply chan map[string]uint64
}

type reqDeliver struct {
	meta    wire.CausalMeta
	deliver func()
}

type pendingDelivery struct {
	meta    wire.CausalMeta
	deliver func()
}

// causalLabelActor owns one label's vector clock and delivery buffer,
// modelled on the teacher's pkg/flow.Receiver[T]: a single goroutine
// draining a mailbox so vc/buffer are never touched from two
// goroutines at once (§5, §9's "revisit on every vector-clock advance"
// design note).
type causalLabelActor struct {
	label string
	self  string

	vc     map[string]uint64 // self: messages emitted on this label; other nodes: messages delivered from them
	buffer []*pendingDelivery

	reqCh   chan causalReq
	closeCh chan struct{}
	wg      sync.WaitGroup

	logger *slog.Logger
	msink  metrics.MetricSink
}

func newCausalLabelActor(label, self string, logger *slog.Logger, msink metrics.MetricSink) *causalLabelActor {
	a := &causalLabelActor{
		label:   label,
		self:    self,
		vc:      make(map[string]uint64),
		reqCh:   make(chan causalReq, 128),
		closeCh: make(chan struct{}),
		logger:  logger,
		msink:   msink,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *causalLabelActor) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.closeCh:
			return
		case req := <-a.reqCh:
			switch r := req.(type) {
			case reqEmitVC:
				a.vc[a.self]++
				r.reply <- cloneVC(a.vc)
			case reqDeliver:
				a.tryDeliver(&pendingDelivery{meta: r.meta, deliver: r.deliver})
			}
		}
	}
}

// deliverable implements §4.7's rule: "for every node n,
// received_vc[n] >= dep_vc[n], with equality for the sender." Equality
// for the sender is read as "this is exactly the next message we
// haven't delivered from it yet" (vc[sender] == dep_vc[sender]-1), so
// messages from one sender are delivered one at a time in emit order.
func (a *causalLabelActor) deliverable(meta wire.CausalMeta) bool {
	for node, dep := range meta.DepVC {
		have := a.vc[node]
		if node == meta.Sender {
			if have != dep-1 {
				return false
			}
		} else if have < dep {
			return false
		}
	}
	return true
}

func (a *causalLabelActor) tryDeliver(p *pendingDelivery) {
	if !a.deliverable(p.meta) {
		a.buffer = append(a.buffer, p)
		a.msink.IncrCounterWithLabels(MetricCausalBuffered, 1.0, []metrics.Label{LabelChannel.M(a.label)})
		return
	}
	a.deliverOne(p)
	a.drainBuffer()
}

func (a *causalLabelActor) deliverOne(p *pendingDelivery) {
	a.vc[p.meta.Sender] = p.meta.DepVC[p.meta.Sender]
	p.deliver()
	a.msink.IncrCounterWithLabels(MetricCausalDelivered, 1.0, []metrics.Label{LabelChannel.M(a.label)})
}

func (a *causalLabelActor) drainBuffer() {
	for progressed := true; progressed && len(a.buffer) > 0; {
		progressed = false
		remaining := a.buffer[:0]
		for _, p := range a.buffer {
			if a.deliverable(p.meta) {
				a.deliverOne(p)
				progressed = true
			} else {
				remaining = append(remaining, p)
			}
		}
		a.buffer = remaining
	}
}

func (a *causalLabelActor) close() {
	close(a.closeCh)
	a.wg.Wait()
}

func cloneVC(vc map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// causalLayer is the per-node owner of every label's actor (§4.7).
// Labels are created lazily on first use.
type causalLayer struct {
	self   string
	mu     sync.Mutex
	labels map[string]*causalLabelActor
	logger *slog.Logger
	msink  metrics.MetricSink
}

func newCausalLayer(self string, logger *slog.Logger, msink metrics.MetricSink) *causalLayer {
	return &causalLayer{
		self:   self,
		labels: make(map[string]*causalLabelActor),
		logger: logger,
		msink:  msink,
	}
}

func (c *causalLayer) labelActor(label string) *causalLabelActor {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.labels[label]
	if !ok {
		a = newCausalLabelActor(label, c.self, c.logger, c.msink)
		c.labels[label] = a
	}
	return a
}

// NextVC increments this node's counter for label and returns the full
// vector-clock snapshot to attach to the outbound message (§4.6 step
// 2). The sender's own dependencies are always already satisfied
// locally, so no send-side buffering is done here.
func (c *causalLayer) NextVC(ctx context.Context, label string) (map[string]uint64, error) {
	a := c.labelActor(label)
	reply := make(chan map[string]uint64, 1)
	select {
	case a.reqCh <- reqEmitVC{reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case vc := <-reply:
		return vc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deliver hands a causally-tagged inbound message to its label's
// actor, which calls deliver immediately if dependencies are already
// satisfied, or buffers it until they are (§4.6 receive side).
func (c *causalLayer) Deliver(meta wire.CausalMeta, deliver func()) {
	a := c.labelActor(meta.Label)
	select {
	case a.reqCh <- reqDeliver{meta: meta, deliver: deliver}:
	default:
		c.logger.Warn("causal mailbox full, dropping delivery", LabelChannel.L(meta.Label))
	}
}

func (c *causalLayer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.labels {
		a.close()
	}
}
