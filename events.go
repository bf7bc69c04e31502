package partisan

// eventHub is the public-facing facade for §4.8: on_down/on_up fire
// edge-triggered, at most once per transition, and membership-changed
// subscribers receive the current Active view. The actual bookkeeping
// already lives where the transition is detected — connectionRegistry
// for on_up/on_down (§4.2) and membershipManager for membership-changed
// (§4.5) — so eventHub only unifies the two call sites Node exposes.
type eventHub struct {
	registry   *connectionRegistry
	membership *membershipManager
}

func newEventHub(registry *connectionRegistry, membership *membershipManager) *eventHub {
	return &eventHub{registry: registry, membership: membership}
}

// OnUp registers cb to fire each time peer becomes fully connected
// (§3: a Connection on every configured channel's slot 0). cb stays
// registered; there is no way to remove it.
func (h *eventHub) OnUp(peer NodeSpec, cb func(NodeSpec)) {
	h.registry.onUp(peer.Name, cb)
}

// OnDown registers cb to fire each time peer stops being fully
// connected. cb stays registered; there is no way to remove it.
func (h *eventHub) OnDown(peer NodeSpec, cb func(NodeSpec)) {
	h.registry.onDown(peer.Name, cb)
}

// Subscribe registers cb to fire on every membership change, receiving
// the current Active view (including self).
func (h *eventHub) Subscribe(cb func([]NodeSpec)) {
	h.membership.Subscribe(cb)
}
