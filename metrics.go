package partisan

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

// Metric names emitted by the node. Grouped by the component that
// emits them, following the teacher's flat name-slice table.
var (
	MetricMembershipActiveSize    = []string{"partisan", "membership", "active", "size"}
	MetricMembershipPassiveSize   = []string{"partisan", "membership", "passive", "size"}
	MetricMembershipSuspectedSize = []string{"partisan", "membership", "suspected", "size"}
	MetricMembershipShuffleCount  = []string{"partisan", "membership", "shuffle", "count"}
	MetricMembershipForwardJoins  = []string{"partisan", "membership", "forward_join", "count"}

	MetricConnEstablishedCount = []string{"partisan", "connection", "established", "count"}
	MetricConnErrorCount       = []string{"partisan", "connection", "error", "count"}
	MetricConnClosedCount      = []string{"partisan", "connection", "closed", "count"}

	MetricDispatchSendBytes  = []string{"partisan", "dispatch", "send", "bytes"}
	MetricDispatchSendErrors = []string{"partisan", "dispatch", "send", "error", "count"}
	MetricDispatchAckTimeout = []string{"partisan", "dispatch", "ack", "timeout", "count"}
	MetricDispatchDropped    = []string{"partisan", "dispatch", "interposition", "dropped", "count"}

	MetricCausalBuffered  = []string{"partisan", "causal", "buffered", "count"}
	MetricCausalDelivered = []string{"partisan", "causal", "delivered", "count"}
)

// TelemetryLabel is a typed metrics/log label key, after the teacher's
// pattern of sharing one string constant between go-metrics labels and
// slog attributes.
type TelemetryLabel string

var (
	LabelError      TelemetryLabel = "error"
	LabelPeerName   TelemetryLabel = "peer_name"
	LabelPeerAddr   TelemetryLabel = "peer_addr"
	LabelChannel    TelemetryLabel = "channel"
	LabelSlot       TelemetryLabel = "slot"
	LabelDuration   TelemetryLabel = "duration"
	LabelFrameKind  TelemetryLabel = "frame_kind"
)

func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
