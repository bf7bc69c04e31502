package wire

// Kind tags a Frame's populated variant, playing the role the
// teacher's protobuf `oneof` plays for `grintav1alpha1.Frame`, but
// without codegen: exactly one of the pointer fields on Frame is
// non-nil for a given Kind.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindForwardJoin
	KindNeighbor
	KindNeighborAccepted
	KindNeighborRejected
	KindShuffle
	KindShuffleReply
	KindDisconnect
	KindData
	KindDataWithID
	KindAck
	KindForward
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindForwardJoin:
		return "forward_join"
	case KindNeighbor:
		return "neighbor"
	case KindNeighborAccepted:
		return "neighbor_accepted"
	case KindNeighborRejected:
		return "neighbor_rejected"
	case KindShuffle:
		return "shuffle"
	case KindShuffleReply:
		return "shuffle_reply"
	case KindDisconnect:
		return "disconnect"
	case KindData:
		return "data"
	case KindDataWithID:
		return "data_with_id"
	case KindAck:
		return "ack"
	case KindForward:
		return "forward"
	default:
		return "unknown"
	}
}

// NodeSpec is the wire-level twin of the top-level package's NodeSpec,
// kept dependency-free so pkg/wire never imports the root package.
type NodeSpec struct {
	Name        string
	ListenAddrs []string
}

// Frame is the envelope for everything sent over a Partisan socket.
// Exactly one field other than Kind is populated, selected by Kind.
type Frame struct {
	Kind Kind

	Hello             *HelloBody
	ForwardJoin       *ForwardJoinBody
	Neighbor          *NeighborBody
	NeighborAccepted  *NeighborAcceptedBody
	NeighborRejected  *NeighborRejectedBody
	Shuffle           *ShuffleBody
	ShuffleReply      *ShuffleReplyBody
	Disconnect        *DisconnectBody
	Data              *DataBody
	DataWithID        *DataWithIDBody
	Ack               *AckBody
	Forward           *ForwardBody
}

// HelloBody is the first frame on every new peer socket (§4.4, §6).
// Slot identifies which of a channel's parallel sockets this one is,
// so the accepting side files it under the same (channel, slot) key
// the dialing side used.
type HelloBody struct {
	NodeName string
	Channel  string
	Slot     int
}

// ForwardJoinBody propagates a new peer through the active view along
// a random walk (§4.5).
type ForwardJoinBody struct {
	NewPeer NodeSpec
	TTL     int
	Sender  string
}

// NeighborBody requests admission into the recipient's active view as
// a replacement candidate (§4.5).
type NeighborBody struct {
	Peer     NodeSpec
	Priority string // "high" or "low"
	Sender   string
}

type NeighborAcceptedBody struct {
	Peer NodeSpec
}

type NeighborRejectedBody struct {
	Peer NodeSpec
}

// ShuffleBody carries a random sample of a node's active+passive view
// for the periodic shuffle exchange (§4.5).
type ShuffleBody struct {
	Exchange []NodeSpec
	TTL      int
	Sender   string
}

type ShuffleReplyBody struct {
	Exchange []NodeSpec
	Sender   string
}

// DisconnectBody asks the recipient to move the sending node from its
// active view to passive and close the connection to it (§4.5). The
// recipient identifies the sender by the socket, not by Peer.
type DisconnectBody struct {
	Peer string
}

// CausalMeta carries a per-label vector-clock dependency set for
// causally-ordered delivery (§4.7).
type CausalMeta struct {
	Label  string
	Sender string
	DepVC  map[string]uint64
}

// DataBody is a plain application frame, optionally carrying causal
// metadata and/or a destination RemoteRef (encoded form).
type DataBody struct {
	Payload []byte
	Ref     []byte // encoded RemoteRef of the destination, may be empty
	Causal  *CausalMeta
}

type DataWithIDBody struct {
	ID      string
	Payload []byte
	Ref     []byte
	Causal  *CausalMeta
}

type AckBody struct {
	ID string
}

// ForwardBody routes Payload to a locally registered ServerRef on the
// receiving node (§4.6, §6).
type ForwardBody struct {
	ServerRef string
	Payload   []byte
	Causal    *CausalMeta
}
