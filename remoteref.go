package partisan

import (
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// RemoteRefKind distinguishes the three destination shapes of §3.
type RemoteRefKind uint8

const (
	RefNode RemoteRefKind = iota
	RefRegisteredName
	RefOpaqueID
)

// RemoteRef is a destination identifier usable as a message target
// (§3): either a pure node name, a {node, registered-name} pair, or a
// {node, opaque-process-id} pair.
type RemoteRef struct {
	Node  string
	Kind  RemoteRefKind
	Value string // RegisteredName or OpaqueID, empty for RefNode
}

// NewNodeRef targets a node as a whole (no local process).
func NewNodeRef(node string) RemoteRef {
	return RemoteRef{Node: node, Kind: RefNode}
}

// NewRegisteredRef targets a name registered locally on node.
func NewRegisteredRef(node, name string) RemoteRef {
	return RemoteRef{Node: node, Kind: RefRegisteredName, Value: name}
}

// NewOpaqueRef mints a fresh opaque process token on node, grounded on
// other_examples/sakuffo-sakloud__node.go's use of google/uuid for
// node/ack identifiers.
func NewOpaqueRef(node string) RemoteRef {
	return RemoteRef{Node: node, Kind: RefOpaqueID, Value: uuid.NewString()}
}

func (r RemoteRef) String() string {
	switch r.Kind {
	case RefRegisteredName:
		return fmt.Sprintf("%s!%s", r.Node, r.Value)
	case RefOpaqueID:
		return fmt.Sprintf("%s!<%s>", r.Node, r.Value)
	default:
		return r.Node
	}
}

// RemoteRefFormat selects one of the two wire encodings named in §6's
// `remote_ref_format` configuration key.
type RemoteRefFormat int

const (
	FormatImproperList RemoteRefFormat = iota
	FormatURI
)

// Encode renders ref in the configured wire form. Round-trips through
// Decode for every legal RemoteRef (§8).
func (r RemoteRef) Encode(format RemoteRefFormat) []byte {
	if format == FormatURI {
		return []byte(r.encodeURI())
	}
	return r.encodeImproperList()
}

// DecodeRemoteRef parses buf back into a RemoteRef, the exact inverse
// of Encode for the same format.
func DecodeRemoteRef(format RemoteRefFormat, buf []byte) (RemoteRef, error) {
	if format == FormatURI {
		return decodeURIRef(string(buf))
	}
	return decodeImproperListRef(buf)
}

// encodeImproperList mirrors Erlang's `[Node | Token]` improper-list
// pairing: a tag byte selecting the variant, then a length-prefixed
// node name, then (for the two-element variants) a length-prefixed
// value. Fixed field widths keep the encoding bit-stable across a
// cluster regardless of host byte order or map iteration, per §4.8's
// interop requirement.
func (r RemoteRef) encodeImproperList() []byte {
	node := []byte(r.Node)
	buf := make([]byte, 0, 1+2+len(node)+2+len(r.Value))
	buf = append(buf, byte(r.Kind))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(node)))
	buf = append(buf, node...)
	if r.Kind != RefNode {
		value := []byte(r.Value)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
		buf = append(buf, value...)
	}
	return buf
}

func decodeImproperListRef(buf []byte) (RemoteRef, error) {
	if len(buf) < 3 {
		return RemoteRef{}, fmt.Errorf("%w: remote ref too short", ErrInvalidRemoteRef)
	}
	kind := RemoteRefKind(buf[0])
	nodeLen := binary.BigEndian.Uint16(buf[1:3])
	off := 3
	if off+int(nodeLen) > len(buf) {
		return RemoteRef{}, fmt.Errorf("%w: truncated node name", ErrInvalidRemoteRef)
	}
	node := string(buf[off : off+int(nodeLen)])
	off += int(nodeLen)

	ref := RemoteRef{Node: node, Kind: kind}
	if kind == RefNode {
		return ref, nil
	}
	if off+2 > len(buf) {
		return RemoteRef{}, fmt.Errorf("%w: truncated value length", ErrInvalidRemoteRef)
	}
	valueLen := binary.BigEndian.Uint16(buf[off : off+2])
	off += 2
	if off+int(valueLen) > len(buf) {
		return RemoteRef{}, fmt.Errorf("%w: truncated value", ErrInvalidRemoteRef)
	}
	ref.Value = string(buf[off : off+int(valueLen)])
	return ref, nil
}

// encodeURI renders the same destination as a `partisan://` URI,
// escaping node/value through net/url so arbitrary names round-trip.
func (r RemoteRef) encodeURI() string {
	u := url.URL{Scheme: "partisan", Host: url.PathEscape(r.Node)}
	switch r.Kind {
	case RefRegisteredName:
		u.Path = "/name/" + url.PathEscape(r.Value)
	case RefOpaqueID:
		u.Path = "/pid/" + url.PathEscape(r.Value)
	}
	return u.String()
}

func decodeURIRef(s string) (RemoteRef, error) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "partisan" || u.Host == "" {
		return RemoteRef{}, fmt.Errorf("%w: malformed remote ref uri %q", ErrInvalidRemoteRef, s)
	}
	node, err := url.PathUnescape(u.Host)
	if err != nil {
		return RemoteRef{}, fmt.Errorf("%w: %w", ErrInvalidRemoteRef, err)
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		return RemoteRef{Node: node, Kind: RefNode}, nil
	}
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		return RemoteRef{}, fmt.Errorf("%w: malformed remote ref uri %q", ErrInvalidRemoteRef, s)
	}
	value, err := url.PathUnescape(parts[1])
	if err != nil {
		return RemoteRef{}, fmt.Errorf("%w: %w", ErrInvalidRemoteRef, err)
	}
	switch parts[0] {
	case "name":
		return RemoteRef{Node: node, Kind: RefRegisteredName, Value: value}, nil
	case "pid":
		return RemoteRef{Node: node, Kind: RefOpaqueID, Value: value}, nil
	default:
		return RemoteRef{}, fmt.Errorf("%w: unknown remote ref segment %q", ErrInvalidRemoteRef, parts[0])
	}
}
