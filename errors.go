package partisan

import "errors"

// Error kinds from the wire/protocol/transport layer, per §7.
var (
	ErrConnectTimeout = errors.New("partisan: connect timed out")
	ErrClosed         = errors.New("partisan: connection closed")
	ErrUnexpectedPeer = errors.New("partisan: unexpected peer on hello")
	ErrNotConnected   = errors.New("partisan: peer not connected")
	ErrDisconnected   = errors.New("partisan: peer disconnected")
	ErrSendFailed     = errors.New("partisan: send failed")
	ErrAckTimeout     = errors.New("partisan: ack timed out")
	ErrBadFrame       = errors.New("partisan: malformed frame")
	ErrNoListenAddr   = errors.New("partisan: no listen address configured")
)

// Configuration and invariant errors.
var (
	ErrInvalidConfig    = errors.New("partisan: invalid configuration")
	ErrNoTLSConfig      = errors.New("partisan: tls.Config required unless WithInsecure is set")
	ErrNodeClosed       = errors.New("partisan: node is shutting down")
	ErrUnknownChannel   = errors.New("partisan: unknown channel")
	ErrUnknownPeer      = errors.New("partisan: unknown peer")
	ErrSelfTarget       = errors.New("partisan: cannot target self over the network")
	ErrNameConflict     = errors.New("partisan: process name already registered")
	ErrNameResolution   = errors.New("partisan: could not resolve destination")
	ErrInvalidRemoteRef = errors.New("partisan: malformed remote reference")
	ErrFlowClosed       = errors.New("partisan: flow closed")
)
