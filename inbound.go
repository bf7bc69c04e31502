package partisan

import (
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"github.com/hashicorp/go-metrics"
	"github.com/partisan-go/partisan/pkg/wire"
)

// helloWindow is how long an accepted socket has to present its hello
// frame before it is dropped (§4.4).
const helloWindow = 5 * time.Second

// frameHandler dispatches a decoded application/protocol frame that
// arrived on a given Connection. Implemented by Node.
type frameHandler func(conn *Connection, f *wire.Frame)

// inboundServer listens on one configured address and accepts peer
// sockets, modelled on the teacher's Transport.acceptCx/handleStreams
// accept-then-read-init-frame pattern (transport.go).
type inboundServer struct {
	ln        net.Listener
	self      NodeSpec
	tlsConfig *tls.Config

	channels map[string]ChannelConfig

	onAccept func(peer NodeSpec, channel string, slot int, sock *peerSocket)
	handle   frameHandler
	onError  func(peer NodeSpec, channel string, slot int, err error)

	ingressDelay time.Duration
	logger       *slog.Logger
	msink        metrics.MetricSink

	closeCh chan struct{}
}

func newInboundServer(
	addr string,
	self NodeSpec,
	tlsConfig *tls.Config,
	channels map[string]ChannelConfig,
	onAccept func(peer NodeSpec, channel string, slot int, sock *peerSocket),
	handle frameHandler,
	onError func(peer NodeSpec, channel string, slot int, err error),
	ingressDelay time.Duration,
	logger *slog.Logger,
	msink metrics.MetricSink,
) (*inboundServer, error) {
	var ln net.Listener
	var err error
	if tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	s := &inboundServer{
		ln:           ln,
		self:         self,
		tlsConfig:    tlsConfig,
		channels:     channels,
		onAccept:     onAccept,
		handle:       handle,
		onError:      onError,
		ingressDelay: ingressDelay,
		logger:       logger,
		msink:        msink,
		closeCh:      make(chan struct{}),
	}
	go s.acceptLoop()
	return s, nil
}

func (s *inboundServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
				s.logger.Warn("accept error", LabelError.L(err))
				return
			}
		}
		go s.handleConn(conn)
	}
}

func (s *inboundServer) handleConn(raw net.Conn) {
	sock := newPeerSocket(raw, 0)
	raw.SetReadDeadline(time.Now().Add(helloWindow))
	body, err := sock.readFrame()
	raw.SetReadDeadline(time.Time{})
	if err != nil {
		s.logger.Warn("no hello within window", LabelError.L(err))
		sock.Close()
		return
	}

	frame, err := wire.Decode(body)
	if err != nil || frame.Kind != wire.KindHello || frame.Hello == nil {
		s.logger.Warn("protocol violation: first frame is not hello")
		sock.Close()
		return
	}

	hello := frame.Hello
	if hello.NodeName == "" {
		// §9 open question: the listening side MUST abort on an
		// unexpected/malformed peer hello, same as the dialing side.
		s.logger.Warn("unexpected_peer: empty node name on hello")
		sock.Close()
		return
	}

	// Reply with our own hello so the remote (dialing) side can
	// validate our identity too.
	reply := &wire.Frame{Kind: wire.KindHello, Hello: &wire.HelloBody{NodeName: s.self.Name, Channel: hello.Channel, Slot: hello.Slot}}
	replyBody, err := wire.Encode(reply)
	if err == nil {
		sock.writeFrame(replyBody)
	}

	peer := NodeSpec{Name: hello.NodeName}
	slot := hello.Slot
	s.onAccept(peer, hello.Channel, slot, sock)

	s.readLoop(peer, hello.Channel, slot, sock)
}

func (s *inboundServer) readLoop(peer NodeSpec, channel string, slot int, sock *peerSocket) {
	for {
		body, err := sock.readFrame()
		if err != nil {
			s.onError(peer, channel, slot, err)
			return
		}
		if len(body) == 0 {
			continue // keepalive ping
		}
		if s.ingressDelay > 0 {
			time.Sleep(s.ingressDelay)
		}
		body, err = wire.Decompress(body, s.channels[channel].Compression != CompressionDisabled)
		if err != nil {
			s.logger.Warn("bad_frame: failed to decompress frame", LabelPeerName.L(peer.Name))
			continue
		}
		frame, err := wire.Decode(body)
		if err != nil {
			s.logger.Warn("bad_frame: dropping malformed frame", LabelPeerName.L(peer.Name))
			continue
		}
		s.handle(&Connection{Peer: peer, Channel: channel, Slot: slot, sock: sock}, frame)
	}
}

func (s *inboundServer) Close() error {
	close(s.closeCh)
	return s.ln.Close()
}
