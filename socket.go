package partisan

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/partisan-go/partisan/pkg/wire"
)

// DefaultConnectTimeout is how long a dial attempt waits before
// returning ErrConnectTimeout, per §4.1.
const DefaultConnectTimeout = 1000 * time.Millisecond

// DefaultKeepaliveInterval controls how often a peerSocket writes a
// zero-length ping frame to detect a silently dead peer. The ping is
// written every interval, whether or not other frames were sent.
const DefaultKeepaliveInterval = 15 * time.Second

// peerSocket is a bidirectional, frame-delimited transport, modelled
// on the teacher's streamWrapper: a thin wrapper pairing a raw
// transport handle with a supervisory goroutine (here: keepalive
// instead of garbage collection, since we don't multiplex QUIC
// streams over a shared connection).
type peerSocket struct {
	conn net.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	closeCh   chan struct{}
	closed    bool
	closeLk   sync.Mutex

	keepalive time.Duration
	wg        sync.WaitGroup
}

func newPeerSocket(conn net.Conn, keepalive time.Duration) *peerSocket {
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	s := &peerSocket{
		conn:      conn,
		closeCh:   make(chan struct{}),
		keepalive: keepalive,
	}
	s.wg.Add(1)
	go s.keepaliveLoop()
	return s
}

// dialPeerSocket opens a TCP (optionally TLS) connection to addr,
// bounded by timeout, per §4.1: "Failure to connect within a bounded
// timeout returns an error without raising."
func dialPeerSocket(addr string, timeout time.Duration, tlsConfig *tls.Config) (*peerSocket, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	var conn net.Conn
	var err error
	if tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		if nErr, ok := err.(net.Error); ok && nErr.Timeout() {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
		}
		return nil, err
	}
	return newPeerSocket(conn, 0), nil
}

func (s *peerSocket) readFrame() ([]byte, error) {
	return wire.ReadFrame(s.conn)
}

func (s *peerSocket) writeFrame(body []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteFrame(s.conn, body)
}

func (s *peerSocket) keepaliveLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Zero-length frame is an inert ping: readers treat an
			// empty body as a no-op and keep reading.
			if err := s.writeFrame(nil); err != nil {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *peerSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closeLk.Lock()
		s.closed = true
		s.closeLk.Unlock()
		close(s.closeCh)
		err = s.conn.Close()
	})
	s.wg.Wait()
	return err
}

func (s *peerSocket) isClosed() bool {
	s.closeLk.Lock()
	defer s.closeLk.Unlock()
	return s.closed
}

func (s *peerSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *peerSocket) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
