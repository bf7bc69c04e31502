package partisan

import (
	"context"
	"sync"
	"time"

	"github.com/partisan-go/partisan/pkg/wire"
)

// outboundClient is the one-writer-per-Connection actor of §4.3,
// directly modelled on the teacher's pkg/flow.Sender[T]: a buffered
// mailbox drained by a single goroutine, honouring egress delay and
// compression before handing bytes to the socket.
type outboundClient struct {
	sock        *peerSocket
	compression int
	egressDelay time.Duration
	onError     func(error)

	writeCh    chan []byte
	closeCh    chan struct{}
	mainLoopWg sync.WaitGroup

	writer sync.WaitGroup
	err    error
	lk     sync.Mutex
}

func newOutboundClient(sock *peerSocket, compression int, egressDelay time.Duration, onError func(error)) *outboundClient {
	o := &outboundClient{
		sock:        sock,
		compression: compression,
		egressDelay: egressDelay,
		onError:     onError,
		writeCh:     make(chan []byte, 64),
		closeCh:     make(chan struct{}),
	}
	o.mainLoopWg.Add(1)
	go o.run()
	return o
}

// send enqueues a frame body (already msgpack-encoded) for writing.
func (o *outboundClient) send(ctx context.Context, body []byte) error {
	o.lk.Lock()
	if o.err != nil {
		err := o.err
		o.lk.Unlock()
		return err
	}
	o.writer.Add(1)
	defer o.writer.Done()
	o.lk.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.closeCh:
		return ErrFlowClosed
	case o.writeCh <- body:
		return nil
	}
}

func (o *outboundClient) run() {
	defer o.mainLoopWg.Done()
	for {
		body, ok := <-o.writeCh
		if !ok {
			return
		}

		if o.egressDelay > 0 {
			time.Sleep(o.egressDelay)
		}

		wireBody, err := wire.Compress(body, o.compression)
		if err == nil {
			err = o.sock.writeFrame(wireBody)
		}
		if err != nil {
			o.closeWith(err)
			if o.onError != nil {
				o.onError(err)
			}
			return
		}
	}
}

func (o *outboundClient) closeWith(cause error) {
	o.lk.Lock()
	defer o.lk.Unlock()
	if o.err != nil {
		return
	}
	o.err = cause
	close(o.closeCh)
	o.writer.Wait()
	close(o.writeCh)
}

func (o *outboundClient) close() {
	o.closeWith(ErrFlowClosed)
	o.mainLoopWg.Wait()
}
