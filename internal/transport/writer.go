package transport

import (
	"errors"
	"net"
	"sync"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/wire"
)

// ErrClosed is returned by Enqueue once the writer has stopped.
var ErrClosed = errors.New("transport: writer closed")

// Writer owns the write half of one TCP connection. Exactly one goroutine
// ever calls conn.Write: enqueued envelopes are serialized onto the
// connection by Writer's own run loop.
type Writer struct {
	conn    net.Conn
	peerID  string
	queue   chan wire.Envelope
	stop    chan struct{}
	onClose func(peerID string, err error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewWriter starts a writer actor for conn. onClose, if non-nil, is invoked
// exactly once when the writer stops, whether due to a write error or an
// explicit Close.
func NewWriter(peerID string, conn net.Conn, queueDepth int, onClose func(peerID string, err error)) *Writer {
	w := &Writer{
		conn:    conn,
		peerID:  peerID,
		queue:   make(chan wire.Envelope, queueDepth),
		stop:    make(chan struct{}),
		onClose: onClose,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	log := logging.For("transport.writer")
	var failure error
loop:
	for {
		select {
		case env := <-w.queue:
			if err := wire.Encode(w.conn, env); err != nil {
				log.Warn().Str("peer", w.peerID).Err(err).Msg("write failed, closing connection")
				failure = err
				break loop
			}
		case <-w.stop:
			break loop
		}
	}
	w.conn.Close()
	close(w.done)
	if w.onClose != nil {
		w.onClose(w.peerID, failure)
	}
}

// Enqueue schedules env for delivery. It never blocks the caller beyond the
// queue's capacity, matching the backpressure model in §4.2; it returns
// ErrClosed if the writer has already stopped.
func (w *Writer) Enqueue(env wire.Envelope) error {
	select {
	case w.queue <- env:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

// Close stops the writer and closes the underlying connection. Safe to
// call multiple times and concurrently with Enqueue.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}
