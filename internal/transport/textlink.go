package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/wire"
)

// TextWriter is Writer's counterpart for external-role links (§6): it owns
// the write half of one TCP connection exclusively and serializes
// newline-JSON envelopes from a bounded queue, same ownership and
// backpressure model as Writer.
type TextWriter struct {
	conn    net.Conn
	peerID  string
	queue   chan wire.TextEnvelope
	stop    chan struct{}
	onClose func(peerID string, err error)

	closeOnce sync.Once
	done      chan struct{}
}

// NewTextWriter starts a text-link writer actor for conn.
func NewTextWriter(peerID string, conn net.Conn, queueDepth int, onClose func(peerID string, err error)) *TextWriter {
	w := &TextWriter{
		conn:    conn,
		peerID:  peerID,
		queue:   make(chan wire.TextEnvelope, queueDepth),
		stop:    make(chan struct{}),
		onClose: onClose,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *TextWriter) run() {
	log := logging.For("transport.textwriter")
	var failure error
loop:
	for {
		select {
		case env := <-w.queue:
			if err := wire.WriteText(w.conn, env.Title, env.Payload); err != nil {
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

// Enqueue schedules title/v (already-marshaled or marshalable payload) for
// delivery. It accepts a raw TextEnvelope so callers (which already build
// payload bytes once) don't pay a double-marshal cost.
func (w *TextWriter) Enqueue(env wire.TextEnvelope) error {
	select {
	case w.queue <- env:
		return nil
	case <-w.done:
		return ErrClosed
	}
}

// Close stops the writer and closes the underlying connection.
func (w *TextWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

// TextDispatch handles one decoded external-role envelope.
type TextDispatch func(peerID string, env wire.TextEnvelope)

// TextReader parses newline-JSON frames off one TCP connection for
// external-role links.
type TextReader struct {
	conn   net.Conn
	peerID string
}

// NewTextReader wraps conn for peerID.
func NewTextReader(peerID string, conn net.Conn) *TextReader {
	return &TextReader{conn: conn, peerID: peerID}
}

// Run reads envelopes until ctx is cancelled or the connection closes.
func (r *TextReader) Run(ctx context.Context, dispatch TextDispatch, onEOF func(peerID string, err error)) {
	log := logging.For("transport.textreader")
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	br := bufio.NewReader(r.conn)
	var exitErr error
	for {
		env, err := wire.ReadText(br)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn().Str("peer", r.peerID).Err(err).Msg("envelope decode failed")
			}
			exitErr = err
			break
		}
		dispatch(r.peerID, env)
	}
	if onEOF != nil {
		onEOF(r.peerID, exitErr)
	}
}
