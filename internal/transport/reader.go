package transport

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/wire"
)

// Dispatch handles one decoded frame from peerID. Implementations must not
// block indefinitely: a slow handler stalls only this peer's reader.
type Dispatch func(peerID string, env wire.Envelope)

// Reader parses frames off one TCP connection and hands each to dispatch.
// It never crashes the process on a malformed or unknown frame (§4.1, §7):
// a bad frame is logged and the connection is closed, never panics.
type Reader struct {
	conn   net.Conn
	peerID string
}

// NewReader wraps conn for peerID.
func NewReader(peerID string, conn net.Conn) *Reader {
	return &Reader{conn: conn, peerID: peerID}
}

// Run reads frames until ctx is cancelled, the connection closes, or a
// truncated frame is seen. onEOF, if non-nil, runs when the loop exits.
func (r *Reader) Run(ctx context.Context, dispatch Dispatch, onEOF func(peerID string, err error)) {
	log := logging.For("transport.reader")
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	var exitErr error
	for {
		env, err := wire.Decode(r.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, wire.ErrTruncated) && ctx.Err() == nil {
				log.Warn().Str("peer", r.peerID).Err(err).Msg("frame decode failed")
			}
			exitErr = err
			break
		}
		if env.Kind == wire.KindUnknown {
			log.Warn().Str("peer", r.peerID).Msg("dropping frame of unknown kind")
			continue
		}
		dispatch(r.peerID, env)
	}
	if onEOF != nil {
		onEOF(r.peerID, exitErr)
	}
}
