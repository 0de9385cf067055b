// Package wire implements the two framings the cluster speaks: a binary
// kind+length+payload frame for inter-coordinator TCP and UDP links, and a
// newline-delimited JSON envelope for external-role TCP links. See §4.1.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrTruncated indicates a frame was cut off mid-payload. Decode also
// rejects a frame whose declared length exceeds maxPayload.
var ErrTruncated = errors.New("wire: truncated frame")

// maxPayload bounds a single frame so a corrupt length prefix can't make a
// reader allocate unbounded memory.
const maxPayload = 16 << 20

// Envelope is the self-describing unit exchanged between actors: a kind
// drawn from the closed set plus an opaque, kind-specific payload.
type Envelope struct {
	Kind    Kind
	Payload []byte
}

// Encode writes e to w as: 1-byte kind, 4-byte big-endian length, payload.
func Encode(w io.Writer, e Envelope) error {
	if len(e.Payload) > maxPayload {
		return fmt.Errorf("wire: payload too large (%d bytes)", len(e.Payload))
	}
	header := make([]byte, 5)
	header[0] = byte(e.Kind)
	binary.BigEndian.PutUint32(header[1:], uint32(len(e.Payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(e.Payload) == 0 {
		return nil
	}
	_, err := w.Write(e.Payload)
	return err
}

// Decode reads one frame from r. An out-of-range kind byte decodes to
// KindUnknown rather than an error. A short read is reported via
// ErrTruncated; a declared length above maxPayload is also an error.
func Decode(r io.Reader) (Envelope, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, ErrTruncated
		}
		return Envelope{}, err
	}
	kind := Kind(header[0])
	if _, ok := names[kind]; !ok {
		kind = KindUnknown
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxPayload {
		return Envelope{}, fmt.Errorf("wire: declared length %d exceeds maximum", length)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return Envelope{}, ErrTruncated
			}
			return Envelope{}, err
		}
	}
	return Envelope{Kind: kind, Payload: payload}, nil
}

// NewFrameScanner wraps r for repeated Decode calls with internal buffering,
// matching the one-reader-goroutine-per-peer shape described in §4.2.
func NewFrameScanner(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 4096)
}
