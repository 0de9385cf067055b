package wire

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Envelope{Kind: KindRequestTrip, Payload: []byte(`{"origin":{"x":0,"y":0}}`)}
	require.NoError(t, Encode(&buf, in))

	out, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, in.Kind, out.Kind)
	require.Equal(t, in.Payload, out.Payload)
}

func TestDecodeEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Envelope{Kind: KindPing}))

	out, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, KindPing, out.Kind)
	require.Empty(t, out.Payload)
}

func TestDecodeUnknownKindNeverErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Envelope{Kind: Kind(250), Payload: []byte("x")}))

	out, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, "Unknown", out.Kind.String())
}

func TestDecodeTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Envelope{Kind: KindPong, Payload: []byte("hello")}))
	truncated := buf.Bytes()[:len(buf.Bytes())-2]

	_, err := Decode(bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeRejectsOversizedDeclaredLength(t *testing.T) {
	header := []byte{byte(KindPing), 0xFF, 0xFF, 0xFF, 0xFF}
	_, err := Decode(bytes.NewReader(header))
	require.Error(t, err)
}

func TestTextEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, WriteText(&buf, "Login", payload{Name: "alice"}))

	env, err := ReadText(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "Login", env.Title)

	var decoded payload
	require.NoError(t, env.DecodePayload(&decoded))
	require.Equal(t, "alice", decoded.Name)
}

func TestKindFromTitleRoundTrip(t *testing.T) {
	for k, name := range names {
		require.Equal(t, k, KindFromTitle(name))
	}
	require.Equal(t, KindUnknown, KindFromTitle("NotARealKind"))
}
