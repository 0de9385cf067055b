package gatewayclient

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGateway accepts one connection and answers every line read on it
// with handle's reply (a trailing newline is added).
func fakeGateway(t *testing.T, handle func(line []byte) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			resp := handle(scanner.Bytes())
			_, _ = conn.Write([]byte(resp + "\n"))
		}
	}()
	return ln.Addr().String()
}

func TestAuthorizeApproved(t *testing.T) {
	addr := fakeGateway(t, func(line []byte) string {
		var env map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(line, &env))
		require.Contains(t, env, "CheckPaymentAuthorization")
		return `{"CheckPaymentAuthorization":{"passenger_id":1,"authorized":true}}`
	})
	c := New(addr)
	require.NoError(t, c.Authorize(context.Background(), 1, 9.5))
}

func TestAuthorizeDeniedReturnsErrDenied(t *testing.T) {
	addr := fakeGateway(t, func(line []byte) string {
		return `{"CheckPaymentAuthorization":{"passenger_id":1,"authorized":false}}`
	})
	c := New(addr)
	err := c.Authorize(context.Background(), 1, 9.5)
	require.ErrorIs(t, err, ErrDenied)
}

func TestCaptureSucceeds(t *testing.T) {
	addr := fakeGateway(t, func(line []byte) string {
		var env map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(line, &env))
		require.Contains(t, env, "MakePayment")
		return `{"PaymentDone":{}}`
	})
	c := New(addr)
	require.NoError(t, c.Capture(context.Background(), 1, 9.5))
}

func TestAuthorizeSurfacesGatewayError(t *testing.T) {
	addr := fakeGateway(t, func(line []byte) string {
		return `{"PaymentError":"backend unavailable"}`
	})
	c := New(addr)
	c.policy.MaxAttempts = 1
	err := c.Authorize(context.Background(), 1, 9.5)
	require.Error(t, err)
}

func TestCallTimesOutWhenGatewayNeverReplies(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(time.Second)
	}()

	c := New(ln.Addr().String())
	c.timeout = 50 * time.Millisecond
	c.policy.MaxAttempts = 1
	err = c.Authorize(context.Background(), 1, 1)
	require.Error(t, err)
}
