// Package gatewayclient implements the TCP client side of §6's payment
// gateway protocol: newline-delimited JSON envelopes carrying
// CheckPaymentAuthorization and MakePayment requests to a remote payment
// oracle treated as an external collaborator (§1 scope).
package gatewayclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dreamware/ridecoord/internal/logging"
	"github.com/dreamware/ridecoord/internal/retry"
)

var log = logging.For("gatewayclient")

// ErrDenied is returned by Authorize when the gateway declines the charge;
// it is not a transport failure and is not retried.
var ErrDenied = errors.New("gatewayclient: payment not authorized")

// authRequest is the wire shape of a CheckPaymentAuthorization call.
type authRequest struct {
	PassengerID int     `json:"passenger_id"`
	Amount      float64 `json:"amount"`
}

type authResponse struct {
	PassengerID int  `json:"passenger_id"`
	Authorized  bool `json:"authorized"`
}

type makePaymentRequest struct {
	PassengerID int     `json:"passenger_id"`
	Amount      float64 `json:"amount"`
}

// envelope mirrors the gateway's single-key-object framing, e.g.
// {"CheckPaymentAuthorization": {...}}.
type envelope map[string]json.RawMessage

// Client dials the payment gateway for every call; the gateway is a single
// remote endpoint with no persistent session, matching §6.
type Client struct {
	addr    string
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	timeout time.Duration
	policy  retry.Policy
}

// New creates a Client targeting addr (host:port).
func New(addr string) *Client {
	var d net.Dialer
	return &Client{
		addr:    addr,
		dial:    d.DialContext,
		timeout: 2 * time.Second,
		policy:  retry.Default,
	}
}

// Authorize calls CheckPaymentAuthorization and reports the gateway's
// authorized flag. Transient network errors are retried per §7; a reply of
// authorized=false is returned as ErrDenied and is never retried, since a
// denial is a real answer, not a failure.
func (c *Client) Authorize(ctx context.Context, passengerID int, amount float64) error {
	var authorized bool
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		resp, err := c.call(ctx, "CheckPaymentAuthorization", authRequest{PassengerID: passengerID, Amount: amount})
		if err != nil {
			return err
		}
		var parsed authResponse
		if err := json.Unmarshal(resp, &parsed); err != nil {
			return err
		}
		authorized = parsed.Authorized
		return nil
	})
	if err != nil {
		return fmt.Errorf("gatewayclient: authorize: %w", err)
	}
	if !authorized {
		return ErrDenied
	}
	return nil
}

// Capture calls MakePayment. It is idempotent on the gateway side per
// §4.5, so the caller may retry it across restarts without risk of a
// double charge.
func (c *Client) Capture(ctx context.Context, passengerID int, amount float64) error {
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		_, err := c.call(ctx, "MakePayment", makePaymentRequest{PassengerID: passengerID, Amount: amount})
		return err
	})
	if err != nil {
		return fmt.Errorf("gatewayclient: capture: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, title string, body interface{}) (json.RawMessage, error) {
	conn, err := c.dial(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req := envelope{title: payload}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("gatewayclient: gateway closed connection without reply")
	}

	var resp envelope
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, err
	}
	if raw, ok := resp["PaymentError"]; ok {
		return nil, fmt.Errorf("gatewayclient: gateway error: %s", raw)
	}
	if raw, ok := resp[title]; ok {
		return raw, nil
	}
	// PaymentDone and other bare acks carry no sub-object worth decoding.
	for _, raw := range resp {
		return raw, nil
	}
	return json.RawMessage(`{}`), nil
}
