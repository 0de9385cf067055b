// Package coordfail defines the closed set of reasons a RejectTrip message
// may carry (§7). No internal error text is ever forwarded to a requester;
// every rejection path must map its cause to one of these.
package coordfail

// Reason is a user-visible rejection reason sent in a RejectTrip payload.
type Reason string

const (
	PaymentDenied      Reason = "payment_denied"
	NoDriver           Reason = "no_driver"
	DriverDisconnected Reason = "driver_disconnected"
	Internal           Reason = "internal"
)
