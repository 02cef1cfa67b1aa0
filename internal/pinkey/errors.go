package pinkey

import "errors"

// Domain errors for the pinkey package.
//
// These never cross the Client boundary; they are logged by the transport
// and discoverer and turned into the ok=false sentinel.
var (
	// ErrNoHost is returned when no host is configured and discovery failed.
	ErrNoHost = errors.New("pinkey: no device host configured or discovered")

	// ErrExchangeTimeout is returned when the device did not close the
	// connection before the transport timeout. Partial data is discarded.
	ErrExchangeTimeout = errors.New("pinkey: exchange timed out")

	// ErrEmptyResponse is returned when the device closed the connection
	// without sending anything.
	ErrEmptyResponse = errors.New("pinkey: empty response")

	// ErrTransportClosed is returned when a command is enqueued after Close.
	ErrTransportClosed = errors.New("pinkey: transport closed")
)
