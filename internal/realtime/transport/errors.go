package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a send is dropped because the session is not open
	ErrNotConnected = errors.New("session is not connected")
	// ErrConnectTimeout is returned when the connection does not open in time
	ErrConnectTimeout = errors.New("connection timed out")
	// ErrRetriesExhausted is reported once the reconnect policy gives up
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
	// ErrDisconnected is returned to connect callers when Disconnect wins the race
	ErrDisconnected = errors.New("session disconnected by client")
)

// ConfigurationError reports a missing or invalid setting. It is fatal and never retried.
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s is required", e.Field)
}

// TransportError reports a connectivity failure: a failed dial, a timeout,
// an unexpected close or an exhausted reconnect policy
type TransportError struct {
	Op   string
	Code int // websocket close code, zero when not applicable
	Err  error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport %s failed (close code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
