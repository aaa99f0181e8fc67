package vertex

import "fmt"

// ConnectionError classifies dial/send/receive failures, non-text frames, and
// unexpected closes. Retried with backoff on the subscription path, surfaced
// immediately on the request path.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SigningError classifies malformed keys, hashing/serialization failures, and
// address decode failures. Never retried: it indicates a caller or
// configuration defect.
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing error during %s: %v", e.Op, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// ProtocolError classifies missing required request fields and unsupported
// query/order types. Never retried, never forwarded to the gateway.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// DecodeError classifies gateway responses that do not match the expected
// shape. Raw preserves the offending payload for diagnostics.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode gateway response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
