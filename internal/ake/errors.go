package ake

import "fmt"

// Kind identifies which branch of the error taxonomy an error belongs to.
// The state machines never recover from any of these: every one is fatal
// to the session.
type Kind int

const (
	// KindIoError covers connect/accept/read/write failures and EOF
	// mid-frame.
	KindIoError Kind = iota
	// KindProtocolError covers an unexpected message type, a truncated
	// payload, or an FSM transition the protocol declares impossible.
	KindProtocolError
	// KindAuthFailure is a signature verification failure.
	KindAuthFailure
	// KindHmacMismatch is a local/peer HMAC tag disagreement.
	KindHmacMismatch
	// KindCryptoFailure covers KEM encaps/decaps, HKDF, or signature API
	// errors.
	KindCryptoFailure
	// KindStorageError covers registry or long-term key file read/write
	// failures.
	KindStorageError
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindProtocolError:
		return "ProtocolError"
	case KindAuthFailure:
		return "AuthFailure"
	case KindHmacMismatch:
		return "HmacMismatch"
	case KindCryptoFailure:
		return "CryptoFailure"
	case KindStorageError:
		return "StorageError"
	default:
		return "UnknownError"
	}
}

// Error wraps a session-fatal failure with the taxonomy kind, the state
// it occurred in, and the underlying cause.
type Error struct {
	Kind  Kind
	State string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s in state %s", e.Kind, e.State)
	}
	return fmt.Sprintf("%s in state %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, state string, err error) *Error {
	return &Error{Kind: kind, State: state, Err: err}
}

func ioError(state string, err error) *Error {
	return newError(KindIoError, state, err)
}

func protocolError(state, message string) *Error {
	return newError(KindProtocolError, state, fmt.Errorf("%s", message))
}

func authFailure(state string) *Error {
	return newError(KindAuthFailure, state, fmt.Errorf("signature verification failed, possible MITM"))
}

func hmacMismatch(state string) *Error {
	return newError(KindHmacMismatch, state, fmt.Errorf("HMAC tag mismatch"))
}

func cryptoFailure(state string, err error) *Error {
	return newError(KindCryptoFailure, state, err)
}

func storageError(state string, err error) *Error {
	return newError(KindStorageError, state, err)
}

// NewStorageError wraps a registry or long-term key file failure as a
// StorageError. It is exported so callers outside this package (the CLI
// entry point, opening the registry or key store before either FSM runs)
// can report the same taxonomy spec §7 requires rather than a bare error.
func NewStorageError(state string, err error) *Error {
	return storageError(state, err)
}
