// Package errors classifies the error taxonomy of the Tempo core so that
// callers (the DKG Manager, the Consensus Application, the Execution
// Driver) can decide whether to retry, log-and-continue, or escalate to
// the process supervisor, without every call site re-deriving the policy.
package errors

import "github.com/pkg/errors"

// Kind classifies an error by its recovery policy. It is not a substitute
// for a concrete error type or sentinel value — Classify is a best-effort
// helper for logging and metrics, not for control flow.
type Kind uint8

const (
	// KindUnknown is returned by Classify when no kind was attached.
	KindUnknown Kind = iota
	// KindTransientNetwork covers p2p mux send/receive failures. Retried
	// with backoff by the caller; never surfaces above a logged warning.
	KindTransientNetwork
	// KindTransientExecution covers payload-not-ready and validator-read
	// misses. Retried with backoff; never surfaces upward.
	KindTransientExecution
	// KindCeremonyFailure is recorded, not propagated: the Manager falls
	// back to the previous epoch's key material.
	KindCeremonyFailure
	// KindBlockInvalid is returned by Application.verify as a bool, but
	// internally classified so structured events carry the right tag.
	KindBlockInvalid
	// KindExecutionInvalid covers a newPayload=INVALID response.
	KindExecutionInvalid
	// KindDecodingError covers a malformed extra_data payload.
	KindDecodingError
	// KindFatal covers storage errors, Engine-API transport errors, and
	// signer failures. Propagates to the process top; the supervisor
	// restarts the node.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindTransientExecution:
		return "transient_execution"
	case KindCeremonyFailure:
		return "ceremony_failure"
	case KindBlockInvalid:
		return "block_invalid"
	case KindExecutionInvalid:
		return "execution_invalid"
	case KindDecodingError:
		return "decoding_error"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// kindError wraps an error with a Kind, without hiding the wrapped cause
// from errors.Is/errors.As (via Unwrap).
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string { return e.cause.Error() }
func (e *kindError) Unwrap() error { return e.cause }

// Wrap attaches a Kind to err, annotating it with msg the way
// github.com/pkg/errors.Wrap does.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Wrap(err, msg)}
}

// New creates a fresh error already classified with kind.
func New(kind Kind, msg string) error {
	return &kindError{kind: kind, cause: errors.New(msg)}
}

// Classify returns the Kind attached to err via Wrap/New, or KindUnknown
// if err was never classified.
func Classify(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// Fatal reports whether err should be propagated to the process
// supervisor rather than logged and absorbed.
func Fatal(err error) bool {
	return Classify(err) == KindFatal
}
