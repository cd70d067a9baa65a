package remote

import "fmt"

// TransportError wraps connection failures, timeouts and malformed responses.
// It deliberately carries no application-level meaning: a TransportError says
// the remote could not be reached or understood, not that it refused the
// operation.
type TransportError struct {
	// Op is the operation being performed ("get", "put", "list").
	Op string

	// Ref is the resource being addressed when the failure occurred.
	Ref ResourceRef

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Ref.Path(), e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

func transportErr(op string, ref ResourceRef, err error) *TransportError {
	return &TransportError{Op: op, Ref: ref, Err: err}
}
