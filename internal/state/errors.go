package state

// storeClosedError signals a mutation attempted after Close.
type storeClosedError struct{}

func (storeClosedError) Error() string { return "state: store closed" }

// IsClosed reports whether err indicates the store has been shut down.
func IsClosed(err error) bool {
	_, ok := err.(storeClosedError)
	return ok
}

// transformError wraps a failing or panicking transform.
type transformError struct{ cause error }

func (e transformError) Error() string { return "state: " + e.cause.Error() }
func (e transformError) Unwrap() error { return e.cause }

// IsTransformFailure reports whether err came from a rejected transform.
func IsTransformFailure(err error) bool {
	_, ok := err.(transformError)
	return ok
}
