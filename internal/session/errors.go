package session

// alreadyRunningError signals Start on a session that is already running.
type alreadyRunningError struct{}

func (alreadyRunningError) Error() string { return "session: already running" }

// IsAlreadyRunning reports whether err indicates a duplicate Start.
func IsAlreadyRunning(err error) bool {
	_, ok := err.(alreadyRunningError)
	return ok
}
