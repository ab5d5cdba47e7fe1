package bus

import "sessiond/pkg/types"

// busClosedError signals publish/subscribe after Close.
type busClosedError struct{}

func (busClosedError) Error() string { return "bus: closed" }

// IsClosed reports whether err indicates the bus has been shut down.
func IsClosed(err error) bool {
	_, ok := err.(busClosedError)
	return ok
}

// unknownTopicError signals a topic outside the closed enumeration.
type unknownTopicError struct{ topic types.Topic }

func (e unknownTopicError) Error() string { return "bus: unknown topic: " + string(e.topic) }

// IsUnknownTopic reports whether err indicates an invalid topic.
func IsUnknownTopic(err error) bool {
	_, ok := err.(unknownTopicError)
	return ok
}

// subscriberNotFoundError signals an unsubscribe with a stale or foreign handle.
type subscriberNotFoundError struct{ id string }

func (e subscriberNotFoundError) Error() string { return "bus: subscriber not found: " + e.id }

// IsSubscriberNotFound reports whether err indicates a missing subscription handle.
func IsSubscriberNotFound(err error) bool {
	_, ok := err.(subscriberNotFoundError)
	return ok
}
