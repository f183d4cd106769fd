package autorebase

import "errors"

var (
	// ErrUnsupportedEvent is returned for events that are neither
	// pull_request nor check_suite events.
	ErrUnsupportedEvent = errors.New("unsupported event, only pull_request and check_suite events are supported")
	// ErrMissingPayload is returned when the payload of a supported event
	// lacks the object describing the pull request or check suite.
	ErrMissingPayload = errors.New("event payload incomplete")
)
