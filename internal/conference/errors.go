package conference

import "errors"

var (
	// ErrBadRequest is returned for nil participants or empty identifiers.
	ErrBadRequest = errors.New("bad request")
	// ErrUnknownTopic is returned when an operation names a topic that was
	// never created.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrUnknownModerator is returned when a connection id does not resolve
	// to a moderator holding a room.
	ErrUnknownModerator = errors.New("unknown moderator")
	// ErrUnknownLearner is returned when a learner is absent from the atrium,
	// either unknown or already assigned.
	ErrUnknownLearner = errors.New("unknown or already-assigned learner")
	// ErrUnknownConnection is returned when a connection id does not resolve
	// to any registered participant.
	ErrUnknownConnection = errors.New("unknown connection")
)
