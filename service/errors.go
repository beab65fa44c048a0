package service

import "errors"

var ErrNonRetryable = errors.New("non-retryable error")

// Admission rejections. They are logged by the caller and never retried.
var (
	ErrOutsideJoinWindow   = errors.New("meeting is outside the join window")
	ErrMeetingEnded        = errors.New("meeting has already ended")
	ErrCapacityReached     = errors.New("maximum concurrent meetings reached")
	ErrAlreadyActive       = errors.New("meeting already has an active session")
	ErrUnsupportedPlatform = errors.New("unsupported meeting platform")
	ErrNotRunning          = errors.New("bot is not running")
)
