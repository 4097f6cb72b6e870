package domain

import "errors"

// Domain errors
var (
	ErrInvalidUsername  = errors.New("username is empty or whitespace")
	ErrNoRatingRecord   = errors.New("no rating record for player")
	ErrNoTopicRating    = errors.New("no rating entry for topic")
	ErrRateLimited      = errors.New("too many join attempts")
	ErrAlreadyInSession = errors.New("connection already in an active session")
	ErrPairingAborted   = errors.New("no questions available for topic")
	ErrStoreUnavailable = errors.New("store call failed")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
)

// IsAdmissionError checks if an error is an admission rejection that is
// surfaced to the joining connection only.
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrInvalidUsername) ||
		errors.Is(err, ErrNoRatingRecord) ||
		errors.Is(err, ErrNoTopicRating) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrAlreadyInSession)
}
