package record

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the store and every domain service.
// Use errors.Is to check: errors.Is(err, record.ErrNotFound)
var (
	ErrNotFound               = errors.New("record: not found")
	ErrAlreadyExists          = errors.New("record: already exists")
	ErrInvalidStateTransition = errors.New("record: invalid state transition")
	ErrPolicyViolation        = errors.New("record: policy violation")
	ErrConcurrentModification = errors.New("record: concurrent modification")
)

// TransitionError reports a participation state change that the state
// machine does not allow.
type TransitionError struct {
	From ParticipationStatus
	To   ParticipationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid participation transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// PolicyError reports an activity request rejected by its series policy.
type PolicyError struct {
	SeriesID string
	Reason   string
}

func (e *PolicyError) Error() string {
	if e.SeriesID == "" {
		return "policy violation: " + e.Reason
	}
	return fmt.Sprintf("policy violation in series %q: %s", e.SeriesID, e.Reason)
}

func (e *PolicyError) Unwrap() error { return ErrPolicyViolation }

// IsRetryable reports whether err is worth retrying. Only version or lock
// conflicts qualify; every other failure is logically final.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
