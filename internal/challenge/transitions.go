package challenge

import "github.com/abhisek/cadence/internal/record"

// transitions lists the allowed participation status changes. COMPLETED
// and ABANDONED are terminal.
var transitions = map[record.ParticipationStatus][]record.ParticipationStatus{
	record.StatusRegistered: {record.StatusActive, record.StatusCompleted, record.StatusAbandoned},
	record.StatusActive:     {record.StatusCompleted, record.StatusAbandoned},
}

// CanTransition reports whether a participation may move from one status
// to another. REGISTERED -> COMPLETED additionally needs allowEmpty, since
// it completes without any recorded progress.
func CanTransition(from, to record.ParticipationStatus, allowEmpty bool) bool {
	if from == record.StatusRegistered && to == record.StatusCompleted && !allowEmpty {
		return false
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a *record.TransitionError when the change is not
// allowed.
func CheckTransition(from, to record.ParticipationStatus, allowEmpty bool) error {
	if !CanTransition(from, to, allowEmpty) {
		return &record.TransitionError{From: from, To: to}
	}
	return nil
}
