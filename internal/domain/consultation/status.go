package consultation

import "fmt"

// Status is the lifecycle state of a consultation.
type Status string

const (
	StatusAwaiting             Status = "awaiting"
	StatusInTriage             Status = "in_triage"
	StatusAwaitingProfessional Status = "awaiting_professional"
	StatusInSession            Status = "in_session"
	StatusCompleted            Status = "completed"
	StatusCancelled            Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusAwaiting, StatusInTriage, StatusAwaitingProfessional,
	StatusInSession, StatusCompleted, StatusCancelled,
}

var forward = map[Status]Status{
	StatusAwaiting:             StatusInTriage,
	StatusInTriage:             StatusAwaitingProfessional,
	StatusAwaitingProfessional: StatusInSession,
	StatusInSession:            StatusCompleted,
}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether from → to is a legal step. Only single
// forward steps and cancellation of a live consultation are allowed.
func CanTransition(from, to Status) bool {
	if from.Terminal() || !from.Valid() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return forward[from] == to
}

// TransitionTo moves c to status to, or returns a PreconditionError naming
// the rejected step.
func (c *Consultation) TransitionTo(to Status) error {
	if !CanTransition(c.Status, to) {
		return &PreconditionError{
			Op:     "transition",
			Reason: fmt.Sprintf("cannot move from %s to %s", c.Status, to),
		}
	}
	c.Status = to
	return nil
}
