package domain

type Status string

const (
	StatusCreated             Status = "CREATED"
	StatusAwaitingProvider    Status = "AWAITING_PROVIDER"
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusSuccessful          Status = "SUCCESSFUL"
	StatusFailed              Status = "FAILED"
	StatusTimedOut            Status = "TIMED_OUT"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSuccessful, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusAwaitingProvider, StatusPendingConfirmation,
		StatusSuccessful, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

type Event string

const (
	EventAccepted          Event = "accepted"
	EventHandleIssued      Event = "handle_issued"
	EventSucceeded         Event = "succeeded"
	EventFailed            Event = "failed"
	EventAttemptsExhausted Event = "attempts_exhausted"
	EventRejected          Event = "rejected"
)

type transitionKey struct {
	from  Status
	event Event
}

var transitions = map[transitionKey]Status{
	{StatusCreated, EventAccepted}:                      StatusAwaitingProvider,
	{StatusAwaitingProvider, EventHandleIssued}:         StatusPendingConfirmation,
	{StatusPendingConfirmation, EventSucceeded}:         StatusSuccessful,
	{StatusPendingConfirmation, EventFailed}:            StatusFailed,
	{StatusPendingConfirmation, EventAttemptsExhausted}: StatusTimedOut,
	{StatusCreated, EventRejected}:                      StatusFailed,
	{StatusAwaitingProvider, EventRejected}:             StatusFailed,
}

// Next returns the state reached by applying ev to from. A terminal from
// absorbs every event: (from, false, nil). Pairs outside the table yield
// ErrInvalidTransition.
func Next(from Status, ev Event) (Status, bool, error) {
	if from.Terminal() {
		return from, false, nil
	}
	to, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return from, false, ErrInvalidTransition
	}
	return to, true, nil
}
