package provider

import "sync"

type CheckoutOutcome struct {
	Status        RemoteStatus
	TransactionID string
	// Closed is set when the customer dismissed the checkout before it
	// reported a result.
	Closed bool
}

// CheckoutSession merges the hosted checkout's completion callback and its
// "closed" signal into one result that resolves exactly once.
type CheckoutSession struct {
	once    sync.Once
	done    chan struct{}
	outcome CheckoutOutcome
}

func NewCheckoutSession() *CheckoutSession {
	return &CheckoutSession{done: make(chan struct{})}
}

// Complete records a terminal result from the checkout callback. PENDING
// does not resolve the session. It reports whether this call resolved it.
func (s *CheckoutSession) Complete(txID string, status RemoteStatus) bool {
	if status != RemoteSuccessful && status != RemoteFailed {
		return false
	}
	return s.resolve(CheckoutOutcome{Status: status, TransactionID: txID})
}

// Close resolves the session as FAILED unless a result was already recorded.
func (s *CheckoutSession) Close() bool {
	return s.resolve(CheckoutOutcome{Status: RemoteFailed, Closed: true})
}

func (s *CheckoutSession) resolve(o CheckoutOutcome) bool {
	resolved := false
	s.once.Do(func() {
		s.outcome = o
		resolved = true
		close(s.done)
	})
	return resolved
}

func (s *CheckoutSession) Done() <-chan struct{} {
	return s.done
}

// Result is only meaningful once Done is closed.
func (s *CheckoutSession) Result() (CheckoutOutcome, bool) {
	select {
	case <-s.done:
		return s.outcome, true
	default:
		return CheckoutOutcome{}, false
	}
}
