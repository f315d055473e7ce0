// Package provider holds one adapter per payment rail. Adapters translate
// an Order into the provider's request shape and normalize the answers.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RaikyD/cardpay-service/internal/domain"
)

// Handle is what the customer needs to finish paying: a dial code or
// payment URL for direct collection, a public key and tx ref for the
// hosted checkout.
type Handle struct {
	Method          domain.PaymentMethod `json:"method"`
	Reference       string               `json:"reference"`
	DialCode        string               `json:"dial_code,omitempty"`
	Operator        string               `json:"operator,omitempty"`
	PaymentURL      string               `json:"payment_url,omitempty"`
	PublicKey       string               `json:"public_key,omitempty"`
	ProviderOrderID string               `json:"provider_order_id,omitempty"`
}

type RemoteStatus string

const (
	RemotePending    RemoteStatus = "PENDING"
	RemoteSuccessful RemoteStatus = "SUCCESSFUL"
	RemoteFailed     RemoteStatus = "FAILED"
)

// ParseRemoteStatus accepts the spellings both rails use.
func ParseRemoteStatus(s string) (RemoteStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING", "PROCESSING", "INITIATED":
		return RemotePending, nil
	case "SUCCESSFUL", "SUCCESS", "COMPLETED":
		return RemoteSuccessful, nil
	case "FAILED", "FAILURE", "CANCELLED", "CANCELED", "EXPIRED":
		return RemoteFailed, nil
	}
	return "", &Error{Kind: KindServer, Message: fmt.Sprintf("unexpected payment status %q", s)}
}

type Adapter interface {
	Method() domain.PaymentMethod
	Submit(ctx context.Context, o *domain.Order) (Handle, error)
	CheckStatus(ctx context.Context, reference string) (RemoteStatus, error)
}

type Registry struct {
	adapters map[domain.PaymentMethod]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.PaymentMethod]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Method()] = a
	}
	return r
}

func (r *Registry) For(m domain.PaymentMethod) (Adapter, error) {
	a, ok := r.adapters[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoAdapter, m)
	}
	return a, nil
}

type Kind int

const (
	// KindNetwork means the provider was never reached.
	KindNetwork Kind = iota
	// KindRejected means the provider refused the request (4xx).
	KindRejected
	// KindServer covers 5xx and answers we could not understand.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	}
	return "server"
}

type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("provider %s error (status %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("provider %s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int { return e.Status }

func (e *Error) Rejected() bool { return e.Kind == KindRejected }

func (e *Error) NetworkFailure() bool { return e.Kind == KindNetwork }

func IsNetwork(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindNetwork
}

func IsRejected(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindRejected
}
