package presentation

import (
	"errors"
	"net/http"

	"github.com/RaikyD/cardpay-service/internal/domain"
	"github.com/RaikyD/cardpay-service/internal/errclass"
	"github.com/RaikyD/cardpay-service/internal/logger"
	"github.com/RaikyD/cardpay-service/internal/presentation/helpers"
	"github.com/RaikyD/cardpay-service/internal/provider"
)

type errorResponse struct {
	Error          string                  `json:"error"`
	Classification errclass.Classification `json:"classification"`
	OrderID        string                  `json:"order_id,omitempty"`
}

func statusFor(err error) int {
	var ve *domain.ValidationError
	var pe *provider.Error
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadySubmitted),
		errors.Is(err, domain.ErrOrderAlreadyExists),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrMethodNotAllowed):
		return http.StatusConflict
	case errors.As(err, &pe):
		switch pe.Kind {
		case provider.KindRejected:
			return http.StatusPaymentRequired
		case provider.KindNetwork:
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError answers with the HTTP status for err plus the classified
// guidance the UI renders.
func writeError(w http.ResponseWriter, err error, orderID string) {
	status := statusFor(err)
	if status >= 500 {
		logger.Warn("request failed", "status", status, "err", err)
	}
	helpers.WriteJSON(w, status, errorResponse{
		Error:          err.Error(),
		Classification: errclass.FromError(err, false),
		OrderID:        orderID,
	})
}
