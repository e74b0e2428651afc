package handler

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/vetclinic-pos/internal/domain/appointment"
	"github.com/xenking/vetclinic-pos/internal/domain/auth"
	"github.com/xenking/vetclinic-pos/internal/domain/cart"
	"github.com/xenking/vetclinic-pos/internal/domain/payment"
	"github.com/xenking/vetclinic-pos/internal/domain/sale"
)

// requestError is a malformed or invalid request.
type requestError struct {
	Field   string
	Message string
}

func (e *requestError) Error() string {
	return e.Message
}

var errUnauthorized = errors.New("unauthorized")

// writeError maps domain errors to API responses. Unknown errors are
// logged and answered with 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Code: http.StatusInternalServerError, Message: "internal error"}

	var (
		reqErr        *requestError
		validationErr *sale.ValidationError
		submissionErr *sale.SubmissionError
		setupErr      *payment.GatewaySetupError
		gatewayErr    *payment.GatewayError
		statusErr     *payment.UnexpectedStatusError
	)
	switch {
	case errors.As(err, &reqErr):
		resp = errorResponse{Code: http.StatusUnprocessableEntity, Message: reqErr.Message, Field: reqErr.Field}
	case errors.As(err, &validationErr):
		resp = errorResponse{Code: http.StatusUnprocessableEntity, Message: validationErr.Error(), Field: validationErr.Field}
	case errors.As(err, &submissionErr):
		resp = errorResponse{Code: http.StatusBadGateway, Message: submissionErr.Message()}
	case errors.As(err, &setupErr):
		resp = errorResponse{Code: http.StatusBadGateway, Message: "The payment could not be set up. Please try again."}
	case errors.As(err, &gatewayErr):
		resp = errorResponse{Code: gatewayStatus(gatewayErr), Message: gatewayErr.UserMessage(), State: string(payment.StateFailed)}
		if gatewayErr.Kind == payment.GatewayRateLimitError && gatewayErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(gatewayErr.RetryAfter.Seconds()))))
		}
	case errors.As(err, &statusErr):
		resp = errorResponse{Code: http.StatusConflict, Message: statusErr.Error(), State: string(payment.StateFailed)}
	case errors.Is(err, payment.ErrConfirmationInFlight),
		errors.Is(err, payment.ErrStaleAttempt),
		errors.Is(err, payment.ErrSessionClosed),
		errors.Is(err, sale.ErrPaymentPending),
		errors.Is(err, sale.ErrSubmissionInProgress),
		errors.Is(err, sale.ErrIllegalTransition),
		errors.Is(err, appointment.ErrAlreadyPaid),
		errors.Is(err, appointment.ErrNotPayable):
		resp = errorResponse{Code: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, errUnauthorized):
		resp = errorResponse{Code: http.StatusUnauthorized, Message: "unauthorized"}
	case errors.Is(err, auth.ErrForbidden):
		resp = errorResponse{Code: http.StatusForbidden, Message: "forbidden"}
	case errors.Is(err, cart.ErrCartNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, sale.ErrSaleNotFound),
		errors.Is(err, appointment.ErrNotFound),
		errors.Is(err, payment.ErrNoSession):
		resp = errorResponse{Code: http.StatusNotFound, Message: err.Error()}
	}

	lg := zctx.From(r.Context())
	if resp.Code >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.Int("status", resp.Code), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", resp.Code), zap.Error(err))
	}
	writeJSON(w, r, resp.Code, resp)
}

func gatewayStatus(e *payment.GatewayError) int {
	switch e.Kind {
	case payment.GatewayCardError:
		return http.StatusPaymentRequired
	case payment.GatewayValidationError:
		return http.StatusUnprocessableEntity
	case payment.GatewayRateLimitError:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
