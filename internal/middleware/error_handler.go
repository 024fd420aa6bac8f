package middleware

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"senderos_booking/internal/repository"
	"senderos_booking/internal/services"
)

// HTTPErrorHandler translates domain errors into JSON responses. Business and
// validation failures carry their own detail; gateway and storage failures are
// logged upstream and answered with a generic message so internals never leak.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	detail := "error interno del servidor"

	var (
		httpErr          *echo.HTTPError
		participantErr   *services.ParticipantCountError
		capacityErr      *services.InsufficientCapacityError
		slotsErr         *repository.InsufficientSlotsError
		gatewayHTTPErr   *services.GatewayHTTPError
		gatewayConnErr   *services.GatewayConnectionError
		persistenceErr   *services.PersistenceError
		validationErrors validator.ValidationErrors
	)

	switch {
	case errors.As(err, &httpErr):
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			detail = msg
		} else {
			detail = http.StatusText(code)
		}
	case errors.As(err, &validationErrors):
		code = http.StatusBadRequest
		detail = "datos de entrada inválidos"
	case errors.As(err, &participantErr):
		code = http.StatusBadRequest
		detail = participantErr.Error()
	case errors.As(err, &capacityErr):
		code = http.StatusBadRequest
		detail = capacityErr.Error()
	case errors.As(err, &slotsErr):
		code = http.StatusBadRequest
		detail = slotsErr.Error()
	case errors.Is(err, services.ErrRouteInactive),
		errors.Is(err, services.ErrPastBookingDate),
		errors.Is(err, repository.ErrPastDate),
		errors.Is(err, repository.ErrDateUnavailable):
		code = http.StatusBadRequest
		detail = err.Error()
	case errors.Is(err, repository.ErrRouteNotFound),
		errors.Is(err, repository.ErrPaymentNotFound):
		code = http.StatusNotFound
		detail = err.Error()
	case errors.Is(err, services.ErrNotPaymentOwner):
		code = http.StatusForbidden
		detail = err.Error()
	case errors.Is(err, services.ErrGatewayTimeout),
		errors.As(err, &gatewayHTTPErr),
		errors.As(err, &gatewayConnErr):
		code = http.StatusInternalServerError
		detail = "error procesando el pago"
	case errors.As(err, &persistenceErr):
		code = http.StatusInternalServerError
		detail = "error procesando el pago"
	}

	c.Logger().Error(err)

	if sendErr := c.JSON(code, map[string]string{"detail": detail}); sendErr != nil {
		c.Logger().Error(sendErr)
	}
}
