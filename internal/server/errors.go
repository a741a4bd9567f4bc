package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aman-zulfiqar/krc20-swap/internal/halts"
	"github.com/aman-zulfiqar/krc20-swap/internal/orderbook"
	"github.com/aman-zulfiqar/krc20-swap/internal/swapengine"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// apiError is what a client sees for a failed request.
type apiError struct {
	status int
	msg    string
}

// classify maps known errors onto API errors. ok is false for anything
// that should surface as a 500.
func classify(err error) (ae apiError, ok bool) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		msg, isStr := he.Message.(string)
		if !isStr || msg == "" {
			msg = strings.ToLower(http.StatusText(he.Code))
		}
		return apiError{he.Code, msg}, true
	case errors.Is(err, orderbook.ErrOrderNotFound):
		return apiError{http.StatusNotFound, "order not found"}, true
	case errors.Is(err, orderbook.ErrInvalidTransition):
		return apiError{http.StatusConflict, "invalid order status transition"}, true
	case errors.Is(err, orderbook.ErrMissingToken),
		errors.Is(err, orderbook.ErrSameToken),
		errors.Is(err, orderbook.ErrInvalidAmount),
		errors.Is(err, swapengine.ErrInvalidAmount),
		errors.Is(err, swapengine.ErrInvalidPair),
		errors.Is(err, halts.ErrInvalidKey):
		return apiError{http.StatusBadRequest, err.Error()}, true
	case errors.Is(err, swapengine.ErrPriceUnavailable):
		return apiError{http.StatusNotFound, "price unavailable"}, true
	case errors.Is(err, halts.ErrNotFound):
		return apiError{http.StatusNotFound, "halt not found"}, true
	}
	return apiError{}, false
}

// ErrorHandler renders every error that escapes a handler, including
// router 404/405s and auth failures, as an ErrorResponse.
func ErrorHandler(logger *logrus.Logger, devMode bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		ae, ok := classify(err)
		if !ok {
			logger.WithError(err).WithFields(logrus.Fields{
				"method": c.Request().Method,
				"path":   c.Path(),
			}).Error("unhandled request error")
			ae = apiError{http.StatusInternalServerError, "internal server error"}
		}

		resp := ErrorResponse{Error: ae.msg, Code: ae.status}
		if devMode && !ok {
			resp.Details = map[string]any{"err": err.Error()}
		}
		_ = c.JSON(ae.status, resp)
	}
}
