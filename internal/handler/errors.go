package handler

import (
	"errors"
	"net/http"

	"stockmedia-reseller/internal/client"
	"stockmedia-reseller/internal/dto"
	"stockmedia-reseller/internal/service"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{service.ErrInsufficientPoints, http.StatusPaymentRequired},
	{client.ErrPaymentDeclined, http.StatusPaymentRequired},
	{service.ErrOrderNotFound, http.StatusNotFound},
	{service.ErrPlanNotFound, http.StatusNotFound},
	{service.ErrUnknownJob, http.StatusNotFound},
	{service.ErrOrderNotCancelable, http.StatusConflict},
	{service.ErrMissingTaskID, http.StatusConflict},
	{service.ErrInvalidTransition, http.StatusConflict},
	{service.ErrBalanceConflict, http.StatusConflict},
	{service.ErrNoAPIKey, http.StatusConflict},
	{service.ErrSiteInactive, http.StatusUnprocessableEntity},
	{service.ErrUnsupportedURL, http.StatusBadRequest},
	{service.ErrInvalidAmount, http.StatusBadRequest},
	{client.ErrBrokerPlacementFailed, http.StatusBadGateway},
	{service.ErrBrokerCancelFailed, http.StatusBadGateway},
	{service.ErrLinkUnavailable, http.StatusBadGateway},
	{service.ErrPaymentDisabled, http.StatusServiceUnavailable},
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders every error as {"error": "..."}; 5xx details stay in the log.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := StatusFor(err)
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(he.Code)
			}
		}
		if status == http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			msg = http.StatusText(status)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, dto.ErrorResponse{Error: msg})
		}
		if err != nil {
			logger.Warn("write error response", zap.Error(err))
		}
	}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func pagination(c echo.Context) (limit, offset int) {
	limit, offset = 50, 0
	if err := echo.QueryParamsBinder(c).
		Int("limit", &limit).
		Int("offset", &offset).
		BindError(); err != nil {
		return 50, 0
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
