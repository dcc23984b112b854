package service

import "errors"

var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrBalanceConflict    = errors.New("balance changed concurrently")
	ErrPlanNotFound       = errors.New("subscription plan not found")

	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotCancelable = errors.New("order cannot be canceled")
	ErrMissingTaskID      = errors.New("order has no broker task id")
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrLinkUnavailable    = errors.New("download link unavailable")
	ErrBrokerCancelFailed = errors.New("broker refused to cancel order")

	ErrNoAPIKey        = errors.New("no broker api key configured")
	ErrUnsupportedURL  = errors.New("unsupported stock url")
	ErrSiteInactive    = errors.New("stock site is not available")
	ErrPaymentDisabled = errors.New("card payments are not configured")

	ErrUnknownJob = errors.New("unknown sweeper job")
)
