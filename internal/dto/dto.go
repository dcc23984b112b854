package dto

import "github.com/shopspring/decimal"

type PlaceOrderRequest struct {
	URL string `json:"url"`
}

type PurchasePointsRequest struct {
	Points       int64  `json:"points"`
	PaymentToken string `json:"payment_token"`
	Nonce        string `json:"nonce"`
}

type AdjustPointsRequest struct {
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
}

type RenewSubscriptionRequest struct {
	UserID string          `json:"user_id"`
	PlanID string           `json:"plan_id"`
	Points *decimal.Decimal `json:"points"`
}

type SetAPIKeyRequest struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

type BalanceResponse struct {
	UserID         string          `json:"user_id"`
	CurrentPoints  decimal.Decimal `json:"current_points"`
	TotalPurchased decimal.Decimal `json:"total_purchased"`
	TotalUsed      decimal.Decimal `json:"total_used"`
}

type SweepResponse struct {
	Job   string `json:"job"`
	Count int    `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
