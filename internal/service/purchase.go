package service

import (
	"context"
	"fmt"

	"stockmedia-reseller/internal/client"
	"stockmedia-reseller/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PurchaseParams struct {
	UserID string
	Points int64
	// One of PaymentToken (vaulted card) or Nonce (fresh card from the drop-in UI).
	PaymentToken string
	Nonce        string
}

type PurchaseReceipt struct {
	TransactionID string               `json:"transaction_id"`
	PaymentToken  string               `json:"payment_token"`
	Points        int64                `json:"points"`
	Charged       decimal.Decimal      `json:"charged"`
	Balance       *model.PointsBalance `json:"balance"`
}

// PurchaseService sells points for card payments.
type PurchaseService interface {
	Purchase(ctx context.Context, p PurchaseParams) (*PurchaseReceipt, error)
	Price(points int64) decimal.Decimal
}

type purchaseServiceImpl struct {
	braintree  client.BraintreeClient
	points     PointsService
	pointPrice decimal.Decimal
	logger     *zap.Logger
}

// NewPurchaseService accepts a nil braintree client; purchases then fail with ErrPaymentDisabled.
func NewPurchaseService(braintree client.BraintreeClient, points PointsService, pointPrice decimal.Decimal, logger *zap.Logger) PurchaseService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &purchaseServiceImpl{
		braintree:  braintree,
		points:     points,
		pointPrice: pointPrice,
		logger:     logger,
	}
}

func (s *purchaseServiceImpl) Price(points int64) decimal.Decimal {
	return s.pointPrice.Mul(decimal.NewFromInt(points)).Round(2)
}

func (s *purchaseServiceImpl) Purchase(ctx context.Context, p PurchaseParams) (*PurchaseReceipt, error) {
	if s.braintree == nil {
		return nil, ErrPaymentDisabled
	}
	if p.Points <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.PaymentToken == "" && p.Nonce == "" {
		return nil, fmt.Errorf("payment token or nonce is required")
	}

	token := p.PaymentToken
	if token == "" {
		var err error
		if token, err = s.braintree.VaultPaymentMethod(ctx, p.Nonce); err != nil {
			return nil, err
		}
	}

	price := s.Price(p.Points)
	reference := "points-" + uuid.NewString()
	txID, err := s.braintree.ChargeOneTime(ctx, token, price, reference)
	if err != nil {
		return nil, err
	}

	desc := fmt.Sprintf("Purchased %d points (transaction %s)", p.Points, txID)
	balance, err := s.points.AddPoints(ctx, p.UserID, decimal.NewFromInt(p.Points), model.PointsPurchase, desc, nil)
	if err != nil {
		// the card was charged; support has to credit by hand from this log line
		s.logger.Error("charged but points not credited",
			zap.String("user_id", p.UserID),
			zap.String("transaction_id", txID),
			zap.Int64("points", p.Points),
			zap.Error(err),
		)
		return nil, fmt.Errorf("credit purchased points: %w", err)
	}

	s.logger.Info("points purchased",
		zap.String("user_id", p.UserID),
		zap.String("transaction_id", txID),
		zap.Int64("points", p.Points),
		zap.String("charged", price.String()),
	)
	return &PurchaseReceipt{
		TransactionID: txID,
		PaymentToken:  token,
		Points:        p.Points,
		Charged:       price,
		Balance:       balance,
	}, nil
}
