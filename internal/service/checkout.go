package service

import (
	"context"
	"errors"
	"fmt"

	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const reasonInsufficientPoints = "insufficient points"

// Checkout ties the order state machine to the points ledger. Every outcome that owes
// a refund goes through Settle.
type Checkout struct {
	orders        OrderManager
	points        PointsService
	stock         StockService
	apiKeyRepo    repository.APIKeyRepository
	defaultAPIKey string
	logger        *zap.Logger
}

func NewCheckout(
	orders OrderManager,
	points PointsService,
	stock StockService,
	apiKeyRepo repository.APIKeyRepository,
	defaultAPIKey string,
	logger *zap.Logger,
) *Checkout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkout{
		orders:        orders,
		points:        points,
		stock:         stock,
		apiKeyRepo:    apiKeyRepo,
		defaultAPIKey: defaultAPIKey,
		logger:        logger.Named("checkout"),
	}
}

// ResolveAPIKey returns the user's active broker key, falling back to the configured default.
func (c *Checkout) ResolveAPIKey(ctx context.Context, userID string) (string, error) {
	key, err := c.apiKeyRepo.ActiveKey(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("find api key: %w", err)
	}
	if key == "" {
		key = c.defaultAPIKey
	}
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// PlaceOrder buys the item at rawURL for the user. On ErrInsufficientPoints the order is
// returned FAILED together with the bare error.
func (c *Checkout) PlaceOrder(ctx context.Context, userID, rawURL string) (*model.Order, error) {
	ref, site, err := c.stock.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	apiKey, err := c.ResolveAPIKey(ctx, userID)
	if err != nil {
		return nil, err
	}

	params := CreateOrderParams{
		UserID:       userID,
		StockSiteID:  site.ID,
		StockItemID:  ref.ItemID,
		StockItemURL: ref.URL,
		Cost:         site.Cost,
	}
	if info, err := c.stock.Info(ctx, apiKey, ref); err == nil && info != nil {
		params.Title = info.Title
		params.ImageURL = info.Image
	} else if err != nil {
		c.logger.Debug("ordering without stock info", zap.String("url", rawURL), zap.Error(err))
	}

	order, err := c.orders.CreateOrder(ctx, params)
	if err != nil {
		return nil, err
	}

	if order.Cost.IsPositive() {
		desc := fmt.Sprintf("Download %s/%s", site.Name, ref.ItemID)
		if _, err := c.points.DeductPoints(ctx, userID, order.Cost, desc, &order.ID); err != nil {
			out, failErr := c.orders.FailOrder(ctx, order.ID, failReason(err), false)
			if failErr != nil {
				c.logger.Error("fail unpaid order", zap.String("order_id", order.ID), zap.Error(failErr))
			} else if out.Order != nil {
				order = out.Order
			}
			if errors.Is(err, ErrInsufficientPoints) {
				return order, ErrInsufficientPoints
			}
			return order, fmt.Errorf("deduct points for order %s: %w", order.ID, err)
		}
	}

	out, placeErr := c.orders.ProcessOrder(ctx, order.ID, apiKey)
	if out.Order != nil {
		order = out.Order
	}
	if _, settleErr := c.Settle(ctx, out); settleErr != nil {
		return order, errors.Join(placeErr, settleErr)
	}
	if placeErr != nil {
		return order, placeErr
	}

	return order, nil
}

func failReason(err error) string {
	if errors.Is(err, ErrInsufficientPoints) {
		return reasonInsufficientPoints
	}
	return "payment failed: " + err.Error()
}

// Settle refunds whatever the outcome owes. It is safe to call more than once for the same order.
func (c *Checkout) Settle(ctx context.Context, out Outcome) (decimal.Decimal, error) {
	if !out.OwesRefund() || out.Order == nil {
		return decimal.Zero, nil
	}

	reason := fmt.Sprintf("Refund for order %s (%s)", out.Order.ID, out.Status)
	if out.Reason != "" {
		reason = fmt.Sprintf("Refund for order %s: %s", out.Order.ID, out.Reason)
	}

	refunded, err := c.points.RefundOrder(ctx, out.Order.UserID, out.Order.ID, truncate(reason, 255))
	if err != nil {
		c.logger.Error("refund owed but not applied",
			zap.String("order_id", out.Order.ID),
			zap.String("owed", out.RefundOwed.String()),
			zap.Error(err),
		)
		return decimal.Zero, fmt.Errorf("refund order %s: %w", out.Order.ID, err)
	}
	return refunded, nil
}

// GetOrder hides other users' orders behind ErrOrderNotFound.
func (c *Checkout) GetOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	order, err := c.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (c *Checkout) ListOrders(ctx context.Context, userID string, limit, offset int) ([]*model.Order, error) {
	return c.orders.ListOrders(ctx, userID, limit, offset)
}

func (c *Checkout) CheckOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	return c.settleAction(ctx, userID, orderID, c.orders.CheckOrderStatus)
}

func (c *Checkout) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	return c.settleAction(ctx, userID, orderID, c.orders.CancelOrder)
}

func (c *Checkout) settleAction(ctx context.Context, userID, orderID string, action func(ctx context.Context, orderID, apiKey string) (Outcome, error)) (*model.Order, error) {
	if _, err := c.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	apiKey, err := c.ResolveAPIKey(ctx, userID)
	if err != nil {
		return nil, err
	}

	out, err := action(ctx, orderID, apiKey)
	if err != nil {
		return out.Order, err
	}
	if _, err := c.Settle(ctx, out); err != nil {
		return out.Order, err
	}
	return out.Order, nil
}

func (c *Checkout) RegenerateDownloadLink(ctx context.Context, userID, orderID string) (*model.Order, error) {
	if _, err := c.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	apiKey, err := c.ResolveAPIKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.orders.RegenerateDownloadLink(ctx, orderID, apiKey)
}

func (c *Checkout) CompleteOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	if _, err := c.GetOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	return c.orders.CompleteOrder(ctx, orderID)
}
