package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stockmedia-reseller/internal/client"
	"stockmedia-reseller/internal/metrics"
	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultProcessingTimeout = 30 * time.Minute
	reasonTimedOut           = "order timed out"
)

// Outcome describes what an order operation did. RefundOwed is positive exactly when
// the operation moved the order into a state that owes the user its cost back; the
// caller settles it (see Checkout.Settle).
type Outcome struct {
	Order      *model.Order
	Previous   model.OrderStatus
	Status     model.OrderStatus
	Changed    bool
	RefundOwed decimal.Decimal
	Reason     string
	// Transient is set when the broker could not be reached and the order was left as is.
	Transient bool
}

func (o Outcome) OwesRefund() bool {
	return o.RefundOwed.IsPositive()
}

type CreateOrderParams struct {
	UserID       string
	StockSiteID  uint
	StockItemID  string
	StockItemURL string
	Title        string
	ImageURL     string
	Cost         decimal.Decimal
}

// OrderManager owns the order state machine. It never touches the points ledger.
type OrderManager interface {
	CreateOrder(ctx context.Context, p CreateOrderParams) (*model.Order, error)
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, userID string, limit, offset int) ([]*model.Order, error)

	// ProcessOrder places a PENDING order with the broker. A failed placement moves the
	// order to FAILED and returns the placement error together with the refund-owing outcome.
	ProcessOrder(ctx context.Context, orderID, apiKey string) (Outcome, error)
	CheckOrderStatus(ctx context.Context, orderID, apiKey string) (Outcome, error)
	CancelOrder(ctx context.Context, orderID, apiKey string) (Outcome, error)
	// RegenerateDownloadLink refreshes the link of any order with a task id and forces it to READY. It is free.
	RegenerateDownloadLink(ctx context.Context, orderID, apiKey string) (*model.Order, error)
	CompleteOrder(ctx context.Context, orderID string) (*model.Order, error)
	// FailOrder moves a PENDING or PROCESSING order to FAILED. refund marks the cost as owed.
	FailOrder(ctx context.Context, orderID, reason string, refund bool) (Outcome, error)
}

type orderManagerImpl struct {
	orderRepo         repository.OrderRepository
	brokerClient      client.BrokerClient
	publisher         EventPublisher
	processingTimeout time.Duration
	logger            *zap.Logger
	metrics           *metrics.Metrics
	now               func() time.Time
}

func NewOrderManager(
	orderRepo repository.OrderRepository,
	brokerClient client.BrokerClient,
	publisher EventPublisher,
	processingTimeout time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) OrderManager {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if processingTimeout <= 0 {
		processingTimeout = DefaultProcessingTimeout
	}
	return &orderManagerImpl{
		orderRepo:         orderRepo,
		brokerClient:      brokerClient,
		publisher:         publisher,
		processingTimeout: processingTimeout,
		logger:            logger.Named("orders"),
		metrics:           m,
		now:               time.Now,
	}
}

var (
	activeStatuses   = []model.OrderStatus{model.OrderPending, model.OrderProcessing}
	pendingOnly      = []model.OrderStatus{model.OrderPending}
	processingOnly   = []model.OrderStatus{model.OrderProcessing}
	readyOnly        = []model.OrderStatus{model.OrderReady}
	brokerToOrderMap = map[client.BrokerStatus]model.OrderStatus{
		client.BrokerStatusFailed:   model.OrderFailed,
		client.BrokerStatusCanceled: model.OrderCanceled,
		client.BrokerStatusRefunded: model.OrderRefunded,
	}
)

func (m *orderManagerImpl) CreateOrder(ctx context.Context, p CreateOrderParams) (*model.Order, error) {
	if p.UserID == "" || p.StockItemID == "" || p.StockSiteID == 0 {
		return nil, fmt.Errorf("create order: user, stock site and item are required")
	}
	if p.Cost.IsNegative() {
		return nil, fmt.Errorf("create order: %w", ErrInvalidAmount)
	}

	order := &model.Order{
		ID:           uuid.NewString(),
		UserID:       p.UserID,
		StockSiteID:  p.StockSiteID,
		StockItemID:  p.StockItemID,
		StockItemURL: p.StockItemURL,
		Title:        p.Title,
		ImageURL:     p.ImageURL,
		Cost:         p.Cost,
		Status:       model.OrderPending,
	}
	if err := m.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("store order in db: %w", err)
	}

	m.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("item_id", order.StockItemID),
		zap.String("cost", order.Cost.String()),
	)
	return order, nil
}

func (m *orderManagerImpl) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := m.orderRepo.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderID, err)
	}
	return order, nil
}

func (m *orderManagerImpl) ListOrders(ctx context.Context, userID string, limit, offset int) ([]*model.Order, error) {
	orders, err := m.orderRepo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func unchanged(order *model.Order) Outcome {
	return Outcome{Order: order, Previous: order.Status, Status: order.Status}
}

// transition moves the order to `to` if it is still in one of from, then reloads it.
// When another caller got there first the outcome reports Changed=false and owes nothing.
func (m *orderManagerImpl) transition(ctx context.Context, order *model.Order, from []model.OrderStatus, to model.OrderStatus, updates map[string]interface{}, reason string) (Outcome, error) {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	if reason != "" && to == model.OrderFailed {
		updates["failure_reason"] = truncate(reason, 512)
	}

	changed, err := m.orderRepo.Transition(ctx, nil, order.ID, from, updates)
	if err != nil {
		return unchanged(order), fmt.Errorf("update order %s to %s: %w", order.ID, to, err)
	}

	fresh, err := m.GetOrder(ctx, order.ID)
	if err != nil {
		return unchanged(order), err
	}

	out := Outcome{
		Order:    fresh,
		Previous: order.Status,
		Status:   fresh.Status,
		Changed:  changed,
		Reason:   reason,
	}
	if !changed {
		m.logger.Debug("order transition skipped",
			zap.String("order_id", order.ID),
			zap.String("to", string(to)),
			zap.String("current", string(fresh.Status)),
		)
		return out, nil
	}

	if to.OwesRefund() && order.Status != to {
		out.RefundOwed = fresh.Cost
	}

	if order.Status != to {
		m.metrics.IncOrderTransition(string(order.Status), string(to))
		event := OrderEvent{
			OrderID:    fresh.ID,
			UserID:     fresh.UserID,
			From:       order.Status,
			To:         to,
			Reason:     reason,
			OccurredAt: m.now(),
		}
		if fresh.TaskID != nil {
			event.TaskID = *fresh.TaskID
		}
		publishQuietly(ctx, m.publisher, m.logger, event)
	}

	m.logger.Info("order status changed",
		zap.String("order_id", fresh.ID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	return out, nil
}

func (m *orderManagerImpl) ProcessOrder(ctx context.Context, orderID, apiKey string) (Outcome, error) {
	order, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if order.Status != model.OrderPending {
		return unchanged(order), fmt.Errorf("process order %s in status %s: %w", orderID, order.Status, ErrInvalidTransition)
	}
	if order.StockSite == nil {
		return unchanged(order), fmt.Errorf("process order %s: stock site %d not found", orderID, order.StockSiteID)
	}

	res, placeErr := m.brokerClient.PlaceOrder(ctx, apiKey, order.StockSite.Name, order.StockItemID, order.StockItemURL)
	if placeErr != nil {
		out, err := m.transition(ctx, order, pendingOnly, model.OrderFailed, nil, placeErr.Error())
		if err != nil {
			m.logger.Error("mark order failed after placement error",
				zap.String("order_id", orderID),
				zap.NamedError("placement_error", placeErr),
				zap.Error(err),
			)
		}
		return out, fmt.Errorf("process order %s: %w", orderID, placeErr)
	}

	out, err := m.transition(ctx, order, pendingOnly, model.OrderProcessing, map[string]interface{}{
		"task_id":        res.TaskID,
		"failure_reason": "",
	}, "")
	if err != nil {
		return out, err
	}
	if !out.Changed {
		m.logger.Warn("order placed at broker but was no longer pending",
			zap.String("order_id", orderID),
			zap.String("task_id", res.TaskID),
			zap.String("status", string(out.Status)),
		)
	}
	return out, nil
}

func (m *orderManagerImpl) CheckOrderStatus(ctx context.Context, orderID, apiKey string) (Outcome, error) {
	order, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if !order.HasTaskID() {
		return unchanged(order), fmt.Errorf("check order %s: %w", orderID, ErrMissingTaskID)
	}
	if order.Status != model.OrderProcessing {
		return unchanged(order), nil
	}

	if m.now().Sub(order.CreatedAt) > m.processingTimeout {
		return m.transition(ctx, order, processingOnly, model.OrderFailed, nil, reasonTimedOut)
	}

	status := m.brokerClient.CheckOrderStatus(ctx, apiKey, *order.TaskID, "")
	switch {
	case status.Transient:
		out := unchanged(order)
		out.Transient = true
		out.Reason = status.Message
		return out, nil

	case status.Rejected():
		return m.transition(ctx, order, processingOnly, model.OrderFailed, nil, status.Message)

	case status.Ready():
		return m.markReady(ctx, order, apiKey, status)
	}

	if to, ok := brokerToOrderMap[status.Status]; ok {
		return m.transition(ctx, order, processingOnly, to, nil, "broker status "+status.RawStatus)
	}

	// pending, processing and unrecognized statuses: poll again later
	return unchanged(order), nil
}

// markReady moves a PROCESSING order to READY. A failed link fetch does not block READY;
// the link can be regenerated later.
func (m *orderManagerImpl) markReady(ctx context.Context, order *model.Order, apiKey string, status client.StatusResult) (Outcome, error) {
	updates := map[string]interface{}{}
	link, fileName := status.DownloadLink, status.FileName

	if link == "" {
		gen := m.brokerClient.GenerateDownloadLink(ctx, apiKey, *order.TaskID, "")
		if gen.OK {
			link, fileName = gen.DownloadLink, gen.FileName
			if gen.FileSize > 0 {
				updates["file_size"] = gen.FileSize
			}
		} else {
			m.logger.Warn("download link generation failed, marking ready anyway",
				zap.String("order_id", order.ID),
				zap.String("message", gen.Message),
			)
		}
	}
	if link != "" {
		updates["download_url"] = link
	}
	if fileName != "" {
		updates["file_name"] = fileName
	}

	return m.transition(ctx, order, processingOnly, model.OrderReady, updates, "")
}

func (m *orderManagerImpl) CancelOrder(ctx context.Context, orderID, apiKey string) (Outcome, error) {
	order, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if !order.HasTaskID() {
		return unchanged(order), fmt.Errorf("cancel order %s without task id: %w", orderID, ErrOrderNotCancelable)
	}
	if order.Status != model.OrderPending && order.Status != model.OrderProcessing {
		return unchanged(order), fmt.Errorf("cancel order %s in status %s: %w", orderID, order.Status, ErrOrderNotCancelable)
	}

	res := m.brokerClient.CancelOrder(ctx, apiKey, *order.TaskID)
	if !res.OK {
		return unchanged(order), fmt.Errorf("cancel order %s: %w: %s", orderID, ErrBrokerCancelFailed, res.Message)
	}

	return m.transition(ctx, order, activeStatuses, model.OrderCanceled, nil, "canceled by user")
}

func (m *orderManagerImpl) RegenerateDownloadLink(ctx context.Context, orderID, apiKey string) (*model.Order, error) {
	order, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.HasTaskID() {
		return nil, fmt.Errorf("regenerate link for order %s: %w", orderID, ErrMissingTaskID)
	}

	res := m.brokerClient.RegenerateDownloadLink(ctx, apiKey, *order.TaskID, "")
	if !res.OK {
		return nil, fmt.Errorf("regenerate link for order %s: %w: %s", orderID, ErrLinkUnavailable, res.Message)
	}

	updates := map[string]interface{}{
		"download_url": res.DownloadLink,
	}
	if res.FileName != "" {
		updates["file_name"] = res.FileName
	}
	if res.FileSize > 0 {
		updates["file_size"] = res.FileSize
	}

	out, err := m.transition(ctx, order, nil, model.OrderReady, updates, "")
	if err != nil {
		return nil, err
	}
	return out.Order, nil
}

func (m *orderManagerImpl) CompleteOrder(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == model.OrderCompleted {
		return order, nil
	}
	if order.Status != model.OrderReady {
		return nil, fmt.Errorf("complete order %s in status %s: %w", orderID, order.Status, ErrInvalidTransition)
	}

	out, err := m.transition(ctx, order, readyOnly, model.OrderCompleted, nil, "")
	if err != nil {
		return nil, err
	}
	if !out.Changed && out.Status != model.OrderCompleted {
		return nil, fmt.Errorf("complete order %s in status %s: %w", orderID, out.Status, ErrInvalidTransition)
	}
	return out.Order, nil
}

func (m *orderManagerImpl) FailOrder(ctx context.Context, orderID, reason string, refund bool) (Outcome, error) {
	order, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if order.Status != model.OrderPending && order.Status != model.OrderProcessing {
		return unchanged(order), nil
	}

	out, err := m.transition(ctx, order, activeStatuses, model.OrderFailed, nil, reason)
	if err != nil {
		return out, err
	}
	if !refund {
		out.RefundOwed = decimal.Zero
	}
	return out, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
