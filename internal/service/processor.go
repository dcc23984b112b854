package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockmedia-reseller/internal/config"
	"stockmedia-reseller/internal/metrics"
	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/repository"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCleanup    = "cleanup"
	JobRefunds    = "refunds"

	pendingBatchSize    = 10
	processingBatchSize = 20
	refundBatchSize     = 50

	// pendingGrace leaves fresh orders to the request that created them.
	pendingGrace = time.Minute
)

// OrderProcessor is the background sweeper that moves orders along without a user request.
type OrderProcessor struct {
	orders    OrderManager
	orderRepo repository.OrderRepository
	points    PointsService
	checkout  *Checkout
	locker    Locker

	sweeper           config.Sweeper
	processingTimeout time.Duration
	retention         time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	cron *cron.Cron
}

func NewOrderProcessor(
	orders OrderManager,
	orderRepo repository.OrderRepository,
	points PointsService,
	checkout *Checkout,
	locker Locker,
	sweeper config.Sweeper,
	orderCfg config.Orders,
	logger *zap.Logger,
	m *metrics.Metrics,
) *OrderProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = localLocker{}
	}
	if orderCfg.ProcessingTimeout <= 0 {
		orderCfg.ProcessingTimeout = DefaultProcessingTimeout
	}
	if orderCfg.Retention <= 0 {
		orderCfg.Retention = 30 * 24 * time.Hour
	}
	if sweeper.LockTTL <= 0 {
		sweeper.LockTTL = 2 * time.Minute
	}
	return &OrderProcessor{
		orders:            orders,
		orderRepo:         orderRepo,
		points:            points,
		checkout:          checkout,
		locker:            locker,
		sweeper:           sweeper,
		processingTimeout: orderCfg.ProcessingTimeout,
		retention:         orderCfg.Retention,
		logger:            logger.Named("sweeper"),
		metrics:           m,
		now:               time.Now,
	}
}

// ProcessPendingOrders places paid PENDING orders that their request left behind.
// Unpaid orders are never placed; past the processing timeout they are failed.
func (p *OrderProcessor) ProcessPendingOrders(ctx context.Context) (int, error) {
	now := p.now()
	orders, err := p.orderRepo.ListPendingDue(ctx, now.Add(-pendingGrace), now.Add(-p.processingTimeout), pendingBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending orders: %w", err)
	}

	handled := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return handled, ctx.Err()
		}

		if err := p.processPending(ctx, order); err != nil {
			p.logger.Warn("pending order not processed", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		handled++
	}
	return handled, nil
}

func (p *OrderProcessor) processPending(ctx context.Context, order *model.Order) error {
	paid := !order.Cost.IsPositive()
	if !paid {
		var err error
		if paid, err = p.points.HasDeduction(ctx, order.ID); err != nil {
			return err
		}
	}
	if !paid {
		// only expired unpaid orders are listed
		_, err := p.orders.FailOrder(ctx, order.ID, "payment not received", false)
		return err
	}

	apiKey, err := p.checkout.ResolveAPIKey(ctx, order.UserID)
	if errors.Is(err, ErrNoAPIKey) {
		out, err := p.orders.FailOrder(ctx, order.ID, "no broker api key", true)
		if err != nil {
			return err
		}
		_, err = p.checkout.Settle(ctx, out)
		return err
	}
	if err != nil {
		return err
	}

	out, placeErr := p.orders.ProcessOrder(ctx, order.ID, apiKey)
	if _, err := p.checkout.Settle(ctx, out); err != nil {
		return errors.Join(placeErr, err)
	}
	return placeErr
}

// CheckProcessingOrders polls the broker for PROCESSING orders and settles the ones that ended.
func (p *OrderProcessor) CheckProcessingOrders(ctx context.Context) (int, error) {
	orders, err := p.orderRepo.ListByStatus(ctx, model.OrderProcessing, processingBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list processing orders: %w", err)
	}

	changed := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}

		apiKey, err := p.checkout.ResolveAPIKey(ctx, order.UserID)
		if err != nil && !errors.Is(err, ErrNoAPIKey) {
			p.logger.Warn("resolve api key", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		// without a key only the timeout can move the order
		if apiKey == "" && p.now().Sub(order.CreatedAt) <= p.processingTimeout {
			continue
		}

		out, err := p.orders.CheckOrderStatus(ctx, order.ID, apiKey)
		if err != nil {
			p.logger.Warn("check order status", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		if _, err := p.checkout.Settle(ctx, out); err != nil {
			p.logger.Error("settle order", zap.String("order_id", order.ID), zap.Error(err))
		}
		if out.Changed {
			changed++
		}
	}
	return changed, nil
}

// CleanupOldOrders deletes COMPLETED orders untouched for longer than the retention period.
func (p *OrderProcessor) CleanupOldOrders(ctx context.Context) (int, error) {
	n, err := p.orderRepo.DeleteCompletedBefore(ctx, p.now().Add(-p.retention))
	if err != nil {
		return 0, fmt.Errorf("delete completed orders: %w", err)
	}
	if n > 0 {
		p.logger.Info("old orders removed", zap.Int64("count", n))
	}
	return int(n), nil
}

// ReconcileRefunds refunds paid orders that reached a refund-owing status without being refunded,
// e.g. when the process died between the transition and the refund.
func (p *OrderProcessor) ReconcileRefunds(ctx context.Context) (int, error) {
	orders, err := p.orderRepo.ListAwaitingRefund(ctx, refundBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list orders awaiting refund: %w", err)
	}

	refunded := 0
	for _, order := range orders {
		reason := fmt.Sprintf("Refund for order %s (%s)", order.ID, order.Status)
		amount, err := p.points.RefundOrder(ctx, order.UserID, order.ID, reason)
		if err != nil {
			p.logger.Error("reconcile refund", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		if amount.IsPositive() {
			p.logger.Warn("missing refund applied",
				zap.String("order_id", order.ID),
				zap.String("amount", amount.String()),
			)
			refunded++
		}
	}
	return refunded, nil
}

// RunJob runs one sweeper job by name under its lease.
func (p *OrderProcessor) RunJob(ctx context.Context, name string) (int, error) {
	fn, ok := p.jobs()[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return p.run(ctx, name, fn)
}

func (p *OrderProcessor) jobs() map[string]func(context.Context) (int, error) {
	return map[string]func(context.Context) (int, error){
		JobPending:    p.ProcessPendingOrders,
		JobProcessing: p.CheckProcessingOrders,
		JobCleanup:    p.CleanupOldOrders,
		JobRefunds:    p.ReconcileRefunds,
	}
}

func (p *OrderProcessor) run(ctx context.Context, name string, fn func(context.Context) (int, error)) (int, error) {
	release, err := p.locker.TryLock(ctx, "sweeper:"+name, p.sweeper.LockTTL)
	if err != nil {
		p.metrics.ObserveSweeperRun(name, err, 0)
		return 0, err
	}
	if release == nil {
		p.logger.Debug("sweeper job held elsewhere", zap.String("job", name))
		return 0, nil
	}
	defer release()

	start := time.Now()
	n, err := fn(ctx)
	took := time.Since(start)
	p.metrics.ObserveSweeperRun(name, err, took)

	if err != nil {
		p.logger.Error("sweeper job failed", zap.String("job", name), zap.Duration("took", took), zap.Error(err))
		return n, err
	}
	if n > 0 {
		p.logger.Info("sweeper job done", zap.String("job", name), zap.Int("count", n), zap.Duration("took", took))
	}
	return n, nil
}

// Start schedules the sweeper jobs. Jobs run until Stop; ctx is handed to every run.
func (p *OrderProcessor) Start(ctx context.Context) error {
	cl := cronLogger{p.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	schedules := []struct {
		job, expr string
	}{
		{JobPending, p.sweeper.PendingSchedule},
		{JobProcessing, p.sweeper.ProcessingSchedule},
		{JobCleanup, p.sweeper.CleanupSchedule},
		{JobRefunds, p.sweeper.RefundSchedule},
	}
	jobs := p.jobs()
	for _, s := range schedules {
		if s.expr == "" {
			continue
		}
		name, fn := s.job, jobs[s.job]
		if _, err := c.AddFunc(s.expr, func() { _, _ = p.run(ctx, name, fn) }); err != nil {
			return fmt.Errorf("schedule %s job %q: %w", name, s.expr, err)
		}
	}

	p.cron = c
	c.Start()
	p.logger.Info("sweeper started")
	return nil
}

// Stop stops scheduling and waits for running jobs.
func (p *OrderProcessor) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.logger.Info("sweeper stopped")
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
