package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockmedia-reseller/internal/metrics"
	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/repository"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PointsService is the points ledger. Every mutation writes the balance row and its
// history row in one transaction, so CurrentPoints always equals the sum of the history.
type PointsService interface {
	// AddPoints is the unchecked primitive: it credits or debits amount without a lower bound.
	AddPoints(ctx context.Context, userID string, amount decimal.Decimal, typ model.PointsType, description string, orderID *string) (*model.PointsBalance, error)
	// DeductPoints debits amount as a DOWNLOAD, failing with ErrInsufficientPoints when the balance cannot cover it.
	DeductPoints(ctx context.Context, userID string, amount decimal.Decimal, description string, orderID *string) (*model.PointsBalance, error)
	// GetBalance returns nil when the user has never had a points event.
	GetBalance(ctx context.Context, userID string) (*model.PointsBalance, error)
	GetHistory(ctx context.Context, userID string, limit, offset int) ([]*model.PointsHistory, error)
	RefundPoints(ctx context.Context, userID, orderID string, amount decimal.Decimal, reason string) (*model.PointsBalance, error)
	// RefundOrder returns what was deducted for the order, once. It returns zero when
	// nothing was deducted or the order was already refunded.
	RefundOrder(ctx context.Context, userID, orderID, reason string) (decimal.Decimal, error)
	ProcessSubscriptionRenewal(ctx context.Context, userID, planID string, newPoints decimal.Decimal) (*model.PointsBalance, error)
	HasDeduction(ctx context.Context, orderID string) (bool, error)
}

type pointsServiceImpl struct {
	db               *gorm.DB
	pointsRepo       repository.PointsRepository
	subscriptionRepo repository.SubscriptionRepository
	logger           *zap.Logger
	metrics          *metrics.Metrics

	newBackoff func() backoff.BackOff
	now        func() time.Time
}

func NewPointsService(
	db *gorm.DB,
	pointsRepo repository.PointsRepository,
	subscriptionRepo repository.SubscriptionRepository,
	logger *zap.Logger,
	m *metrics.Metrics,
) PointsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pointsServiceImpl{
		db:               db,
		pointsRepo:       pointsRepo,
		subscriptionRepo: subscriptionRepo,
		logger:           logger,
		metrics:          m,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return b
		},
		now: time.Now,
	}
}

// inTx runs fn in a transaction and retries it while the balance row keeps changing under it.
func (s *pointsServiceImpl) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := backoff.Retry(func() error {
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil || errors.Is(err, ErrBalanceConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(s.newBackoff(), ctx))

	s.metrics.IncLedgerOp(op, err)
	return err
}

func (s *pointsServiceImpl) save(ctx context.Context, tx *gorm.DB, balance *model.PointsBalance) error {
	if err := s.pointsRepo.SaveBalance(ctx, tx, balance); err != nil {
		if errors.Is(err, repository.ErrStaleBalance) {
			return ErrBalanceConflict
		}
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

func (s *pointsServiceImpl) appendHistory(ctx context.Context, tx *gorm.DB, userID string, typ model.PointsType, amount decimal.Decimal, description string, orderID *string) error {
	err := s.pointsRepo.AppendHistory(ctx, tx, &model.PointsHistory{
		UserID:      userID,
		Type:        typ,
		Amount:      amount,
		Description: description,
		OrderID:     orderID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return fmt.Errorf("append %s history: %w", typ, err)
	}
	return nil
}

func (s *pointsServiceImpl) AddPoints(ctx context.Context, userID string, amount decimal.Decimal, typ model.PointsType, description string, orderID *string) (*model.PointsBalance, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown points type %q", typ)
	}
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}

	var balance *model.PointsBalance
	err := s.inTx(ctx, "add", func(tx *gorm.DB) error {
		b, err := s.pointsRepo.LockBalance(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}

		b.CurrentPoints = b.CurrentPoints.Add(amount)
		if typ.CountsAsPurchase() {
			b.TotalPurchased = b.TotalPurchased.Add(amount)
		} else if amount.IsNegative() {
			b.TotalUsed = b.TotalUsed.Add(amount.Abs())
		}

		if err := s.save(ctx, tx, b); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, userID, typ, amount, description, orderID); err != nil {
			return err
		}

		balance = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("points added",
		zap.String("user_id", userID),
		zap.String("type", string(typ)),
		zap.String("amount", amount.String()),
	)
	return balance, nil
}

func (s *pointsServiceImpl) DeductPoints(ctx context.Context, userID string, amount decimal.Decimal, description string, orderID *string) (*model.PointsBalance, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	current, err := s.pointsRepo.FindBalance(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if current == nil || current.CurrentPoints.LessThan(amount) {
		s.metrics.IncLedgerOp("deduct", ErrInsufficientPoints)
		return nil, ErrInsufficientPoints
	}

	var balance *model.PointsBalance
	err = s.inTx(ctx, "deduct", func(tx *gorm.DB) error {
		b, err := s.pointsRepo.LockBalance(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}
		// the pre-read may be stale by now
		if b.CurrentPoints.LessThan(amount) {
			return ErrInsufficientPoints
		}

		b.CurrentPoints = b.CurrentPoints.Sub(amount)
		b.TotalUsed = b.TotalUsed.Add(amount)

		if err := s.save(ctx, tx, b); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, userID, model.PointsDownload, amount.Neg(), description, orderID); err != nil {
			return err
		}

		balance = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

func (s *pointsServiceImpl) GetBalance(ctx context.Context, userID string) (*model.PointsBalance, error) {
	balance, err := s.pointsRepo.FindBalance(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *pointsServiceImpl) GetHistory(ctx context.Context, userID string, limit, offset int) ([]*model.PointsHistory, error) {
	rows, err := s.pointsRepo.History(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return rows, nil
}

func (s *pointsServiceImpl) RefundPoints(ctx context.Context, userID, orderID string, amount decimal.Decimal, reason string) (*model.PointsBalance, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var balance *model.PointsBalance
	err := s.inTx(ctx, "refund", func(tx *gorm.DB) error {
		b, err := s.credit(ctx, tx, userID, orderID, amount, reason)
		balance = b
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("points refunded",
		zap.String("user_id", userID),
		zap.String("order_id", orderID),
		zap.String("amount", amount.String()),
	)
	return balance, nil
}

func (s *pointsServiceImpl) credit(ctx context.Context, tx *gorm.DB, userID, orderID string, amount decimal.Decimal, reason string) (*model.PointsBalance, error) {
	b, err := s.pointsRepo.LockBalance(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}

	b.CurrentPoints = b.CurrentPoints.Add(amount)
	if err := s.save(ctx, tx, b); err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "order refund"
	}
	if err := s.appendHistory(ctx, tx, userID, model.PointsRefund, amount, reason, &orderID); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *pointsServiceImpl) RefundOrder(ctx context.Context, userID, orderID, reason string) (decimal.Decimal, error) {
	refunded := decimal.Zero
	err := s.inTx(ctx, "refund_order", func(tx *gorm.DB) error {
		refunded = decimal.Zero

		// lock first so two settlements of the same order serialize on the balance row
		if _, err := s.pointsRepo.LockBalance(ctx, tx, userID); err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}

		deduction, err := s.pointsRepo.FindOrderEntry(ctx, tx, orderID, model.PointsDownload)
		if err != nil {
			return fmt.Errorf("find deduction: %w", err)
		}
		if deduction == nil {
			return nil
		}

		previous, err := s.pointsRepo.FindOrderEntry(ctx, tx, orderID, model.PointsRefund)
		if err != nil {
			return fmt.Errorf("find refund: %w", err)
		}
		if previous != nil {
			return nil
		}

		amount := deduction.Amount.Abs()
		if _, err := s.credit(ctx, tx, userID, orderID, amount, reason); err != nil {
			return err
		}
		refunded = amount
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	if refunded.IsPositive() {
		s.logger.Info("order refunded",
			zap.String("user_id", userID),
			zap.String("order_id", orderID),
			zap.String("amount", refunded.String()),
		)
	}
	return refunded, nil
}

func (s *pointsServiceImpl) ProcessSubscriptionRenewal(ctx context.Context, userID, planID string, newPoints decimal.Decimal) (*model.PointsBalance, error) {
	if newPoints.IsNegative() {
		return nil, ErrInvalidAmount
	}

	var balance *model.PointsBalance
	err := s.inTx(ctx, "renewal", func(tx *gorm.DB) error {
		plan, err := s.subscriptionRepo.GetPlan(ctx, tx, planID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPlanNotFound
		}
		if err != nil {
			return fmt.Errorf("get plan: %w", err)
		}

		b, err := s.pointsRepo.LockBalance(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock balance: %w", err)
		}

		previous := b.CurrentPoints
		rollover := decimal.Min(decimal.Max(previous, decimal.Zero), RolloverCap(plan))
		now := s.now()

		b.CurrentPoints = newPoints.Add(rollover)
		b.TotalPurchased = b.TotalPurchased.Add(newPoints)
		b.LastRollover = &now

		if err := s.save(ctx, tx, b); err != nil {
			return err
		}

		// the old period's balance leaves the ledger and the carried part re-enters as ROLLOVER
		if !previous.IsZero() {
			desc := fmt.Sprintf("Unused points from previous period (%s plan)", plan.ID)
			if err := s.appendHistory(ctx, tx, userID, model.PointsExpiration, previous.Neg(), desc, nil); err != nil {
				return err
			}
		}
		if rollover.IsPositive() {
			desc := fmt.Sprintf("Rollover of %s points (%d%% of %d)", rollover.String(), plan.RolloverLimit, plan.Points)
			if err := s.appendHistory(ctx, tx, userID, model.PointsRollover, rollover, desc, nil); err != nil {
				return err
			}
		}
		desc := fmt.Sprintf("%s subscription renewal", plan.Name)
		if err := s.appendHistory(ctx, tx, userID, model.PointsSubscription, newPoints, desc, nil); err != nil {
			return err
		}

		balance = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription renewed",
		zap.String("user_id", userID),
		zap.String("plan_id", planID),
		zap.String("balance", balance.CurrentPoints.String()),
	)
	return balance, nil
}

func (s *pointsServiceImpl) HasDeduction(ctx context.Context, orderID string) (bool, error) {
	entry, err := s.pointsRepo.FindOrderEntry(ctx, nil, orderID, model.PointsDownload)
	if err != nil {
		return false, fmt.Errorf("find deduction: %w", err)
	}
	return entry != nil, nil
}

// RolloverCap is the most a plan lets carry into the next period: floor(points * limit / 100).
func RolloverCap(plan *model.SubscriptionPlan) decimal.Decimal {
	limit := min(max(plan.RolloverLimit, 0), 100)
	return decimal.NewFromInt(plan.Points * limit / 100)
}
