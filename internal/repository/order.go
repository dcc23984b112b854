package repository

import (
	"context"
	"time"

	"stockmedia-reseller/internal/model"

	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	FindByID(ctx context.Context, orderID string) (*model.Order, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Order, error)
	ListByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]*model.Order, error)

	// ListPendingDue returns PENDING orders created before placeBefore that are either paid
	// (a DOWNLOAD row or a non-positive cost) or were created before expireBefore, oldest first.
	ListPendingDue(ctx context.Context, placeBefore, expireBefore time.Time, limit int) ([]*model.Order, error)

	// Transition applies updates only while the order is in one of from.
	// An empty from matches any status. It reports whether a row changed.
	Transition(ctx context.Context, tx *gorm.DB, orderID string, from []model.OrderStatus, updates map[string]interface{}) (bool, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// ListAwaitingRefund returns orders in a refund-owing status that were paid for
	// but have no REFUND history row.
	ListAwaitingRefund(ctx context.Context, limit int) ([]*model.Order, error)
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return r.conn(tx).WithContext(ctx).Omit("StockSite").Create(order).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("StockSite").
		Where("id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Order, error) {
	q := r.db.WithContext(ctx).
		Preload("StockSite").
		Where("user_id = ?", userID).
		Order("created_at DESC")

	if limit > 0 {
		q = q.Limit(limit).Offset(max(offset, 0))
	}

	var orders []*model.Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}

	return orders, nil
}

// ListByStatus returns up to limit orders in status, oldest first.
func (r *orderRepoImpl) ListByStatus(ctx context.Context, status model.OrderStatus, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Preload("StockSite").
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) ListPendingDue(ctx context.Context, placeBefore, expireBefore time.Time, limit int) ([]*model.Order, error) {
	paid := r.db.Model(&model.PointsHistory{}).
		Select("1").
		Where("points_history.order_id = orders.id AND points_history.type = ?", model.PointsDownload)

	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.OrderPending, placeBefore).
		Where(r.db.Where("cost <= 0").Or("EXISTS (?)", paid).Or("created_at < ?", expireBefore)).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *orderRepoImpl) Transition(ctx context.Context, tx *gorm.DB, orderID string, from []model.OrderStatus, updates map[string]interface{}) (bool, error) {
	q := r.conn(tx).WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID)

	if len(from) > 0 {
		q = q.Where("status IN ?", from)
	}

	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}

	result := q.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

func (r *orderRepoImpl) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.OrderCompleted, cutoff).
		Delete(&model.Order{})

	return result.RowsAffected, result.Error
}

func (r *orderRepoImpl) ListAwaitingRefund(ctx context.Context, limit int) ([]*model.Order, error) {
	paid := r.db.Model(&model.PointsHistory{}).
		Select("1").
		Where("points_history.order_id = orders.id AND points_history.type = ?", model.PointsDownload)
	refunded := r.db.Model(&model.PointsHistory{}).
		Select("1").
		Where("points_history.order_id = orders.id AND points_history.type = ?", model.PointsRefund)

	var orders []*model.Order
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.OrderStatus{model.OrderFailed, model.OrderCanceled, model.OrderRefunded}).
		Where("EXISTS (?)", paid).
		Where("NOT EXISTS (?)", refunded).
		Order("updated_at ASC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		return nil, err
	}

	return orders, nil
}
