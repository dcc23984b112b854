package repository

import (
	"context"
	"errors"
	"time"

	"stockmedia-reseller/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStaleBalance is returned by SaveBalance when the row changed since it was read.
var ErrStaleBalance = errors.New("balance row modified concurrently")

// PointsRepository stores the balance projection and the append-only history.
// Methods taking a tx join the caller's transaction; a nil tx uses the base handle.
type PointsRepository interface {
	FindBalance(ctx context.Context, tx *gorm.DB, userID string) (*model.PointsBalance, error)
	// LockBalance makes sure the user's balance row exists and reads it with a row lock.
	LockBalance(ctx context.Context, tx *gorm.DB, userID string) (*model.PointsBalance, error)
	SaveBalance(ctx context.Context, tx *gorm.DB, balance *model.PointsBalance) error

	AppendHistory(ctx context.Context, tx *gorm.DB, entry *model.PointsHistory) error
	History(ctx context.Context, userID string, limit, offset int) ([]*model.PointsHistory, error)
	FindOrderEntry(ctx context.Context, tx *gorm.DB, orderID string, typ model.PointsType) (*model.PointsHistory, error)
}

type pointsRepoImpl struct {
	db *gorm.DB
}

func NewPointsRepository(db *gorm.DB) PointsRepository {
	return &pointsRepoImpl{
		db: db,
	}
}

func (r *pointsRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *pointsRepoImpl) FindBalance(ctx context.Context, tx *gorm.DB, userID string) (*model.PointsBalance, error) {
	var balance model.PointsBalance
	err := r.conn(tx).WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&balance).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &balance, nil
}

func (r *pointsRepoImpl) LockBalance(ctx context.Context, tx *gorm.DB, userID string) (*model.PointsBalance, error) {
	db := r.conn(tx).WithContext(ctx)

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&model.PointsBalance{UserID: userID}).Error
	if err != nil {
		return nil, err
	}

	var balance model.PointsBalance
	err = db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&balance).Error
	if err != nil {
		return nil, err
	}

	return &balance, nil
}

func (r *pointsRepoImpl) SaveBalance(ctx context.Context, tx *gorm.DB, balance *model.PointsBalance) error {
	now := time.Now()
	result := r.conn(tx).WithContext(ctx).
		Model(&model.PointsBalance{}).
		Where("user_id = ? AND version = ?", balance.UserID, balance.Version).
		Updates(map[string]interface{}{
			"current_points":  balance.CurrentPoints,
			"total_purchased": balance.TotalPurchased,
			"total_used":      balance.TotalUsed,
			"last_rollover":   balance.LastRollover,
			"version":         balance.Version + 1,
			"updated_at":      now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleBalance
	}

	balance.Version++
	balance.UpdatedAt = now
	return nil
}

func (r *pointsRepoImpl) AppendHistory(ctx context.Context, tx *gorm.DB, entry *model.PointsHistory) error {
	return r.conn(tx).WithContext(ctx).Create(entry).Error
}

// History returns the user's rows newest first. limit <= 0 returns every row and ignores offset.
func (r *pointsRepoImpl) History(ctx context.Context, userID string, limit, offset int) ([]*model.PointsHistory, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")

	if limit > 0 {
		q = q.Limit(limit).Offset(max(offset, 0))
	}

	var rows []*model.PointsHistory
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	return rows, nil
}

func (r *pointsRepoImpl) FindOrderEntry(ctx context.Context, tx *gorm.DB, orderID string, typ model.PointsType) (*model.PointsHistory, error) {
	var entries []*model.PointsHistory
	err := r.conn(tx).WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, typ).
		Order("id ASC").
		Limit(1).
		Find(&entries).Error

	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	return entries[0], nil
}
