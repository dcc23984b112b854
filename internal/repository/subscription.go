package repository

import (
	"context"

	"stockmedia-reseller/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubscriptionRepository interface {
	SeedPlans(ctx context.Context, plans []*model.SubscriptionPlan) error
	GetPlan(ctx context.Context, tx *gorm.DB, planID string) (*model.SubscriptionPlan, error)
	ListPlans(ctx context.Context) ([]*model.SubscriptionPlan, error)
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{
		db: db,
	}
}

func (r *subscriptionRepoImpl) SeedPlans(ctx context.Context, plans []*model.SubscriptionPlan) error {
	if len(plans) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&plans).Error
}

func (r *subscriptionRepoImpl) GetPlan(ctx context.Context, tx *gorm.DB, planID string) (*model.SubscriptionPlan, error) {
	db := r.db
	if tx != nil {
		db = tx
	}

	var plan model.SubscriptionPlan
	err := db.WithContext(ctx).
		Where("id = ?", planID).
		First(&plan).
		Error

	if err != nil {
		return nil, err
	}

	return &plan, nil
}

func (r *subscriptionRepoImpl) ListPlans(ctx context.Context) ([]*model.SubscriptionPlan, error) {
	var plans []*model.SubscriptionPlan
	if err := r.db.WithContext(ctx).Order("points ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

// DefaultPlans are the subscription tiers a fresh database starts with.
func DefaultPlans() []*model.SubscriptionPlan {
	return []*model.SubscriptionPlan{
		{ID: "starter", Name: "Starter", Points: 50, RolloverLimit: 25},
		{ID: "pro", Name: "Pro", Points: 200, RolloverLimit: 50},
		{ID: "business", Name: "Business", Points: 1000, RolloverLimit: 100},
	}
}
