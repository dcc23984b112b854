package repository

import (
	"context"
	"errors"
	"time"

	"stockmedia-reseller/internal/model"

	"gorm.io/gorm"
)

// APIKeyRepository keeps the broker API keys users order with. At most one key per user is active.
type APIKeyRepository interface {
	SetActive(ctx context.Context, userID, key string) error
	ActiveKey(ctx context.Context, userID string) (string, error)
}

type apiKeyRepoImpl struct {
	db *gorm.DB
}

func NewAPIKeyRepository(db *gorm.DB) APIKeyRepository {
	return &apiKeyRepoImpl{
		db: db,
	}
}

// SetActive stores key as the user's active key and retires the previous one.
func (r *apiKeyRepoImpl) SetActive(ctx context.Context, userID, key string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&model.BrokerAPIKey{}).
			Where("user_id = ? AND is_active = ?", userID, true).
			Updates(map[string]interface{}{
				"is_active":  false,
				"updated_at": time.Now(),
			}).Error
		if err != nil {
			return err
		}

		return tx.Create(&model.BrokerAPIKey{
			UserID:   userID,
			Key:      key,
			IsActive: true,
		}).Error
	})
}

// ActiveKey returns the user's active key, or "" when there is none.
func (r *apiKeyRepoImpl) ActiveKey(ctx context.Context, userID string) (string, error) {
	var key model.BrokerAPIKey
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("id DESC").
		Take(&key).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return key.Key, nil
}
