package repository

import (
	"context"

	"stockmedia-reseller/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StockSiteRepository interface {
	Seed(ctx context.Context, sites []*model.StockSite) error
	FindByName(ctx context.Context, name string) (*model.StockSite, error)
	List(ctx context.Context) ([]*model.StockSite, error)
}

type stockSiteRepoImpl struct {
	db *gorm.DB
}

func NewStockSiteRepository(db *gorm.DB) StockSiteRepository {
	return &stockSiteRepoImpl{
		db: db,
	}
}

// Seed inserts the sites that are not stored yet. Existing rows keep their cost and status.
func (r *stockSiteRepoImpl) Seed(ctx context.Context, sites []*model.StockSite) error {
	if len(sites) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&sites).Error
}

func (r *stockSiteRepoImpl) FindByName(ctx context.Context, name string) (*model.StockSite, error) {
	var site model.StockSite
	err := r.db.WithContext(ctx).
		Where("name = ?", name).
		First(&site).Error

	if err != nil {
		return nil, err
	}

	return &site, nil
}

func (r *stockSiteRepoImpl) List(ctx context.Context) ([]*model.StockSite, error) {
	var sites []*model.StockSite
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&sites).Error; err != nil {
		return nil, err
	}
	return sites, nil
}

// DefaultStockSites is the catalogue a fresh database starts with.
func DefaultStockSites() []*model.StockSite {
	site := func(name, display, cost string) *model.StockSite {
		return &model.StockSite{Name: name, DisplayName: display, Cost: decimal.RequireFromString(cost), IsActive: true}
	}
	return []*model.StockSite{
		site("shutterstock", "Shutterstock", "0.15"),
		site("adobestock", "Adobe Stock", "0.15"),
		site("istockphoto", "iStock", "0.20"),
		site("freepik", "Freepik", "0.10"),
		site("depositphotos", "Depositphotos", "0.10"),
		site("123rf", "123RF", "0.10"),
		site("dreamstime", "Dreamstime", "0.10"),
		site("vecteezy", "Vecteezy", "0.10"),
		site("rawpixel", "Rawpixel", "0.10"),
		site("pngtree", "Pngtree", "0.10"),
		site("alamy", "Alamy", "0.25"),
		site("envato", "Envato Elements", "0.20"),
		site("motionarray", "Motion Array", "0.20"),
	}
}
