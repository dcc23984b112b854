package service

import (
	"context"
	"fmt"
	"testing"

	"stockmedia-reseller/internal/client"
	"stockmedia-reseller/internal/config"
	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db         *gorm.DB
	pointsRepo repository.PointsRepository
	orderRepo  repository.OrderRepository
	siteRepo   repository.StockSiteRepository
	planRepo   repository.SubscriptionRepository
	keyRepo    repository.APIKeyRepository
	points     PointsService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := client.InitDBClient(config.Database{
		Driver: "sqlite",
		URL:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db := newTestDB(t)
	env := &testEnv{
		db:         db,
		pointsRepo: repository.NewPointsRepository(db),
		orderRepo:  repository.NewOrderRepository(db),
		siteRepo:   repository.NewStockSiteRepository(db),
		planRepo:   repository.NewSubscriptionRepository(db),
		keyRepo:    repository.NewAPIKeyRepository(db),
	}
	env.points = NewPointsService(db, env.pointsRepo, env.planRepo, nil, nil)

	require.NoError(t, env.siteRepo.Seed(ctx, repository.DefaultStockSites()))
	require.NoError(t, env.planRepo.SeedPlans(ctx, repository.DefaultPlans()))
	return env
}

func (e *testEnv) site(t *testing.T, name string) *model.StockSite {
	t.Helper()
	site, err := e.siteRepo.FindByName(context.Background(), name)
	require.NoError(t, err)
	return site
}

func (e *testEnv) fund(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := e.points.AddPoints(context.Background(), userID, pts(amount), model.PointsPurchase, "test funding", nil)
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := e.points.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b.CurrentPoints
}

// assertConserved checks that the balance equals the sum of the user's history.
func (e *testEnv) assertConserved(t *testing.T, userID string) {
	t.Helper()
	rows, err := e.points.GetHistory(context.Background(), userID, 0, 0)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, row := range rows {
		sum = sum.Add(row.Amount)
	}
	assertPoints(t, sum.String(), e.balance(t, userID))
}

func pts(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertPoints(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, pts(want).Equal(got), "want %s points, got %s", want, got.String())
}
