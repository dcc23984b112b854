package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"stockmedia-reseller/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPointsCreatesBalanceOnFirstUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b, err := env.points.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = env.points.AddPoints(ctx, "u1", pts("200"), model.PointsSubscription, "monthly grant", nil)
	require.NoError(t, err)
	assertPoints(t, "200", b.CurrentPoints)
	assertPoints(t, "200", b.TotalPurchased)
	assertPoints(t, "0", b.TotalUsed)

	b, err = env.points.AddPoints(ctx, "u1", pts("5"), model.PointsBonus, "welcome", nil)
	require.NoError(t, err)
	assertPoints(t, "205", b.CurrentPoints)
	assertPoints(t, "200", b.TotalPurchased)
}

func TestAddPointsNegativeAdjustmentCountsAsUsed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "10")

	b, err := env.points.AddPoints(ctx, "u1", pts("-3.5"), model.PointsAdminAdjustment, "correction", nil)
	require.NoError(t, err)
	assertPoints(t, "6.5", b.CurrentPoints)
	assertPoints(t, "3.5", b.TotalUsed)
	env.assertConserved(t, "u1")
}

func TestAddPointsRejectsUnknownTypeAndZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.points.AddPoints(ctx, "u1", pts("1"), model.PointsType("GIFT"), "", nil)
	assert.Error(t, err)

	_, err = env.points.AddPoints(ctx, "u1", decimal.Zero, model.PointsBonus, "", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDeductPoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "200")

	orderID := "order-1"
	b, err := env.points.DeductPoints(ctx, "u1", pts("0.15"), "Shutterstock download", &orderID)
	require.NoError(t, err)
	assertPoints(t, "199.85", b.CurrentPoints)
	assertPoints(t, "0.15", b.TotalUsed)

	rows, err := env.points.GetHistory(ctx, "u1", 1, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.PointsDownload, rows[0].Type)
	assertPoints(t, "-0.15", rows[0].Amount)
	require.NotNil(t, rows[0].OrderID)
	assert.Equal(t, orderID, *rows[0].OrderID)

	ok, err := env.points.HasDeduction(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeductPointsInsufficientLeavesLedgerUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "0.10")

	_, err := env.points.DeductPoints(ctx, "u1", pts("0.15"), "too expensive", nil)
	assert.True(t, err == ErrInsufficientPoints, "error must not be wrapped, got %v", err)

	assertPoints(t, "0.10", env.balance(t, "u1"))
	rows, err := env.points.GetHistory(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDeductPointsUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.points.DeductPoints(ctx, "ghost", pts("1"), "", nil)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	b, err := env.points.GetBalance(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestDeductPointsRejectsNonPositive(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "1")

	_, err := env.points.DeductPoints(context.Background(), "u1", pts("-1"), "", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = env.points.DeductPoints(context.Background(), "u1", decimal.Zero, "", nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentDeductionsNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "0.30")

	const workers = 6
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		successes    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.points.DeductPoints(ctx, "u1", pts("0.15"), "download", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientPoints):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, successes)
	assert.Equal(t, workers-2, insufficient)
	assertPoints(t, "0", env.balance(t, "u1"))
	env.assertConserved(t, "u1")
}

func TestRefundPoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "1")

	b, err := env.points.RefundPoints(ctx, "u1", "order-9", pts("0.25"), "broker failure")
	require.NoError(t, err)
	assertPoints(t, "1.25", b.CurrentPoints)

	_, err = env.points.RefundPoints(ctx, "u1", "order-9", pts("0"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRefundOrderIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "200")

	orderID := "order-1"
	_, err := env.points.DeductPoints(ctx, "u1", pts("0.15"), "download", &orderID)
	require.NoError(t, err)

	refunded, err := env.points.RefundOrder(ctx, "u1", orderID, "order failed")
	require.NoError(t, err)
	assertPoints(t, "0.15", refunded)

	refunded, err = env.points.RefundOrder(ctx, "u1", orderID, "order failed")
	require.NoError(t, err)
	assert.True(t, refunded.IsZero())

	assertPoints(t, "200", env.balance(t, "u1"))

	rows, err := env.points.GetHistory(ctx, "u1", 0, 0)
	require.NoError(t, err)
	var refunds int
	for _, row := range rows {
		if row.Type == model.PointsRefund {
			refunds++
			assertPoints(t, "0.15", row.Amount)
		}
	}
	assert.Equal(t, 1, refunds)
	env.assertConserved(t, "u1")
}

func TestRefundOrderWithoutDeductionIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "1")

	refunded, err := env.points.RefundOrder(context.Background(), "u1", "never-paid", "")
	require.NoError(t, err)
	assert.True(t, refunded.IsZero())
	assertPoints(t, "1", env.balance(t, "u1"))
}

func TestSubscriptionRenewalCarriesRollover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.points.AddPoints(ctx, "u1", pts("50"), model.PointsSubscription, "first period", nil)
	require.NoError(t, err)

	// pro plan: 200 points, 50% rollover, cap 100
	b, err := env.points.ProcessSubscriptionRenewal(ctx, "u1", "pro", pts("200"))
	require.NoError(t, err)
	assertPoints(t, "250", b.CurrentPoints)
	assertPoints(t, "250", b.TotalPurchased)
	require.NotNil(t, b.LastRollover)

	rows, err := env.points.GetHistory(ctx, "u1", 0, 0)
	require.NoError(t, err)
	byType := map[model.PointsType]decimal.Decimal{}
	for _, row := range rows {
		byType[row.Type] = byType[row.Type].Add(row.Amount)
	}
	assertPoints(t, "50", byType[model.PointsRollover])
	assertPoints(t, "-50", byType[model.PointsExpiration])
	assertPoints(t, "250", byType[model.PointsSubscription])
	env.assertConserved(t, "u1")
}

func TestSubscriptionRenewalRolloverBound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "u1", "500")

	// starter plan: 50 points, 25% rollover, cap floor(12.5) = 12
	before := env.balance(t, "u1")
	b, err := env.points.ProcessSubscriptionRenewal(ctx, "u1", "starter", pts("50"))
	require.NoError(t, err)
	assertPoints(t, "62", b.CurrentPoints)
	assert.True(t, b.CurrentPoints.Sub(before).LessThanOrEqual(pts("62")))
	env.assertConserved(t, "u1")
}

func TestSubscriptionRenewalWithEmptyBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b, err := env.points.ProcessSubscriptionRenewal(ctx, "fresh", "business", pts("1000"))
	require.NoError(t, err)
	assertPoints(t, "1000", b.CurrentPoints)

	rows, err := env.points.GetHistory(ctx, "fresh", 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.PointsSubscription, rows[0].Type)
}

func TestSubscriptionRenewalWithoutNewPointsStillRecordsSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.points.AddPoints(ctx, "u1", pts("50"), model.PointsBonus, "welcome", nil)
	require.NoError(t, err)

	b, err := env.points.ProcessSubscriptionRenewal(ctx, "u1", "starter", decimal.Zero)
	require.NoError(t, err)
	assertPoints(t, "12", b.CurrentPoints)

	rows, err := env.points.GetHistory(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, model.PointsSubscription, rows[0].Type)
	assertPoints(t, "0", rows[0].Amount)
	env.assertConserved(t, "u1")
}

func TestSubscriptionRenewalUnknownPlan(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.points.ProcessSubscriptionRenewal(context.Background(), "u1", "platinum", pts("10"))
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestGetHistoryPaginatesNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, amount := range []string{"1", "2", "3", "4"} {
		_, err := env.points.AddPoints(ctx, "u1", pts(amount), model.PointsBonus, "bonus "+amount, nil)
		require.NoError(t, err)
	}

	rows, err := env.points.GetHistory(ctx, "u1", 2, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assertPoints(t, "3", rows[0].Amount)
	assertPoints(t, "2", rows[1].Amount)
}

func TestLedgerConservationAcrossOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.points.AddPoints(ctx, "u1", pts("200"), model.PointsSubscription, "", nil)
	require.NoError(t, err)
	for i, id := range []string{"a", "b", "c"} {
		orderID := id
		_, err := env.points.DeductPoints(ctx, "u1", pts("0.15"), "download", &orderID)
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = env.points.RefundOrder(ctx, "u1", orderID, "failed")
			require.NoError(t, err)
		}
	}
	_, err = env.points.AddPoints(ctx, "u1", pts("-1.3"), model.PointsAdminAdjustment, "", nil)
	require.NoError(t, err)
	_, err = env.points.ProcessSubscriptionRenewal(ctx, "u1", "starter", pts("50"))
	require.NoError(t, err)
	_, err = env.points.DeductPoints(ctx, "u1", pts("0.2"), "download", nil)
	require.NoError(t, err)

	env.assertConserved(t, "u1")
}

func TestRolloverCap(t *testing.T) {
	cases := []struct {
		points, limit int64
		want          string
	}{
		{200, 50, "100"},
		{50, 25, "12"},
		{100, 0, "0"},
		{100, 150, "100"},
		{100, -5, "0"},
	}
	for _, tc := range cases {
		got := RolloverCap(&model.SubscriptionPlan{Points: tc.points, RolloverLimit: tc.limit})
		assertPoints(t, tc.want, got)
	}
}
