package handler

import (
	"net/http"

	"stockmedia-reseller/internal/dto"
	"stockmedia-reseller/internal/middleware"
	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/repository"
	"stockmedia-reseller/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type PointsHandler struct {
	pointsService    service.PointsService
	purchaseService  service.PurchaseService
	subscriptionRepo repository.SubscriptionRepository
}

func NewPointsHandler(pointsService service.PointsService, purchaseService service.PurchaseService, subscriptionRepo repository.SubscriptionRepository) *PointsHandler {
	return &PointsHandler{
		pointsService:    pointsService,
		purchaseService:  purchaseService,
		subscriptionRepo: subscriptionRepo,
	}
}

func (h *PointsHandler) GetBalance(c echo.Context) error {
	userID := middleware.UserID(c)

	balance, err := h.pointsService.GetBalance(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	resp := dto.BalanceResponse{
		UserID:         userID,
		CurrentPoints:  decimal.Zero,
		TotalPurchased: decimal.Zero,
		TotalUsed:      decimal.Zero,
	}
	if balance != nil {
		resp.CurrentPoints = balance.CurrentPoints
		resp.TotalPurchased = balance.TotalPurchased
		resp.TotalUsed = balance.TotalUsed
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *PointsHandler) GetHistory(c echo.Context) error {
	limit, offset := pagination(c)

	rows, err := h.pointsService.GetHistory(c.Request().Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []*model.PointsHistory{}
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *PointsHandler) Purchase(c echo.Context) error {
	var req dto.PurchasePointsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid req body")
	}

	receipt, err := h.purchaseService.Purchase(c.Request().Context(), service.PurchaseParams{
		UserID:       middleware.UserID(c),
		Points:       req.Points,
		PaymentToken: req.PaymentToken,
		Nonce:        req.Nonce,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, receipt)
}

// ListPlans returns the subscription tiers with the most each lets roll over.
func (h *PointsHandler) ListPlans(c echo.Context) error {
	plans, err := h.subscriptionRepo.ListPlans(c.Request().Context())
	if err != nil {
		return err
	}

	type planView struct {
		*model.SubscriptionPlan
		MaxRollover decimal.Decimal `json:"max_rollover"`
	}
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, planView{SubscriptionPlan: p, MaxRollover: service.RolloverCap(p)})
	}
	return c.JSON(http.StatusOK, views)
}
