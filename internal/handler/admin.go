package handler

import (
	"net/http"
	"strings"

	"stockmedia-reseller/internal/dto"
	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/repository"
	"stockmedia-reseller/internal/service"

	"github.com/labstack/echo/v4"
)

type AdminHandler struct {
	pointsService service.PointsService
	apiKeyRepo    repository.APIKeyRepository
	processor     *service.OrderProcessor
}

func NewAdminHandler(pointsService service.PointsService, apiKeyRepo repository.APIKeyRepository, processor *service.OrderProcessor) *AdminHandler {
	return &AdminHandler{
		pointsService: pointsService,
		apiKeyRepo:    apiKeyRepo,
		processor:     processor,
	}
}

func (h *AdminHandler) AdjustPoints(c echo.Context) error {
	var req dto.AdjustPointsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid req body")
	}
	if req.UserID == "" {
		return badRequest("user_id is required")
	}

	typ := model.PointsAdminAdjustment
	if req.Type != "" {
		typ = model.PointsType(strings.ToUpper(req.Type))
	}
	if !typ.Valid() || typ == model.PointsDownload || typ == model.PointsRefund {
		return badRequest("unsupported points type")
	}

	balance, err := h.pointsService.AddPoints(c.Request().Context(), req.UserID, req.Amount, typ, req.Description, nil)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, balance)
}

func (h *AdminHandler) RenewSubscription(c echo.Context) error {
	var req dto.RenewSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid req body")
	}
	if req.UserID == "" || req.PlanID == "" || req.Points == nil {
		return badRequest("user_id, plan_id and points are required")
	}

	balance, err := h.pointsService.ProcessSubscriptionRenewal(c.Request().Context(), req.UserID, req.PlanID, *req.Points)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, balance)
}

func (h *AdminHandler) SetAPIKey(c echo.Context) error {
	var req dto.SetAPIKeyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid req body")
	}
	if req.UserID == "" || strings.TrimSpace(req.APIKey) == "" {
		return badRequest("user_id and api_key are required")
	}

	if err := h.apiKeyRepo.SetActive(c.Request().Context(), req.UserID, strings.TrimSpace(req.APIKey)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AdminHandler) RunSweep(c echo.Context) error {
	job := c.Param("job")

	n, err := h.processor.RunJob(c.Request().Context(), job)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.SweepResponse{Job: job, Count: n})
}
