package handler

import (
	"errors"
	"net/http"
	"strings"

	"stockmedia-reseller/internal/client"
	"stockmedia-reseller/internal/dto"
	"stockmedia-reseller/internal/middleware"
	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	checkout *service.Checkout
}

func NewOrderHandler(checkout *service.Checkout) *OrderHandler {
	return &OrderHandler{
		checkout: checkout,
	}
}

func (h *OrderHandler) PlaceOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.PlaceOrderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid req body")
	}
	if strings.TrimSpace(req.URL) == "" {
		return badRequest("url is required")
	}

	order, err := h.checkout.PlaceOrder(ctx, middleware.UserID(c), req.URL)
	if err != nil {
		// a failed order is still a resource the user can inspect
		if order != nil && (errors.Is(err, service.ErrInsufficientPoints) || errors.Is(err, client.ErrBrokerPlacementFailed)) {
			return c.JSON(StatusFor(err), map[string]interface{}{
				"error": err.Error(),
				"order": order,
			})
		}
		return err
	}

	return c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	limit, offset := pagination(c)

	orders, err := h.checkout.ListOrders(c.Request().Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		return err
	}
	if orders == nil {
		orders = []*model.Order{}
	}

	return c.JSON(http.StatusOK, orders)
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	order, err := h.checkout.GetOrder(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CheckOrder(c echo.Context) error {
	order, err := h.checkout.CheckOrder(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c echo.Context) error {
	order, err := h.checkout.CancelOrder(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) RegenerateDownloadLink(c echo.Context) error {
	order, err := h.checkout.RegenerateDownloadLink(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CompleteOrder(c echo.Context) error {
	order, err := h.checkout.CompleteOrder(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}
