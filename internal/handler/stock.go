package handler

import (
	"net/http"

	"stockmedia-reseller/internal/middleware"
	"stockmedia-reseller/internal/service"

	"github.com/labstack/echo/v4"
)

type StockHandler struct {
	stockService service.StockService
	checkout     *service.Checkout
}

func NewStockHandler(stockService service.StockService, checkout *service.Checkout) *StockHandler {
	return &StockHandler{
		stockService: stockService,
		checkout:     checkout,
	}
}

// GetInfo quotes the item at ?url= for the caller.
func (h *StockHandler) GetInfo(c echo.Context) error {
	ctx := c.Request().Context()

	rawURL := c.QueryParam("url")
	if rawURL == "" {
		return badRequest("url is required")
	}

	// a quote without broker metadata is still useful
	apiKey, _ := h.checkout.ResolveAPIKey(ctx, middleware.UserID(c))

	quote, err := h.stockService.Quote(ctx, apiKey, rawURL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, quote)
}

func (h *StockHandler) ListSites(c echo.Context) error {
	ctx := c.Request().Context()

	sites, err := h.stockService.Sites(ctx)
	if err != nil {
		return err
	}

	resp := map[string]interface{}{"sites": sites}
	if c.QueryParam("broker") == "true" {
		apiKey, err := h.checkout.ResolveAPIKey(ctx, middleware.UserID(c))
		if err != nil {
			return err
		}
		broker, err := h.stockService.BrokerSites(ctx, apiKey)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		resp["broker"] = broker
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *StockHandler) ListFiles(c echo.Context) error {
	ctx := c.Request().Context()

	apiKey, err := h.checkout.ResolveAPIKey(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}

	files, err := h.stockService.UserFiles(ctx, apiKey, c.QueryParam("next_token"), c.QueryParam("source"), c.QueryParam("tag"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"files":      files.Files,
		"next_token": files.NextToken,
	})
}
