package server

import (
	"context"
	"net/http"

	"stockmedia-reseller/internal/handler"
	authmw "stockmedia-reseller/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Order  *handler.OrderHandler
	Points *handler.PointsHandler
	Stock  *handler.StockHandler
	Admin  *handler.AdminHandler
}

type Server struct {
	echo       *echo.Echo
	handlers   Handlers
	adminToken string
	gatherer   prometheus.Gatherer
}

func NewServer(handlers Handlers, adminToken string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(logger)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		echo:       e,
		handlers:   handlers,
		adminToken: adminToken,
		gatherer:   gatherer,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	user := api.Group("", authmw.UserAuth())

	// -------- orders --------
	orders := user.Group("/orders")
	orders.POST("", s.handlers.Order.PlaceOrder)
	orders.GET("", s.handlers.Order.ListOrders)
	orders.GET("/:id", s.handlers.Order.GetOrder)
	orders.POST("/:id/check", s.handlers.Order.CheckOrder)
	orders.POST("/:id/cancel", s.handlers.Order.CancelOrder)
	orders.POST("/:id/download-link", s.handlers.Order.RegenerateDownloadLink)
	orders.POST("/:id/complete", s.handlers.Order.CompleteOrder)

	// -------- points --------
	points := user.Group("/points")
	points.GET("/balance", s.handlers.Points.GetBalance)
	points.GET("/history", s.handlers.Points.GetHistory)
	points.POST("/purchase", s.handlers.Points.Purchase)
	points.GET("/plans", s.handlers.Points.ListPlans)

	// -------- stock --------
	stock := user.Group("/stock")
	stock.GET("/info", s.handlers.Stock.GetInfo)
	stock.GET("/sites", s.handlers.Stock.ListSites)
	stock.GET("/files", s.handlers.Stock.ListFiles)

	// -------- admin --------
	admin := api.Group("/admin", authmw.AdminAuth(s.adminToken))
	admin.POST("/points/adjust", s.handlers.Admin.AdjustPoints)
	admin.POST("/subscriptions/renew", s.handlers.Admin.RenewSubscription)
	admin.PUT("/api-keys", s.handlers.Admin.SetAPIKey)
	admin.POST("/sweeps/:job", s.handlers.Admin.RunSweep)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
