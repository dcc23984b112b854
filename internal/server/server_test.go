package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"stockmedia-reseller/internal/client"
	"stockmedia-reseller/internal/config"
	"stockmedia-reseller/internal/handler"
	"stockmedia-reseller/internal/metrics"
	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/repository"
	"stockmedia-reseller/internal/service"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminToken = "s3cret"
	itemURL    = "https://www.shutterstock.com/image-photo/sunset-over-sea-2233445566"
	goneURL    = "https://www.shutterstock.com/image-photo/withdrawn-1111111111"
)

func fakeNehtw(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/stockinfo/"):
			_, _ = io.WriteString(w, `{"success":true,"data":{"id":"2233445566","source":"shutterstock","title":"Sunset over sea"}}`)
		case r.URL.Path == "/api/stockorder/shutterstock/1111111111":
			_, _ = io.WriteString(w, `{"error":true,"message":"item unavailable"}`)
		case strings.HasPrefix(r.URL.Path, "/api/stockorder/"):
			_, _ = io.WriteString(w, `{"success":true,"task_id":"t9"}`)
		case r.URL.Path == "/api/order/t9/status":
			_, _ = io.WriteString(w, `{"success":true,"status":"ready","downloadLink":"https://dl.example/t9"}`)
		case r.URL.Path == "/api/order/t9/cancel":
			_, _ = io.WriteString(w, `{"success":true}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":true,"message":"not found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

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

	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)

	siteRepo := repository.NewStockSiteRepository(db)
	planRepo := repository.NewSubscriptionRepository(db)
	keyRepo := repository.NewAPIKeyRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	require.NoError(t, siteRepo.Seed(ctx, repository.DefaultStockSites()))
	require.NoError(t, planRepo.SeedPlans(ctx, repository.DefaultPlans()))

	broker := client.NewBrokerClient(&config.Broker{BaseURL: fakeNehtw(t).URL + "/api", Timeout: 5 * time.Second}, nil, m)

	points := service.NewPointsService(db, repository.NewPointsRepository(db), planRepo, nil, m)
	orders := service.NewOrderManager(orderRepo, broker, nil, service.DefaultProcessingTimeout, nil, m)
	stock := service.NewStockService(siteRepo, broker, nil)
	checkout := service.NewCheckout(orders, points, stock, keyRepo, "", nil)
	purchase := service.NewPurchaseService(nil, points, decimal.RequireFromString("0.10"), nil)
	processor := service.NewOrderProcessor(orders, orderRepo, points, checkout, service.NewLocker(nil),
		config.Sweeper{}, config.Orders{}, nil, m)

	return NewServer(Handlers{
		Order:  handler.NewOrderHandler(checkout),
		Points: handler.NewPointsHandler(points, purchase, planRepo),
		Stock:  handler.NewStockHandler(stock, checkout),
		Admin:  handler.NewAdminHandler(points, keyRepo, processor),
	}, adminToken, reg, nil)
}

type call struct {
	method, path, body string
	user               string
	admin              bool
}

func (s *Server) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set("X-User-Id", c.user)
	}
	if c.admin {
		req.Header.Set("X-Admin-Token", adminToken)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/health"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserRoutesRequireUser(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/points/balance"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodPost, path: "/api/admin/points/adjust", body: `{"user_id":"u1","amount":"5"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOrderFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodPut, path: "/api/admin/api-keys", body: `{"user_id":"u1","api_key":"k1"}`, admin: true})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// no points yet
	rec = s.do(t, call{method: http.MethodPost, path: "/api/orders", body: `{"url":"` + itemURL + `"}`, user: "u1"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/api/admin/points/adjust", body: `{"user_id":"u1","amount":"200","type":"bonus"}`, admin: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/api/orders", body: `{"url":"` + itemURL + `"}`, user: "u1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[model.Order](t, rec)
	assert.Equal(t, model.OrderProcessing, order.Status)
	assert.Equal(t, "Sunset over sea", order.Title)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/points/balance", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"current_points":"199.85"`)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + order.ID + "/check", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checked := decode[model.Order](t, rec)
	assert.Equal(t, model.OrderReady, checked.Status)
	assert.Equal(t, "https://dl.example/t9", checked.DownloadURL)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/orders/" + order.ID, user: "u2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + order.ID + "/cancel", user: "u1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/orders/" + order.ID + "/complete", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OrderCompleted, decode[model.Order](t, rec).Status)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/points/history?limit=10", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.PointsHistory](t, rec), 2)
}

func TestPlaceOrderBadURL(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodPost, path: "/api/orders", body: `{"url":"https://example.com/x/1"}`, user: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/orders", body: `{}`, user: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrderBrokerFailureReturnsFailedOrder(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodPut, path: "/api/admin/api-keys", body: `{"user_id":"u1","api_key":"k1"}`, admin: true})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = s.do(t, call{method: http.MethodPost, path: "/api/admin/points/adjust", body: `{"user_id":"u1","amount":"10","type":"bonus"}`, admin: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, call{method: http.MethodPost, path: "/api/orders", body: `{"url":"` + goneURL + `"}`, user: "u1"})
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())

	body := decode[struct {
		Error string      `json:"error"`
		Order model.Order `json:"order"`
	}](t, rec)
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, model.OrderFailed, body.Order.Status)
	assert.Contains(t, body.Order.FailureReason, "item unavailable")

	rec = s.do(t, call{method: http.MethodGet, path: "/api/points/balance", user: "u1"})
	assert.Contains(t, rec.Body.String(), `"current_points":"10"`)
}

func TestPurchaseDisabled(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodPost, path: "/api/points/purchase", body: `{"points":10,"payment_token":"tok"}`, user: "u1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRenewSubscriptionAndSweeps(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodPost, path: "/api/admin/subscriptions/renew", body: `{"user_id":"u1","plan_id":"pro","points":"200"}`, admin: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"current_points":"200"`)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/admin/subscriptions/renew", body: `{"user_id":"u1","plan_id":"gold","points":"1"}`, admin: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/admin/subscriptions/renew", body: `{"user_id":"u1","plan_id":"pro"}`, admin: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: http.MethodGet, path: "/api/points/balance", user: "u1"})
	assert.Contains(t, rec.Body.String(), `"current_points":"200"`)

	rec = s.do(t, call{method: http.MethodPost, path: "/api/admin/sweeps/refunds", admin: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refunds", decode[map[string]interface{}](t, rec)["job"])

	rec = s.do(t, call{method: http.MethodPost, path: "/api/admin/sweeps/vacuum", admin: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPlans(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: http.MethodGet, path: "/api/points/plans", user: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)

	plans := decode[[]map[string]interface{}](t, rec)
	require.Len(t, plans, 3)
	assert.Equal(t, "starter", plans[0]["id"])
	assert.Equal(t, "12", plans[0]["max_rollover"])
}
