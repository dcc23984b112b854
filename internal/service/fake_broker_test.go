package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"stockmedia-reseller/internal/client"
	"stockmedia-reseller/internal/model"

	"github.com/stretchr/testify/require"
)

// fakeBroker is a scripted client.BrokerClient that counts calls.
type fakeBroker struct {
	mu sync.Mutex

	taskID   string
	placeErr error
	status   client.StatusResult
	link     client.DownloadLinkResult
	regen    client.DownloadLinkResult
	cancel   client.CancelResult
	info     client.StockInfoResult
	files    client.UserFilesResult
	sites    client.SitesStatusResult

	calls map[string]int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		taskID: "t1",
		status: client.StatusResult{Result: client.Result{OK: true}, Status: client.BrokerStatusProcessing, RawStatus: "processing"},
		link:   client.DownloadLinkResult{Result: client.Result{OK: true}, DownloadLink: "https://dl.example/t1", FileName: "item.jpg"},
		regen:  client.DownloadLinkResult{Result: client.Result{OK: true}, DownloadLink: "https://dl.example/t1?fresh", FileName: "item.jpg"},
		cancel: client.CancelResult{Result: client.Result{OK: true}},
		info: client.StockInfoResult{Result: client.Result{OK: true}, Info: &model.StockInfo{
			ID: "1234567890", Source: "shutterstock", Title: "Happy family", Image: "https://img.example/preview.jpg",
		}},
		calls: map[string]int{},
	}
}

func (f *fakeBroker) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBroker) hit(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeBroker) GetStockInfo(context.Context, string, string, string, string) client.StockInfoResult {
	f.hit("info")
	return f.info
}

func (f *fakeBroker) PlaceOrder(context.Context, string, string, string, string) (*client.PlaceOrderResult, error) {
	f.hit("place")
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &client.PlaceOrderResult{TaskID: f.taskID}, nil
}

func (f *fakeBroker) CheckOrderStatus(context.Context, string, string, string) client.StatusResult {
	f.hit("status")
	return f.status
}

func (f *fakeBroker) GenerateDownloadLink(context.Context, string, string, string) client.DownloadLinkResult {
	f.hit("link")
	return f.link
}

func (f *fakeBroker) RegenerateDownloadLink(context.Context, string, string, string) client.DownloadLinkResult {
	f.hit("regen")
	return f.regen
}

func (f *fakeBroker) CancelOrder(context.Context, string, string) client.CancelResult {
	f.hit("cancel")
	return f.cancel
}

func (f *fakeBroker) GetUserFiles(context.Context, string, string, string, string) client.UserFilesResult {
	f.hit("files")
	return f.files
}

func (f *fakeBroker) GetStockSitesStatus(context.Context, string) client.SitesStatusResult {
	f.hit("sites")
	return f.sites
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, e OrderEvent) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

type orderEnv struct {
	*testEnv
	broker   *fakeBroker
	events   *recordingPublisher
	orders   OrderManager
	stock    StockService
	checkout *Checkout
}

const (
	testUser   = "user-1"
	testAPIKey = "key-1"
	testURL    = "https://www.shutterstock.com/image-photo/happy-family-park-1234567890"
)

func newOrderEnv(t *testing.T) *orderEnv {
	t.Helper()

	env := newTestEnv(t)
	broker := newFakeBroker()
	events := &recordingPublisher{}

	orders := NewOrderManager(env.orderRepo, broker, events, DefaultProcessingTimeout, nil, nil)
	stock := NewStockService(env.siteRepo, broker, nil)
	checkout := NewCheckout(orders, env.points, stock, env.keyRepo, "", nil)

	require.NoError(t, env.keyRepo.SetActive(context.Background(), testUser, testAPIKey))

	return &orderEnv{
		testEnv:  env,
		broker:   broker,
		events:   events,
		orders:   orders,
		stock:    stock,
		checkout: checkout,
	}
}

// setNow moves the order manager's clock.
func (e *orderEnv) setNow(t *testing.T, now func() time.Time) {
	t.Helper()
	impl, ok := e.orders.(*orderManagerImpl)
	require.True(t, ok)
	impl.now = now
}
