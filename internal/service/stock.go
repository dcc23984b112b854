package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockmedia-reseller/internal/client"
	"stockmedia-reseller/internal/model"
	"stockmedia-reseller/internal/repository"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	stockInfoCacheSize = 1024
	stockInfoCacheTTL  = 10 * time.Minute
)

// StockQuote is what a user sees before ordering: the item and what it costs here.
type StockQuote struct {
	Site   *model.StockSite `json:"site"`
	ItemID string           `json:"item_id"`
	URL    string           `json:"url"`
	Cost   decimal.Decimal  `json:"cost"`
	Info   *model.StockInfo `json:"info,omitempty"`
}

type StockService interface {
	// Resolve parses an item URL and finds its active stock site.
	Resolve(ctx context.Context, rawURL string) (StockRef, *model.StockSite, error)
	// Info returns broker metadata for an item. Successful lookups are cached.
	Info(ctx context.Context, apiKey string, ref StockRef) (*model.StockInfo, error)
	Quote(ctx context.Context, apiKey, rawURL string) (*StockQuote, error)
	Sites(ctx context.Context) ([]*model.StockSite, error)
	BrokerSites(ctx context.Context, apiKey string) ([]model.BrokerSite, error)
	UserFiles(ctx context.Context, apiKey, nextToken, source, tag string) (client.UserFilesResult, error)
}

type stockServiceImpl struct {
	siteRepo     repository.StockSiteRepository
	brokerClient client.BrokerClient
	cache        *expirable.LRU[string, *model.StockInfo]
	logger       *zap.Logger
}

func NewStockService(siteRepo repository.StockSiteRepository, brokerClient client.BrokerClient, logger *zap.Logger) StockService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &stockServiceImpl{
		siteRepo:     siteRepo,
		brokerClient: brokerClient,
		cache:        expirable.NewLRU[string, *model.StockInfo](stockInfoCacheSize, nil, stockInfoCacheTTL),
		logger:       logger,
	}
}

func (s *stockServiceImpl) Resolve(ctx context.Context, rawURL string) (StockRef, *model.StockSite, error) {
	ref, err := ParseStockURL(rawURL)
	if err != nil {
		return StockRef{}, nil, err
	}

	site, err := s.siteRepo.FindByName(ctx, ref.Site)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ref, nil, fmt.Errorf("%w: %s", ErrSiteInactive, ref.Site)
	}
	if err != nil {
		return ref, nil, fmt.Errorf("find stock site %s: %w", ref.Site, err)
	}
	if !site.IsActive {
		return ref, nil, fmt.Errorf("%w: %s", ErrSiteInactive, ref.Site)
	}

	return ref, site, nil
}

func (s *stockServiceImpl) Info(ctx context.Context, apiKey string, ref StockRef) (*model.StockInfo, error) {
	key := ref.Site + "/" + ref.ItemID
	if info, ok := s.cache.Get(key); ok {
		return info, nil
	}

	res := s.brokerClient.GetStockInfo(ctx, apiKey, ref.Site, ref.ItemID, ref.URL)
	if !res.OK {
		return nil, fmt.Errorf("stock info for %s: %s", key, res.Message)
	}

	s.cache.Add(key, res.Info)
	return res.Info, nil
}

func (s *stockServiceImpl) Quote(ctx context.Context, apiKey, rawURL string) (*StockQuote, error) {
	ref, site, err := s.Resolve(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	quote := &StockQuote{Site: site, ItemID: ref.ItemID, URL: ref.URL, Cost: site.Cost}
	if apiKey == "" {
		return quote, nil
	}

	info, err := s.Info(ctx, apiKey, ref)
	if err != nil {
		s.logger.Debug("quote without stock info", zap.String("url", rawURL), zap.Error(err))
		return quote, nil
	}
	quote.Info = info
	return quote, nil
}

func (s *stockServiceImpl) Sites(ctx context.Context) ([]*model.StockSite, error) {
	sites, err := s.siteRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stock sites: %w", err)
	}
	return sites, nil
}

func (s *stockServiceImpl) BrokerSites(ctx context.Context, apiKey string) ([]model.BrokerSite, error) {
	res := s.brokerClient.GetStockSitesStatus(ctx, apiKey)
	if !res.OK {
		return nil, fmt.Errorf("broker stock sites: %s", res.Message)
	}
	return res.Sites, nil
}

func (s *stockServiceImpl) UserFiles(ctx context.Context, apiKey, nextToken, source, tag string) (client.UserFilesResult, error) {
	res := s.brokerClient.GetUserFiles(ctx, apiKey, nextToken, source, tag)
	if !res.OK {
		return res, fmt.Errorf("broker files: %s", res.Message)
	}
	return res, nil
}
