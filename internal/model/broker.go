package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// StockInfo is the item metadata the broker returns for a stock URL.
type StockInfo struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Title       string          `json:"title"`
	Image       string          `json:"image"`
	Cost        decimal.Decimal `json:"cost"`
	Ext         string          `json:"ext"`
	Name        string          `json:"name"`
	Author      string          `json:"author"`
	SizeInBytes json.Number     `json:"sizeInBytes"`
}

// BrokerFile is one entry of the broker's "my files" listing. The broker does not document
// the shape, so the entry is kept as decoded.
type BrokerFile map[string]any

// BrokerSite is one entry of the broker's stock-site status listing.
type BrokerSite map[string]any
