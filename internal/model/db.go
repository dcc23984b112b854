package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderReady      OrderStatus = "READY"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderFailed     OrderStatus = "FAILED"
	OrderCanceled   OrderStatus = "CANCELED"
	OrderRefunded   OrderStatus = "REFUNDED"
)

// IsTerminal reports whether no further lifecycle transition is expected.
// READY is not terminal: the user still has to consume the file.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderCompleted, OrderFailed, OrderCanceled, OrderRefunded:
		return true
	}
	return false
}

// OwesRefund reports whether reaching s after a deduction means the user must be refunded.
func (s OrderStatus) OwesRefund() bool {
	switch s {
	case OrderFailed, OrderCanceled, OrderRefunded:
		return true
	}
	return false
}

type PointsType string

const (
	PointsSubscription    PointsType = "SUBSCRIPTION"
	PointsPurchase        PointsType = "PURCHASE"
	PointsRollover        PointsType = "ROLLOVER"
	PointsDownload        PointsType = "DOWNLOAD"
	PointsRefund          PointsType = "REFUND"
	PointsBonus           PointsType = "BONUS"
	PointsAdminAdjustment PointsType = "ADMIN_ADJUSTMENT"
	PointsExpiration      PointsType = "EXPIRATION" // unused balance dropped at subscription renewal
)

// CountsAsPurchase reports whether credits of this type grow TotalPurchased.
func (t PointsType) CountsAsPurchase() bool {
	return t == PointsPurchase || t == PointsSubscription
}

func (t PointsType) Valid() bool {
	switch t {
	case PointsSubscription, PointsPurchase, PointsRollover, PointsDownload,
		PointsRefund, PointsBonus, PointsAdminAdjustment, PointsExpiration:
		return true
	}
	return false
}

type PointsBalance struct {
	ID             uint            `gorm:"primaryKey" json:"-"`
	UserID         string          `gorm:"size:64;uniqueIndex;not null" json:"user_id"`
	CurrentPoints  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"current_points"`
	TotalPurchased decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_purchased"`
	TotalUsed      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_used"`
	LastRollover   *time.Time      `json:"last_rollover"`
	Version        int64           `gorm:"not null;default:0" json:"-"` // bumped on every write, used for compare-and-swap
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type PointsHistory struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      string          `gorm:"size:64;index;not null" json:"user_id"`
	Type        PointsType      `gorm:"size:32;index;not null" json:"type"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"` // positive = credit, negative = debit
	Description string          `gorm:"size:255" json:"description"`
	OrderID     *string         `gorm:"size:64;index" json:"order_id,omitempty"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
}

func (PointsHistory) TableName() string {
	return "points_history"
}

type Order struct {
	ID            string          `gorm:"primaryKey;size:64;not null" json:"id"`
	UserID        string          `gorm:"size:64;index;not null" json:"user_id"`
	StockSiteID   uint            `gorm:"index;not null" json:"stock_site_id"`
	StockSite     *StockSite      `gorm:"foreignKey:StockSiteID" json:"stock_site,omitempty"`
	StockItemID   string          `gorm:"size:128;not null" json:"stock_item_id"`
	StockItemURL  string          `gorm:"size:1024" json:"stock_item_url"`
	Title         string          `gorm:"size:512" json:"title"`
	ImageURL      string          `gorm:"size:1024" json:"image_url"`
	Cost          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"cost"`
	Status        OrderStatus     `gorm:"size:32;index;not null" json:"status"`
	TaskID        *string         `gorm:"size:128;index" json:"task_id,omitempty"`
	DownloadURL   string          `gorm:"size:2048" json:"download_url,omitempty"`
	FileName      string          `gorm:"size:512" json:"file_name,omitempty"`
	FileSize      int64           `json:"file_size,omitempty"`
	FailureReason string          `gorm:"size:512" json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"index" json:"updated_at"`
}

func (o *Order) HasTaskID() bool {
	return o.TaskID != nil && *o.TaskID != ""
}

type StockSite struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Name        string          `gorm:"size:64;uniqueIndex;not null" json:"name"` // broker site key
	DisplayName string          `gorm:"size:128" json:"display_name"`
	Cost        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"cost"`
	IsActive    bool            `gorm:"not null" json:"is_active"`
}

type SubscriptionPlan struct {
	ID            string `gorm:"primaryKey;size:64;not null" json:"id"`
	Name          string `gorm:"size:128" json:"name"`
	Points        int64  `gorm:"not null" json:"points"`         // monthly grant
	RolloverLimit int64  `gorm:"not null" json:"rollover_limit"` // percentage 0-100
}

// BrokerAPIKey is the broker credential a user orders with.
type BrokerAPIKey struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;index;not null"`
	Key       string `gorm:"size:256;not null"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// All lists every persisted entity, in migration order.
func All() []any {
	return []any{
		&StockSite{},
		&SubscriptionPlan{},
		&PointsBalance{},
		&PointsHistory{},
		&Order{},
		&BrokerAPIKey{},
	}
}
