package client

import "strings"

// BrokerStatus is the broker's order status folded into one vocabulary.
type BrokerStatus string

const (
	BrokerStatusUnknown    BrokerStatus = "unknown"
	BrokerStatusPending    BrokerStatus = "pending"
	BrokerStatusProcessing BrokerStatus = "processing"
	BrokerStatusReady      BrokerStatus = "ready"
	BrokerStatusFailed     BrokerStatus = "failed"
	BrokerStatusCanceled   BrokerStatus = "canceled"
	BrokerStatusRefunded   BrokerStatus = "refunded"
)

// brokerStatuses holds every spelling the broker has been seen to send.
var brokerStatuses = map[string]BrokerStatus{
	"ready":     BrokerStatusReady,
	"completed": BrokerStatusReady,
	"complete":  BrokerStatusReady,
	"finished":  BrokerStatusReady,
	"done":      BrokerStatusReady,
	"success":   BrokerStatusReady,

	"processing":  BrokerStatusProcessing,
	"in_progress": BrokerStatusProcessing,
	"downloading": BrokerStatusProcessing,
	"started":     BrokerStatusProcessing,
	"working":     BrokerStatusProcessing,

	"pending": BrokerStatusPending,
	"queued":  BrokerStatusPending,
	"waiting": BrokerStatusPending,
	"new":     BrokerStatusPending,

	"failed":   BrokerStatusFailed,
	"failure":  BrokerStatusFailed,
	"error":    BrokerStatusFailed,
	"errored":  BrokerStatusFailed,
	"rejected": BrokerStatusFailed,

	"canceled":  BrokerStatusCanceled,
	"cancelled": BrokerStatusCanceled,

	"refunded": BrokerStatusRefunded,
}

// NormalizeStatus maps a raw broker status string onto BrokerStatus.
// Case, surrounding space and "-"/" " separators are ignored.
func NormalizeStatus(raw string) BrokerStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if status, ok := brokerStatuses[key]; ok {
		return status
	}
	return BrokerStatusUnknown
}
