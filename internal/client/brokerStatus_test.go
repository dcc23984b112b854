package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]BrokerStatus{
		"ready":     BrokerStatusReady,
		"READY":     BrokerStatusReady,
		"completed": BrokerStatusReady,
		"Complete":  BrokerStatusReady,
		"finished":  BrokerStatusReady,
		"done":      BrokerStatusReady,
		"success":   BrokerStatusReady,

		"processing":  BrokerStatusProcessing,
		"in_progress": BrokerStatusProcessing,
		"In Progress": BrokerStatusProcessing,
		"in-progress": BrokerStatusProcessing,
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
		"refunded":  BrokerStatusRefunded,

		"  Ready  ": BrokerStatusReady,
		"":          BrokerStatusUnknown,
		"mystery":   BrokerStatusUnknown,
		"archived":  BrokerStatusUnknown,
	}

	for raw, want := range cases {
		assert.Equalf(t, want, NormalizeStatus(raw), "status %q", raw)
	}
}

func TestEveryTableEntryNormalizesToItself(t *testing.T) {
	for raw, want := range brokerStatuses {
		assert.Equal(t, want, NormalizeStatus(raw), raw)
	}
}
