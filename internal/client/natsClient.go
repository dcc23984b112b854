package client

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// InitNatsClient connects to NATS. An empty url disables events and returns a nil connection.
func InitNatsClient(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url,
		nats.Name("stockmedia-reseller"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return nc, nil
}
