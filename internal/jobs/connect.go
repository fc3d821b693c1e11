package jobs

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Connect dials the NATS server at url. An empty url returns a nil
// connection and no error; callers then run without an event bus.
func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("geosegment"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}
