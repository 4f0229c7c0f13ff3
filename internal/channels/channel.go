// Package channels defines the platform adapter contract. An adapter
// owns the transport connection and normalizes platform events into
// InboundEvents for the gateway.
package channels

import (
	"context"

	"github.com/aidalabs/aida/pkg/models"
)

// Handler receives normalized inbound events.
type Handler func(ctx context.Context, ev *models.InboundEvent)

// Status reports adapter connection health.
type Status struct {
	Connected bool
	Error     string
	LastPing  int64
}

// Adapter is a platform connection.
type Adapter interface {
	// Start connects and begins delivering events to the handler.
	Start(ctx context.Context) error

	// Stop shuts the connection down, waiting for in-flight handling
	// up to the context deadline.
	Stop(ctx context.Context) error

	// Status reports connection health.
	Status() Status
}
