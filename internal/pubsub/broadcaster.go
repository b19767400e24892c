package pubsub

import (
	"context"
	"strings"

	"marketpulse/internal/domain"
)

// Broadcaster fans new alerts out to downstream consumers
type Broadcaster interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Health(ctx context.Context) error
}

// AlertSubject is relative to the broadcaster prefix, e.g. "<prefix>.hot_momentum"
func AlertSubject(kind domain.AlertKind) string {
	return strings.ToLower(string(kind))
}
