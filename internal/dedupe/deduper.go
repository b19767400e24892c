package dedupe

import (
	"context"

	"marketpulse/internal/domain"
)

// Deduper reports whether an id was already claimed within its cooldown (redis, in-memory)
type Deduper interface {
	// if alreadySeen=true -> duplicate, publishing can be skipped
	Seen(ctx context.Context, id string) (alreadySeen bool, err error)
}

// AlertKey identifies an alert for the broadcast cooldown: one mint, one rule
func AlertKey(a *domain.Alert) string {
	return a.Mint + ":" + string(a.Kind)
}
