package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"marketpulse/internal/dedupe"
	"marketpulse/internal/domain"
	"marketpulse/internal/ledger"
	"marketpulse/internal/metrics"
	"marketpulse/internal/poller"
	"marketpulse/internal/pubsub"
	"marketpulse/internal/signal"
	"marketpulse/internal/stats"
	"marketpulse/internal/stores/clickhouse"

	"gitlab.com/nevasik7/alerting/logger"
)

var (
	ErrInstrumentNotFound = errors.New("instrument not in the working set")
)

// Poller drives the engine; every cycle result is handed to fn
type Poller interface {
	Run(ctx context.Context, fn poller.CycleFunc)
}

// Joiner keeps push subscriptions aligned with the working set
type Joiner interface {
	JoinAll(poolIDs []string) error
}

// HealthCheck is an extra named dependency reported by CheckDependency
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Engine is the only point of orchestration:
// poll → classify against previous generation → commit → ledger → broadcast → archive → join.
// Push updates bypass classification and only refresh the live overlay.
type Engine struct {
	log        logger.Logger
	poller     Poller
	classifier *signal.Classifier
	index      *stats.Index
	ledger     *ledger.Ledger

	// optional
	broadcaster pubsub.Broadcaster
	cooldown    dedupe.Deduper
	archive     clickhouse.AlertArchive
	checks      []HealthCheck

	mu      sync.RWMutex
	joiner  Joiner
	status  Status
	cycleMu sync.Mutex
}

// Status of the last poll cycles, served by readiness
type Status struct {
	Generation  uint64    `json:"generation"`
	CommittedAt time.Time `json:"committed_at,omitempty"`
	Instruments int       `json:"instruments"`
	LastAlerts  int       `json:"last_alerts"`
	LastError   string    `json:"last_error,omitempty"`
	FailedAt    time.Time `json:"failed_at,omitempty"`
}

type Option func(*Engine)

func WithBroadcaster(b pubsub.Broadcaster) Option {
	return func(e *Engine) { e.broadcaster = b }
}

// WithBroadcastCooldown stops re-publishing the same mint+kind while its cooldown holds.
// The ledger still records every alert.
func WithBroadcastCooldown(d dedupe.Deduper) Option {
	return func(e *Engine) { e.cooldown = d }
}

func WithArchive(a clickhouse.AlertArchive) Option {
	return func(e *Engine) { e.archive = a }
}

func WithHealthCheck(name string, check func(ctx context.Context) error) Option {
	return func(e *Engine) { e.checks = append(e.checks, HealthCheck{Name: name, Check: check}) }
}

func NewEngine(
	log logger.Logger,
	p Poller,
	classifier *signal.Classifier,
	index *stats.Index,
	l *ledger.Ledger,
	opts ...Option,
) (*Engine, error) {
	if p == nil {
		return nil, errors.New("poller is required to the engine")
	}
	if classifier == nil {
		return nil, errors.New("classifier is required to the engine")
	}
	if index == nil {
		return nil, errors.New("stats index is required to the engine")
	}
	if l == nil {
		return nil, errors.New("ledger is required to the engine")
	}

	e := &Engine{
		log:        log,
		poller:     p,
		classifier: classifier,
		index:      index,
		ledger:     l,
	}
	for _, o := range opts {
		o(e)
	}

	return e, nil
}

// AttachStream connects the push subscriber once it exists; the subscriber sinks into the engine
func (e *Engine) AttachStream(j Joiner) {
	e.mu.Lock()
	e.joiner = j
	e.mu.Unlock()

	if j == nil {
		return
	}
	if err := j.JoinAll(e.index.Pools()); err != nil {
		e.log.Warnf("Failed to join working set pools on attach, error=%v", err)
	}
}

// Run blocks until ctx is done
func (e *Engine) Run(ctx context.Context) {
	e.log.Infof("Engine started")
	e.poller.Run(ctx, e.RunCycle)
	e.log.Infof("Engine stopped")
}

// RunCycle applies one poll result. A failed poll keeps the last good generation untouched.
func (e *Engine) RunCycle(ctx context.Context, insts []domain.Instrument, pollErr error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if pollErr != nil {
		e.log.Errorf("Poll cycle failed, keeping last generation, error=%v", pollErr)
		e.mu.Lock()
		e.status.LastError = pollErr.Error()
		e.status.FailedAt = time.Now().UTC()
		e.mu.Unlock()
		return
	}

	prev := e.index.Previous()
	alerts := e.classifier.EvaluateCycle(insts, prev)

	e.index.Commit(insts)
	gen, committedAt := e.index.Generation()

	e.ledger.Append(alerts)
	metrics.CycleAlerts.Observe(float64(len(alerts)))

	e.mu.Lock()
	e.status.Generation = gen
	e.status.CommittedAt = committedAt
	e.status.Instruments = e.index.Len()
	e.status.LastAlerts = len(alerts)
	e.status.LastError = ""
	e.status.FailedAt = time.Time{}
	joiner := e.joiner
	e.mu.Unlock()

	e.broadcast(ctx, alerts)

	if e.archive != nil && len(alerts) > 0 {
		if err := e.archive.Write(ctx, alerts); err != nil {
			e.log.Errorf("Failed to archive [%d] alerts, error=%v", len(alerts), err)
		}
	}

	if joiner != nil {
		if err := joiner.JoinAll(e.index.Pools()); err != nil {
			e.log.Warnf("Failed to join pools of generation %d, error=%v", gen, err)
		}
	}

	e.log.Infof("Cycle committed: generation=%d, instruments=%d, alerts=%d", gen, len(insts), len(alerts))
}

// Broadcast errors are not critical: the ledger stays the source of truth
func (e *Engine) broadcast(ctx context.Context, alerts []domain.Alert) {
	if e.broadcaster == nil {
		return
	}

	for i := range alerts {
		a := &alerts[i]
		if e.coolingDown(ctx, a) {
			metrics.PublishTotal.WithLabelValues("suppressed").Inc()
			continue
		}
		if err := e.broadcaster.Publish(ctx, pubsub.AlertSubject(a.Kind), a); err != nil {
			metrics.PublishTotal.WithLabelValues("error").Inc()
			e.log.Errorf("Failed to broadcast alert %s (%s), error=%v", a.ID, a.Kind, err)
			continue
		}
		metrics.PublishTotal.WithLabelValues("ok").Inc()
	}
}

// a failing cooldown store never blocks publishing
func (e *Engine) coolingDown(ctx context.Context, a *domain.Alert) bool {
	if e.cooldown == nil {
		return false
	}

	seen, err := e.cooldown.Seen(ctx, dedupe.AlertKey(a))
	if err != nil {
		e.log.Warnf("Cooldown check failed for %s, publishing anyway, error=%v", dedupe.AlertKey(a), err)
		return false
	}
	return seen
}

// ApplyPriceUpdate routes a push update into the live overlay
func (e *Engine) ApplyPriceUpdate(upd domain.PriceUpdate) {
	e.index.Augment(upd)
}

// Alerts returns the ledger contents, highest priority first
func (e *Engine) Alerts() []domain.Alert {
	return e.ledger.List()
}

func (e *Engine) Instruments() []domain.InstrumentView {
	return e.index.Views()
}

func (e *Engine) Instrument(mint string) (domain.InstrumentView, error) {
	v, ok := e.index.View(mint)
	if !ok {
		return domain.InstrumentView{}, ErrInstrumentNotFound
	}
	return v, nil
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

func (e *Engine) CheckDependency(ctx context.Context) error {
	errDependency := make([]string, 0, len(e.checks)+2)

	if e.broadcaster != nil {
		if err := e.broadcaster.Health(ctx); err != nil {
			errDependency = append(errDependency, fmt.Sprintf("NATS connection error: %v", err))
		}
	}

	if e.archive != nil {
		if err := e.archive.Health(ctx); err != nil {
			errDependency = append(errDependency, fmt.Sprintf("ClickHouse connection error: %v", err))
		}
	}

	for _, c := range e.checks {
		if err := c.Check(ctx); err != nil {
			errDependency = append(errDependency, fmt.Sprintf("%s connection error: %v", c.Name, err))
		}
	}

	if len(errDependency) > 0 {
		return fmt.Errorf("dependency check failed: %v", strings.Join(errDependency, "; "))
	}

	e.log.Debugf("All dependency check passed")
	return nil
}
