package clickhouse

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/metrics"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"gitlab.com/nevasik7/alerting/logger"
)

var (
	ErrWriterClosed = errors.New("clickhouse writer closed")
	ErrBufferFull   = errors.New("clickhouse writer buffer full")
)

// AlertArchive is the write-only history of emitted alerts
type AlertArchive interface {
	Write(ctx context.Context, alerts []domain.Alert) error
	Health(ctx context.Context) error
}

type AlertRow struct {
	AlertID    string
	Kind       string
	Category   string
	Mint       string
	Symbol     string
	Priority   float64
	Message    string
	Inputs     string // JSON of the raw rule inputs
	EmittedAt  time.Time
	InstanceID string
}

func ToRow(a *domain.Alert, instanceID string) AlertRow {
	inputs := "{}"
	if len(a.Inputs) > 0 {
		if b, err := json.Marshal(a.Inputs); err == nil {
			inputs = string(b)
		}
	}

	return AlertRow{
		AlertID:    a.ID,
		Kind:       string(a.Kind),
		Category:   a.Category,
		Mint:       a.Mint,
		Symbol:     a.Symbol,
		Priority:   a.Priority,
		Message:    a.Message,
		Inputs:     inputs,
		EmittedAt:  a.Timestamp.UTC(),
		InstanceID: instanceID,
	}
}

type Writer struct {
	log logger.Logger

	conn       ch.Conn
	cfg        config.ClickHouseWriterConfig
	instanceID string

	inCh      chan AlertRow
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(log logger.Logger, conn ch.Conn, cfg config.ClickHouseWriterConfig, instanceID string) (*Writer, error) {
	if conn == nil {
		return nil, errors.New("clickhouse conn is required to the alert writer")
	}

	// sane defaults
	if cfg.BatchMaxRows <= 0 {
		cfg.BatchMaxRows = 500
	}
	if cfg.BatchMaxInterval <= 0 {
		cfg.BatchMaxInterval = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:        log,
		conn:       conn,
		cfg:        cfg,
		instanceID: instanceID,
		inCh:       make(chan AlertRow, 4*cfg.BatchMaxRows),
		closedCh:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Write never blocks the poll cycle: rows that do not fit the buffer are dropped
func (w *Writer) Write(_ context.Context, alerts []domain.Alert) error {
	var dropped int
	for i := range alerts {
		if err := w.Enqueue(ToRow(&alerts[i], w.instanceID)); err != nil {
			if errors.Is(err, ErrWriterClosed) {
				return err
			}
			dropped++
		}
	}

	if dropped > 0 {
		metrics.ArchiveRows.WithLabelValues("dropped").Add(float64(dropped))
		return ErrBufferFull
	}
	return nil
}

func (w *Writer) Enqueue(row AlertRow) error {
	select {
	case <-w.closedCh:
		return ErrWriterClosed
	default:
	}

	select {
	case w.inCh <- row:
		return nil
	case <-w.closedCh:
		return ErrWriterClosed
	default:
		return ErrBufferFull
	}
}

func (w *Writer) Health(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

// Close flushes whatever is buffered; it is safe to call more than once
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]AlertRow, 0, w.cfg.BatchMaxRows)
	ticker := time.NewTicker(w.cfg.BatchMaxInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		if err := w.insertBatch(context.Background(), batch); err != nil {
			metrics.ArchiveRows.WithLabelValues("error").Add(float64(len(batch)))
			w.log.Errorf("Failed insert [%d] alert rows by batch to clickhouse, error=%v", len(batch), err)
		} else {
			metrics.ArchiveRows.WithLabelValues("ok").Add(float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case row := <-w.inCh:
			batch = append(batch, row)
			if len(batch) >= w.cfg.BatchMaxRows {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.closedCh:
			for {
				select {
				case row := <-w.inCh:
					batch = append(batch, row)
					if len(batch) >= w.cfg.BatchMaxRows {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

const insertAlerts = `
	INSERT INTO alerts (
		alert_id,
		kind,
		category,
		mint,
		symbol,
		priority,
		message,
		inputs,
		emitted_at,
		instance_id
	)
`

func (w *Writer) insertBatch(ctx context.Context, rows []AlertRow) error {
	if len(rows) == 0 {
		return nil
	}

	// repeat with exponential delay
	backoff := w.cfg.RetryBackoff

	var lastErr error

	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if lastErr = w.send(ctx, rows); lastErr == nil {
			return nil
		}

		if attempt == w.cfg.MaxRetries {
			break
		}
		w.log.Warnf("Retry alert batch insert, attempt=%d, error=%v", attempt+1, lastErr)
		time.Sleep(backoff)
		backoff *= 2
	}

	return lastErr
}

func (w *Writer) send(ctx context.Context, rows []AlertRow) error {
	batch, err := w.conn.PrepareBatch(ctx, insertAlerts)
	if err != nil {
		return err
	}

	for i := range rows {
		r := &rows[i]
		if err = batch.Append(
			r.AlertID,
			r.Kind,
			r.Category,
			r.Mint,
			r.Symbol,
			r.Priority,
			r.Message,
			r.Inputs,
			r.EmittedAt,
			r.InstanceID,
		); err != nil {
			_ = batch.Abort()
			return err
		}
	}

	return batch.Send()
}
