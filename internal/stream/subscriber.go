package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/metrics"

	"github.com/gorilla/websocket"
	"gitlab.com/nevasik7/alerting/logger"
)

var ErrAlreadyStarted = errors.New("subscriber already started")

// Sink receives decoded push updates
type Sink interface {
	ApplyPriceUpdate(upd domain.PriceUpdate)
}

// Subscriber owns one long-lived push connection with auto-reconnect.
// The subscription set survives reconnects and is replayed on every new connection.
type Subscriber struct {
	log          logger.Logger
	url          string
	reconnect    time.Duration
	writeTimeout time.Duration
	readLimit    int64
	dialer       *websocket.Dialer
	sink         Sink
	now          func() time.Time

	// mu guards conn, the subscription set and every write on conn
	mu     sync.Mutex
	conn   *websocket.Conn
	joined map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSubscriber(log logger.Logger, cfg *config.StreamConfig, sink Sink) (*Subscriber, error) {
	if cfg == nil {
		return nil, errors.New("stream config is required to the subscriber")
	}
	if cfg.URL == "" {
		return nil, errors.New("stream url is required to the subscriber")
	}
	if sink == nil {
		return nil, errors.New("sink is required to the subscriber")
	}

	s := &Subscriber{
		log:          log,
		url:          cfg.URL,
		reconnect:    cfg.ReconnectInterval,
		writeTimeout: cfg.WriteTimeout,
		readLimit:    cfg.ReadLimitBytes,
		sink:         sink,
		now:          time.Now,
		joined:       make(map[string]struct{}),
	}

	// sane defaults
	if s.reconnect <= 0 {
		s.reconnect = 2 * time.Second
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 5 * time.Second
	}
	if s.readLimit <= 0 {
		s.readLimit = 1 << 20
	}
	s.dialer = &websocket.Dialer{HandshakeTimeout: s.writeTimeout}

	return s, nil
}

// Start launches the connect/read loop; it returns immediately
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)

	s.log.Infof("Stream subscriber started, url=%s", s.url)
	return nil
}

// Stop tears the connection down and clears the subscription set
func (s *Subscriber) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	if cancel == nil {
		s.mu.Unlock()
		return
	}
	s.cancel, s.done = nil, nil

	// cancel under mu so attach can't publish a conn nobody would close
	cancel()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	s.joined = make(map[string]struct{})
	s.mu.Unlock()

	s.log.Infof("Stream subscriber stopped")
}

// Join subscribes to a pool exactly once. While disconnected the id is only recorded
// and goes out with the replay on the next connection.
func (s *Subscriber) Join(poolID string) error {
	if poolID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.joined[poolID]; ok {
		return nil
	}
	s.joined[poolID] = struct{}{}

	if s.conn == nil {
		return nil
	}
	if err := s.writeLocked(s.conn, joinFrame(poolID)); err != nil {
		// the read loop sees the broken conn as well and the replay covers this id
		return fmt.Errorf("join %s: %w", poolID, err)
	}
	return nil
}

// JoinAll joins every id, returning the first write error
func (s *Subscriber) JoinAll(poolIDs []string) error {
	var first error
	for _, id := range poolIDs {
		if err := s.Join(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Joined returns the subscription set, sorted
func (s *Subscriber) Joined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.joined))
	for id := range s.joined {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Subscriber) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Subscriber) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warnf("Stream dial error: %v, retrying in %v", err, s.reconnect)
			if !s.sleep(ctx) {
				return
			}
			continue
		}
		conn.SetReadLimit(s.readLimit)

		if err = s.attach(ctx, conn); err != nil {
			s.log.Warnf("Stream rejoin failed: %v", err)
			_ = conn.Close()
			if !s.sleep(ctx) {
				return
			}
			continue
		}
		metrics.StreamReconnects.Inc()

		err = s.readLoop(conn)
		s.detach(conn)

		if ctx.Err() != nil {
			return
		}
		s.log.Warnf("Stream connection lost: %v, reconnecting in %v", err, s.reconnect)
		if !s.sleep(ctx) {
			return
		}
	}
}

// attach publishes conn and replays the whole subscription set on it
func (s *Subscriber) attach(ctx context.Context, conn *websocket.Conn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stop may have run between dial and attach
	if ctx.Err() != nil {
		return ctx.Err()
	}

	ids := make([]string, 0, len(s.joined))
	for id := range s.joined {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := s.writeLocked(conn, joinFrame(id)); err != nil {
			return fmt.Errorf("rejoin %s: %w", id, err)
		}
	}

	s.conn = conn
	s.log.Infof("Stream connected, rejoined %d pools", len(ids))
	return nil
}

func (s *Subscriber) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Subscriber) writeLocked(conn *websocket.Conn, f outFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteJSON(f); err != nil {
		return err
	}
	metrics.StreamFrames.WithLabelValues("out", f.Type).Inc()
	return nil
}

func (s *Subscriber) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		upd, typ, ok, err := ParseFrame(raw, s.now())
		if err != nil {
			metrics.StreamFrames.WithLabelValues("in", "malformed").Inc()
			s.log.Warnf("Drop stream frame: %v", err)
			continue
		}
		if !ok {
			metrics.StreamFrames.WithLabelValues("in", "other").Inc()
			s.log.Debugf("Ignore stream frame type=%q", typ)
			continue
		}
		metrics.StreamFrames.WithLabelValues("in", frameMessage).Inc()

		s.sink.ApplyPriceUpdate(upd)
	}
}

func (s *Subscriber) sleep(ctx context.Context) bool {
	t := time.NewTimer(s.reconnect)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
