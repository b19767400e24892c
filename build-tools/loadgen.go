//go:build ignore

// Run: go run ./build-tools/loadgen.go -addr :8090 -rps 50 -duration 60s
// then start the engine with stream.enabled=true and STREAM_URL=ws://localhost:8090/ws

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	mrand "math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type joinFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type priceFrame struct {
	Type string    `json:"type"`
	Data priceData `json:"data"`
}

type priceData struct {
	PoolID    string  `json:"poolId"`
	Price     any     `json:"price"` // bare number or {"usd": n}, both are accepted
	MarketCap float64 `json:"marketCap"`
}

// feed is one subscriber connection and the pools it joined
type feed struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	pools  map[string]float64 // pool -> last price
	closed bool
}

type hub struct {
	mu    sync.Mutex
	feeds map[*feed]struct{}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func main() {
	var (
		addr     = flag.String("addr", ":8090", "listen address")
		rps      = flag.Int("rps", 50, "price frames per second per connection")
		duration = flag.Duration("duration", 60*time.Second, "how long to run")
	)
	flag.Parse()

	if *rps <= 0 {
		fmt.Println("rps must be positive")
		os.Exit(1)
	}

	h := &hub{feeds: make(map[*feed]struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serve)
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("listen error: %v\n", err)
			os.Exit(1)
		}
	}()

	fmt.Printf("loadgen → addr=%s rps=%d duration=%s\n", *addr, *rps, duration.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	end := time.Now().Add(*duration)

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	perTick := float64(*rps) / 10.0 // 10 ticks in sec
	accum := 0.0

loop:
	for {
		select {
		case <-ctx.Done():
			fmt.Println("signal received, stopping…")
			break loop
		case now := <-tick.C:
			if now.After(end) {
				break loop
			}

			accum += perTick
			batch := int(math.Floor(accum))
			if batch <= 0 {
				continue
			}
			accum -= float64(batch)

			for _, f := range h.snapshot() {
				for i := 0; i < batch; i++ {
					f.push()
				}
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	fmt.Println("done")
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("upgrade error: %v\n", err)
		return
	}

	f := &feed{conn: conn, pools: make(map[string]float64)}
	h.mu.Lock()
	h.feeds[f] = struct{}{}
	h.mu.Unlock()
	fmt.Printf("subscriber connected from %s\n", r.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.feeds, f)
		h.mu.Unlock()
		f.close()
	}()

	for {
		var jf joinFrame
		if err = conn.ReadJSON(&jf); err != nil {
			return
		}
		if jf.Type != "join" || !strings.HasPrefix(jf.Room, "pool:") {
			continue
		}

		pool := strings.TrimPrefix(jf.Room, "pool:")
		f.mu.Lock()
		if _, ok := f.pools[pool]; !ok {
			f.pools[pool] = 0.5 + mrand.Float64()*10
		}
		f.mu.Unlock()
	}
}

func (h *hub) snapshot() []*feed {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*feed, 0, len(h.feeds))
	for f := range h.feeds {
		out = append(out, f)
	}
	return out
}

// push random-walks one joined pool and writes its price frame
func (f *feed) push() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || len(f.pools) == 0 {
		return
	}

	pool := randomPool(f.pools)
	price := f.pools[pool] * (1 + (mrand.Float64()-0.5)*0.02)
	f.pools[pool] = price

	var wirePrice any = price
	if mrand.Intn(2) == 0 {
		wirePrice = map[string]float64{"usd": price}
	}

	frame := priceFrame{
		Type: "message",
		Data: priceData{PoolID: pool, Price: wirePrice, MarketCap: price * 1_000_000_000},
	}
	b, _ := json.Marshal(frame)

	_ = f.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := f.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		f.closed = true
	}
}

func (f *feed) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	_ = f.conn.Close()
}

func randomPool(pools map[string]float64) string {
	n := mrand.Intn(len(pools))
	for p := range pools {
		if n == 0 {
			return p
		}
		n--
	}
	return ""
}
