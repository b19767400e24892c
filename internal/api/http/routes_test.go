package http

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketpulse/internal/api/http/handlers"
	"marketpulse/internal/api/http/mw"
	"marketpulse/internal/config"
	"marketpulse/internal/domain"
	"marketpulse/internal/ledger"
	"marketpulse/internal/lookup"
	"marketpulse/internal/poller"
	"marketpulse/internal/service"
	"marketpulse/internal/signal"
	"marketpulse/internal/source/tracker"
	"marketpulse/internal/stats"
	"marketpulse/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idlePoller struct{}

func (idlePoller) Run(context.Context, poller.CycleFunc) {}

type stubSource struct {
	tokenErr error
	solErr   error
}

func (s *stubSource) Wallet(_ context.Context, address string) (json.RawMessage, error) {
	return json.RawMessage(`{"address":"` + address + `"}`), nil
}

func (s *stubSource) WalletTrades(context.Context, string, int) ([]json.RawMessage, error) {
	return []json.RawMessage{json.RawMessage(`{"tx":"1"}`)}, nil
}

func (s *stubSource) TopTraders(context.Context) ([]domain.Trader, error) {
	return []domain.Trader{{Address: "t1", VolumeUSD: 10, WinRate: 50}}, nil
}

func (s *stubSource) Token(context.Context, string) (json.RawMessage, error) {
	if s.tokenErr != nil {
		return nil, s.tokenErr
	}
	return json.RawMessage(`{}`), nil
}

func (s *stubSource) TopHolders(context.Context, string) ([]domain.Holder, error) {
	return []domain.Holder{}, nil
}

func (s *stubSource) SolPrice(context.Context) (domain.SolPrice, error) {
	if s.solErr != nil {
		return domain.SolPrice{}, s.solErr
	}
	return domain.SolPrice{PriceUSD: 150, Change24h: -1.5}, nil
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testAPI struct {
	router http.Handler
	engine *service.Engine
	clock  *testutil.Clock
}

func newTestAPI(t *testing.T, src lookup.Source) *testAPI {
	t.Helper()
	log := testutil.Logger()
	clock := testutil.NewClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	engine, err := service.NewEngine(log, idlePoller{},
		signal.NewClassifier(log, config.DefaultSignal(), signal.WithClock(clock.Now)),
		stats.NewIndex(log), ledger.New(20))
	require.NoError(t, err)

	cfg := &config.Config{Lookup: config.LookupConfig{Debounce: 500 * time.Millisecond}}
	lk, err := lookup.New(log, cfg, src, nil, lookup.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(lk.Close)

	router := BuildRouter(
		handlers.NewHandler(log, engine, lk),
		mw.NewLogging(log),
		mw.NewGzip(0, log),
		nil,
		mw.NewCORSConfig(&config.CORSConfig{}),
	)

	return &testAPI{router: router, engine: engine, clock: clock}
}

func (a *testAPI) get(t *testing.T, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func hotInstrument(mint string) domain.Instrument {
	return domain.Instrument{
		Mint:   mint,
		Symbol: "S" + mint,
		PoolID: "pool-" + mint,
		Stats: domain.StatSet{
			M5: &domain.StatSnapshot{Timeframe: domain.Timeframe5m, Price: 1, PriceChangePct: 5, Volume: domain.Volume{Total: 20_000}},
		},
	}
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, &stubSource{})

	rec, env := api.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", env.Status)
}

func TestReadiness_WarmingUpUntilFirstCommit(t *testing.T) {
	api := newTestAPI(t, &stubSource{})

	rec, env := api.get(t, "/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "warming_up", env.Error.Code)

	api.engine.RunCycle(context.Background(), []domain.Instrument{hotInstrument("a")}, nil)

	rec, _ = api.get(t, "/readiness")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAlerts_ListAndFilter(t *testing.T) {
	api := newTestAPI(t, &stubSource{})
	api.engine.RunCycle(context.Background(), []domain.Instrument{hotInstrument("a"), hotInstrument("b")}, nil)

	rec, env := api.get(t, "/api/alerts")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Alerts []domain.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, domain.KindHotMomentum, body.Alerts[0].Kind)

	_, env = api.get(t, "/api/alerts?kind=momentum&limit=1")
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, 1, body.Count)

	_, env = api.get(t, "/api/alerts?kind=reversal")
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Zero(t, body.Count)

	rec, _ = api.get(t, "/api/alerts?limit=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInstruments(t *testing.T) {
	api := newTestAPI(t, &stubSource{})
	api.engine.RunCycle(context.Background(), []domain.Instrument{hotInstrument("a")}, nil)
	api.engine.ApplyPriceUpdate(domain.PriceUpdate{PoolID: "pool-a", Price: 2})

	rec, env := api.get(t, "/api/instruments")
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Instruments []domain.InstrumentView `json:"instruments"`
		Generation  uint64                  `json:"generation"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Instruments, 1)
	assert.Equal(t, uint64(1), list.Generation)
	require.NotNil(t, list.Instruments[0].Live)
	assert.Equal(t, domain.DirectionUp, list.Instruments[0].Live.Direction)

	rec, _ = api.get(t, "/api/instruments/a")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = api.get(t, "/api/instruments/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}

func TestLookups_DebounceMapsTo429(t *testing.T) {
	api := newTestAPI(t, &stubSource{})

	rec, env := api.get(t, "/api/wallets/w1")
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Value domain.WalletDetail `json:"value"`
		Stale bool                `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "w1", res.Value.Address)
	assert.False(t, res.Stale)

	api.clock.Advance(100 * time.Millisecond)
	rec, env = api.get(t, "/api/tokens/m1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "debounced", env.Error.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	api.clock.Advance(time.Second)
	rec, _ = api.get(t, "/api/tokens/m1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLookups_ErrorMapping(t *testing.T) {
	src := &stubSource{
		tokenErr: &tracker.FetchError{Op: "token", Status: http.StatusNotFound, Err: tracker.ErrNotFound},
		solErr:   &tracker.FetchError{Op: "sol price", Err: errors.New("dial tcp: timeout")},
	}
	api := newTestAPI(t, src)

	rec, env := api.get(t, "/api/tokens/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, env = api.get(t, "/api/sol-price")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "data_unavailable", env.Error.Code)
	assert.Equal(t, "data unavailable", env.Error.Message)
}

func TestTopTraders(t *testing.T) {
	api := newTestAPI(t, &stubSource{})

	rec, env := api.get(t, "/api/traders/top")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fresh", rec.Header().Get("X-Cache-Status"))

	var res struct {
		Value domain.TopTraders `json:"value"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Value.Stats.ActiveTraders)
}

func TestAPI_GzipWhenAccepted(t *testing.T) {
	api := newTestAPI(t, &stubSource{})

	req := httptest.NewRequest(http.MethodGet, "/api/sol-price", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "ok", env.Status)
}

func TestCORS_Preflight(t *testing.T) {
	api := newTestAPI(t, &stubSource{})

	req := httptest.NewRequest(http.MethodOptions, "/api/alerts", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
