package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mistborn/internal/allomancy"
	"github.com/annel0/mistborn/internal/auth"
	"github.com/annel0/mistborn/internal/damage"
	"github.com/annel0/mistborn/internal/logging"
	"github.com/annel0/mistborn/internal/replication"
	"github.com/annel0/mistborn/internal/sim"
)

type fakeSim struct {
	mu       sync.Mutex
	entities map[uint64]sim.Snapshot
	commands []sim.Command
	full     bool
	hits     []damage.Kind
}

func (f *fakeSim) Snapshot(id uint64) (sim.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.entities[id]
	return s, ok
}

func (f *fakeSim) Submit(cmd sim.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.commands = append(f.commands, cmd)
	return true
}

func (f *fakeSim) ApplyDamage(_ context.Context, victim, _ uint64, amount float64, kind damage.Kind) (damage.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entities[victim]; !ok {
		return damage.Result{}, sim.ErrEntityNotFound
	}
	f.hits = append(f.hits, kind)
	return damage.Result{Amount: amount, Died: amount >= 20}, nil
}

func (f *fakeSim) Tick() uint64 { return 42 }

type fakeViews map[uint64]replication.View

func (v fakeViews) View(_ context.Context, id uint64) (replication.View, bool, error) {
	view, ok := v[id]
	return view, ok, nil
}

type fixture struct {
	server *RestServer
	sim    *fakeSim
	tokens *auth.TokenIssuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := auth.NewTokenIssuer(bytes.Repeat([]byte("k"), 32), 0)
	require.NoError(t, err)

	fs := &fakeSim{entities: map[uint64]sim.Snapshot{
		7: {EntityID: 7, PlayerID: 100, Health: 20, MaxHP: 20},
	}}
	reg := prometheus.NewRegistry()
	rs := NewRestServer(Config{
		Version:    "test",
		Sim:        fs,
		Views:      fakeViews{7: {EntityID: 7, SourceRegion: "eu-1", Tick: 5}},
		Tokens:     tokens,
		Registerer: reg,
		Gatherer:   reg,
		Logger:     logging.NewWriterLogger("api", io.Discard, logging.ERROR),
	})
	return &fixture{server: rs, sim: fs, tokens: tokens}
}

func (f *fixture) token(t *testing.T, admin bool) string {
	t.Helper()
	tok, err := f.tokens.Generate("vin", admin)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var resp GenericResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestHealthWithoutToken(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"), "trace-id должен выставляться")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", "", nil)
	rec, _ := f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rest_api_http_request_duration_seconds")
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodGet, "/api/server", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = f.do(t, http.MethodGet, "/api/server", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerInfo(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/api/server", f.token(t, false), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "test", data["version"])
	assert.EqualValues(t, 42, data["tick"])
}

func TestGetAllomancy(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, false)

	rec, resp := f.do(t, http.MethodGet, "/api/entities/7/allomancy", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 7, data["entity_id"])

	rec, _ = f.do(t, http.MethodGet, "/api/entities/8/allomancy", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/entities/abc/allomancy", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetView(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, false)

	rec, _ := f.do(t, http.MethodGet, "/api/views/7", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/views/9", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodPost, "/api/admin/entities/7/lerasium", f.token(t, false), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.sim.commands, "команда не должна попасть в очередь")
}

func TestAdminPowerCommands(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, true)

	rec, _ := f.do(t, http.MethodPost, "/api/admin/entities/7/powers/steel", tok, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/admin/entities/7/powers/15", tok, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/admin/entities/7/lerasium", tok, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.sim.commands, 3)
	assert.Equal(t, sim.GrantPower(7, allomancy.Steel), f.sim.commands[0])
	assert.Equal(t, sim.RevokePower(7, allomancy.Iron), f.sim.commands[1])
	assert.Equal(t, sim.GrantAllPowers(7), f.sim.commands[2])
}

func TestAdminRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, true)

	rec, _ := f.do(t, http.MethodPost, "/api/admin/entities/7/powers/lerasium", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "неизвестный металл")

	rec, _ = f.do(t, http.MethodPost, "/api/admin/entities/7/powers/16", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "индекс вне диапазона")

	rec, _ = f.do(t, http.MethodPost, "/api/admin/entities/7/powers/4294967309", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "индекс за пределами int32 не усекается до стали")

	rec, _ = f.do(t, http.MethodDelete, "/api/admin/entities/7/powers/-4294967283", tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/admin/entities/8/powers/tin", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/admin/entities/7/reserves/tin", tok, map[string]float64{"amount": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.sim.commands)
}

func TestAdminFeedReserve(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodPost, "/api/admin/entities/7/reserves/pewter", f.token(t, true), map[string]float64{"amount": 2.5})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.sim.commands, 1)
	assert.Equal(t, sim.FeedReserve(7, allomancy.Pewter, 2.5), f.sim.commands[0])
}

func TestAdminQueueFull(t *testing.T) {
	f := newFixture(t)
	f.sim.full = true
	rec, _ := f.do(t, http.MethodPost, "/api/admin/entities/7/lerasium", f.token(t, true), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminDamage(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, true)

	rec, resp := f.do(t, http.MethodPost, "/api/admin/entities/7/damage", tok, DamageRequest{Amount: 25, Kind: "generic"})
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["Died"])
	assert.Equal(t, []damage.Kind{damage.KindGeneric}, f.sim.hits)

	rec, _ = f.do(t, http.MethodPost, "/api/admin/entities/9/damage", tok, DamageRequest{Amount: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
