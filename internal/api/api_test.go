package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/energizer-project/realmcore/internal/config"
	"github.com/energizer-project/realmcore/internal/db"
	"github.com/energizer-project/realmcore/internal/events"
	intnet "github.com/energizer-project/realmcore/internal/network"
	"github.com/energizer-project/realmcore/internal/region"
)

type fakeRegions struct{}

func (fakeRegions) Snapshot(id uint16, withActors bool) (*region.Snapshot, error) {
	if id != 1 {
		return nil, region.ErrUnknownRegion
	}
	snap := &region.Snapshot{RegionID: 1, Name: "Albion", Players: 1}
	if withActors {
		snap.ActorList = []region.ActorInfo{{ID: 7, Name: "Player1"}}
	}
	return snap, nil
}

func (r fakeRegions) Snapshots() []*region.Snapshot {
	snap, _ := r.Snapshot(1, false)
	return []*region.Snapshot{snap}
}

func (fakeRegions) Effects(id uint16, actorID uint32) (*region.EffectList, error) {
	if id != 1 {
		return nil, region.ErrUnknownRegion
	}
	return &region.EffectList{ActorID: actorID, Found: actorID == 7}, nil
}

type fakeSessions struct{}

func (fakeSessions) Infos() []intnet.SessionInfo {
	return []intnet.SessionInfo{{Token: 1, ActorID: 7, RegionID: 1}}
}
func (fakeSessions) Count() int { return 1 }

type fakeLag struct{}

func (fakeLag) AllRegionData() map[uint16]*region.RegionLagData {
	return map[uint16]*region.RegionLagData{
		2: {RegionID: 2, TotalEvents: 1},
		1: {RegionID: 1, TotalEvents: 4},
	}
}

type fakeJournal struct{}

func (fakeJournal) RecentCombat(context.Context, int) ([]db.CombatEntry, error) {
	return []db.CombatEntry{{RegionID: 1, Damage: 40, Outcome: "hit"}}, nil
}

func (fakeJournal) RecentSecurity(context.Context, int) ([]db.SecurityEntry, error) {
	return nil, nil
}

func newTestServer(t *testing.T, security config.SecurityConfig, journal CombatLog) (*Server, *events.EventBus) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ApplicationData.Security = security
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	return NewServer(cfg, bus, fakeRegions{}, fakeSessions{}, fakeLag{}, journal), bus
}

func get(t *testing.T, s *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPublicPingNeedsNoAuth(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, config.SecurityConfig{APIToken: "secret"}, nil)

	rec := get(t, s, "/api/public/ping", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"realmcore"`) {
		t.Fatalf("expected service name in body, got %s", rec.Body.String())
	}
}

func TestMonitorRequiresBearerToken(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, config.SecurityConfig{APIToken: "secret"}, nil)

	tests := []struct {
		token string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusUnauthorized},
		{"secret", http.StatusOK},
	}
	for _, tt := range tests {
		if rec := get(t, s, "/api/monitor/sessions", tt.token); rec.Code != tt.want {
			t.Fatalf("token %q: expected %d, got %d", tt.token, tt.want, rec.Code)
		}
	}

	if rec := get(t, s, "/api/monitor/sessions?token=secret", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected query token to be accepted, got %d", rec.Code)
	}
}

func TestEmptyConfiguredTokenRejectsAll(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, config.SecurityConfig{}, nil)
	if rec := get(t, s, "/api/monitor/regions", "anything"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRegionRoutes(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, config.SecurityConfig{AuthDisabled: true}, nil)

	rec := get(t, s, "/api/monitor/regions/1?actors=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap region.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("expected JSON snapshot, got %v", err)
	}
	if snap.Name != "Albion" || len(snap.ActorList) != 1 {
		t.Fatalf("expected Albion with one actor, got %+v", snap)
	}

	if rec := get(t, s, "/api/monitor/regions/9", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown region, got %d", rec.Code)
	}
	if rec := get(t, s, "/api/monitor/regions/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", rec.Code)
	}
	if rec := get(t, s, "/api/monitor/regions/1/actors/7/effects", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for effects, got %d", rec.Code)
	}
	if rec := get(t, s, "/api/monitor/regions/1/actors/8/effects", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing actor, got %d", rec.Code)
	}
}

func TestLagIsSortedByRegion(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, config.SecurityConfig{AuthDisabled: true}, nil)

	rec := get(t, s, "/api/monitor/lag", "")
	var body struct {
		Regions []region.RegionLagData `json:"regions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON, got %v", err)
	}
	if len(body.Regions) != 2 || body.Regions[0].RegionID != 1 {
		t.Fatalf("expected regions 1 then 2, got %+v", body.Regions)
	}
}

func TestCombatNeedsJournal(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, config.SecurityConfig{AuthDisabled: true}, nil)
	if rec := get(t, s, "/api/monitor/combat", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without journal, got %d", rec.Code)
	}

	s, _ = newTestServer(t, config.SecurityConfig{AuthDisabled: true}, fakeJournal{})
	rec := get(t, s, "/api/monitor/combat?limit=5", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("expected one combat entry, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimiterRefills(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if rl.allow("a") {
		t.Fatalf("expected third request to be limited")
	}
	if !rl.allow("b") {
		t.Fatalf("expected other clients to be unaffected")
	}
	now = now.Add(time.Second)
	if !rl.allow("a") {
		t.Fatalf("expected a token after one second")
	}
}

func TestStreamForwardsBusEvents(t *testing.T) {
	t.Parallel()
	s, bus := newTestServer(t, config.SecurityConfig{AuthDisabled: true}, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/monitor/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to open websocket: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		resp.Body.Close()
	})

	deadline := time.Now().Add(2 * time.Second)
	for s.stream.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected stream client to register")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.EmitSync(context.Background(), events.Event{
		Type:    events.EventLongTick,
		Source:  "region",
		Payload: events.LongTickPayload{RegionID: 1, Tick: 42},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read stream message: %v", err)
	}
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("expected JSON message, got %v", err)
	}
	if msg.Type != string(events.EventLongTick) {
		t.Fatalf("expected long_tick, got %s", msg.Type)
	}
}
