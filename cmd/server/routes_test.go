package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiliankoe/quipdash/internal/game"
	"github.com/kiliankoe/quipdash/internal/pack"
)

type fakeArchive struct {
	results []game.Result
	err     error
}

func (f *fakeArchive) CountGames(context.Context) (int, error) { return len(f.results), f.err }

func (f *fakeArchive) RecentGames(_ context.Context, limit int) ([]game.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}

func testRouter(t *testing.T, a archive) routerDeps {
	t.Helper()
	packs, err := pack.Builtin()
	if err != nil {
		t.Fatalf("builtin packs: %v", err)
	}
	return routerDeps{
		Registry: game.NewRegistry(),
		Packs:    packs,
		Archive:  a,
		Version:  "test",
		Started:  time.Now().Add(-time.Minute),
	}
}

func get(t *testing.T, d routerDeps, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := newRouter(d)
	mountStatic(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return w, body
}

func TestHealth(t *testing.T) {
	w, body := get(t, testRouter(t, nil), "/health")
	if w.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health = %d %v", w.Code, body)
	}
}

func TestStats(t *testing.T) {
	w, body := get(t, testRouter(t, nil), "/api/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["ongoingGames"] != float64(0) || body["version"] != "test" {
		t.Fatalf("stats = %v", body)
	}
	if _, ok := body["gamesPlayed"]; ok {
		t.Fatalf("gamesPlayed reported without an archive")
	}
	if up, _ := body["uptimeSeconds"].(float64); up < 59 {
		t.Fatalf("uptime = %v", body["uptimeSeconds"])
	}

	a := &fakeArchive{results: make([]game.Result, 3)}
	_, body = get(t, testRouter(t, a), "/api/stats")
	if body["gamesPlayed"] != float64(3) {
		t.Fatalf("gamesPlayed = %v", body["gamesPlayed"])
	}

	w, _ = get(t, testRouter(t, &fakeArchive{err: errors.New("locked")}), "/api/stats")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestPacksEndpoint(t *testing.T) {
	w, body := get(t, testRouter(t, nil), "/api/packs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list, _ := body["packs"].([]any)
	if len(list) == 0 {
		t.Fatalf("packs = %v", body)
	}
	first, _ := list[0].(map[string]any)
	if first["name"] != "Default" || first["prompts"].(float64) <= 0 {
		t.Fatalf("first pack = %v", first)
	}
}

func TestGamesEndpoint(t *testing.T) {
	w, body := get(t, testRouter(t, nil), "/api/games")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if list, ok := body["games"].([]any); !ok || len(list) != 0 {
		t.Fatalf("games = %v", body)
	}
}

func TestRecentGames(t *testing.T) {
	w, _ := get(t, testRouter(t, nil), "/api/games/recent")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status without archive = %d", w.Code)
	}

	a := &fakeArchive{results: []game.Result{{Number: 2, Pack: "Default"}, {Number: 1, Pack: "Default"}}}
	w, body := get(t, testRouter(t, a), "/api/games/recent?limit=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list, _ := body["games"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["number"] != float64(2) {
		t.Fatalf("games = %v", body)
	}

	w, _ = get(t, testRouter(t, a), "/api/games/recent?limit=abc")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestClientIsServed(t *testing.T) {
	w, _ := get(t, testRouter(t, nil), "/")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<title>Quipdash</title>") {
		t.Fatalf("index = %d %q", w.Code, w.Body.String())
	}
	w, _ = get(t, testRouter(t, nil), "/app.js")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "chat:identify") {
		t.Fatalf("app.js = %d", w.Code)
	}
}
