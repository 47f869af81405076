package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"choretracker/internal/chore"
	"choretracker/internal/config"
	"choretracker/internal/storage"
	logx "choretracker/pkg/logx"
)

func newTestServer(t *testing.T) (*Server, *chore.Registry) {
	t.Helper()
	reg := chore.NewRegistry(chore.RegistryDeps{
		Now: func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) },
	})
	reg.Reconcile(context.Background(), map[string]config.ChoreConfigRaw{
		"dishes": {Enabled: true, DisplayName: "Dishes", Interval: "1 week"},
	})
	return NewServer(Config{}, reg, nil, logx.Nop()), reg
}

func doJSON(t *testing.T, h http.Handler, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rr
}

func TestListAndGet(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	var list []chore.View
	rr := doJSON(t, h, http.MethodGet, "/chores", &list)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /chores: %d", rr.Code)
	}
	if len(list) != 1 || list[0].ID != "dishes" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}

	var v chore.View
	rr = doJSON(t, h, http.MethodGet, "/chores/dishes", &v)
	if rr.Code != http.StatusOK || v.DisplayName != "Dishes" {
		t.Fatalf("GET /chores/dishes: %d %+v", rr.Code, v)
	}

	rr = doJSON(t, h, http.MethodGet, "/chores/nope", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET unknown chore: %d, want 404", rr.Code)
	}
}

func TestCompleteAndDue(t *testing.T) {
	s, reg := newTestServer(t)
	h := s.Handler()

	var v chore.View
	rr := doJSON(t, h, http.MethodPost, "/chores/dishes/due", &v)
	if rr.Code != http.StatusOK || !v.Due {
		t.Fatalf("POST due: %d due=%v", rr.Code, v.Due)
	}

	rr = doJSON(t, h, http.MethodPost, "/chores/dishes/complete", &v)
	if rr.Code != http.StatusOK || v.Due {
		t.Fatalf("POST complete: %d due=%v", rr.Code, v.Due)
	}
	want := time.Date(2024, 1, 8, 5, 0, 0, 0, time.UTC)
	if v.NextDue == nil || !v.NextDue.Equal(want) {
		t.Fatalf("next_due %v, want %v", v.NextDue, want)
	}

	c, _ := reg.Get("dishes")
	if snap := c.Snapshot(); snap.State != storage.StateOff {
		t.Fatalf("state %q after complete", snap.State)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	var resp healthResponse
	rr := doJSON(t, s.Handler(), http.MethodGet, "/healthz", &resp)
	if rr.Code != http.StatusOK || resp.Status != "ok" || resp.Chores != 1 {
		t.Fatalf("healthz: %d %+v", rr.Code, resp)
	}
}

func TestMethodRouting(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doJSON(t, s.Handler(), http.MethodDelete, "/chores/dishes", nil)
	if rr.Code == http.StatusOK {
		t.Fatalf("DELETE routed unexpectedly")
	}
}
