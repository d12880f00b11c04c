package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowpbx/flowpbx/internal/config"
	"github.com/flowpbx/flowpbx/internal/dispatcher"
	"github.com/flowpbx/flowpbx/internal/store"
	"github.com/flowpbx/flowpbx/internal/tdoa"
)

type fakeHub struct{}

func (fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {}
func (fakeHub) ClientCount() int                                 { return 0 }

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Listeners: []config.Listener{
			{ID: "A", Pos: config.Point{X: -5, Y: -3}},
			{ID: "B", Pos: config.Point{X: 5, Y: -3}},
			{ID: "C", Pos: config.Point{X: 0, Y: 3.5}},
		},
		RoomBounds:    config.RoomBounds{MinX: -10, MaxX: 10, MinY: -10, MaxY: 10},
		SpeedOfSound:  343,
		ClapThreshold: 10000,
		EventWindowMS: 200,
		SyncWindowMS:  5000,
		SyncRounds:    10,
		CORSOrigins:   "*",
	}

	geo := dispatcher.Geometry{
		ListenerIDs:  cfg.ListenerIDs(),
		SpeedOfSound: cfg.SpeedOfSound,
		Bounds:       tdoa.Bounds{MinX: -12, MaxX: 12, MinY: -12, MaxY: 12},
		Positions:    make(map[string]tdoa.Receiver),
	}
	for _, l := range cfg.Listeners {
		geo.Positions[l.ID] = tdoa.Receiver{X: l.Pos.X, Y: l.Pos.Y}
	}

	d := dispatcher.New(store.New(), geo, cfg.ClapThreshold, cfg.EventWindowMS, cfg.SyncWindowMS, cfg.SyncRounds, nil)
	return NewServer(d, cfg, fakeHub{})
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHandlePacketValidationError(t *testing.T) {
	s := testServer(t)
	rec := postJSON(t, s, "/packet", []rawSample{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePacketUnknownDevice(t *testing.T) {
	s := testServer(t)
	rec := postJSON(t, s, "/packet", []rawSample{{DeviceID: "Z", Timestamp: 0, LoudnessDb: 100}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePacketNoClap(t *testing.T) {
	s := testServer(t)
	rec := postJSON(t, s, "/packet", []rawSample{
		{DeviceID: "A", Timestamp: 0, LoudnessDb: 10},
		{DeviceID: "A", Timestamp: 36, LoudnessDb: 20},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "no_clap" {
		t.Errorf("status field = %v, want no_clap", resp["status"])
	}
}

func TestHandlePacketPendingThenLocalized(t *testing.T) {
	s := testServer(t)

	for _, id := range []string{"A", "B"} {
		rec := postJSON(t, s, "/packet", []rawSample{
			{DeviceID: id, Timestamp: 0, LoudnessDb: 1000},
			{DeviceID: id, Timestamp: 36, LoudnessDb: 20000},
		})
		var resp map[string]any
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp["status"] != "pending" {
			t.Fatalf("status = %v, want pending", resp["status"])
		}
	}

	rec := postJSON(t, s, "/packet", []rawSample{
		{DeviceID: "C", Timestamp: 0, LoudnessDb: 1000},
		{DeviceID: "C", Timestamp: 36, LoudnessDb: 20000},
	})
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "localized" && resp["status"] != "rejected" {
		t.Fatalf("status = %v, want localized or rejected", resp["status"])
	}
}

func TestHandleModeRoundTrip(t *testing.T) {
	s := testServer(t)

	rec := postJSON(t, s, "/mode", map[string]string{"mode": "sync"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/mode", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["mode"] != "sync" {
		t.Errorf("mode = %v, want sync", resp["mode"])
	}
}

func TestHandleModeRejectsUnknown(t *testing.T) {
	s := testServer(t)
	rec := postJSON(t, s, "/mode", map[string]string{"mode": "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleResultsEmpty(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/results", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["count"].(float64) != 0 {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}

func TestHandleStatus(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["mode"] != "localize" {
		t.Errorf("mode = %v, want localize", resp["mode"])
	}
}
