package dispatcher

import (
	"math"
	"testing"
	"time"

	"github.com/flowpbx/flowpbx/internal/onset"
	"github.com/flowpbx/flowpbx/internal/store"
	"github.com/flowpbx/flowpbx/internal/tdoa"
)

const speedOfSound = 343.0

var testIDs = []string{"A", "B", "C"}

var testPositions = map[string]tdoa.Receiver{
	"A": {X: -5, Y: -3},
	"B": {X: 5, Y: -3},
	"C": {X: 0, Y: 3.5},
}

func testGeometry() Geometry {
	return Geometry{
		ListenerIDs:  testIDs,
		Positions:    testPositions,
		SpeedOfSound: speedOfSound,
		Bounds:       tdoa.Bounds{MinX: -12, MaxX: 12, MinY: -12, MaxY: 12},
	}
}

type fakePublisher struct {
	published []store.Event
}

func (f *fakePublisher) Publish(e store.Event) {
	f.published = append(f.published, e)
}

func newTestDispatcher() (*Dispatcher, *fakePublisher) {
	st := store.New()
	pub := &fakePublisher{}
	d := New(st, testGeometry(), 10000, 200, 5000, 10, pub)
	return d, pub
}

func samplesFor(id string, onsetTS float64) []onset.Sample {
	return []onset.Sample{
		{ListenerID: id, TimestampMS: onsetTS - 36, Loudness: 1000},
		{ListenerID: id, TimestampMS: onsetTS, Loudness: 20000},
	}
}

func TestDispatchNoClap(t *testing.T) {
	d, _ := newTestDispatcher()
	s := []onset.Sample{
		{ListenerID: "A", TimestampMS: 0, Loudness: 10},
		{ListenerID: "A", TimestampMS: 36, Loudness: 20},
	}
	out := d.Dispatch(s)
	if out.Status != StatusNoClap {
		t.Errorf("Status = %v, want no_clap", out.Status)
	}
}

func TestDispatchSyncFlowToLocalize(t *testing.T) {
	d, _ := newTestDispatcher()
	d.SetMode(store.ModeSync)

	drift := map[string]float64{"A": 15, "B": -8, "C": 0}
	var last Outcome
	for round := 0; round < 10; round++ {
		t0 := float64(round * 1000)
		for _, id := range testIDs {
			last = d.Dispatch(samplesFor(id, t0+drift[id]))
		}
	}

	if last.Status != StatusComplete {
		t.Fatalf("final status = %v, want complete", last.Status)
	}
	if last.Mode != store.ModeLocalize {
		t.Errorf("mode after sync completion = %v, want localize", last.Mode)
	}
	if math.Abs(last.Offsets["A"]-(-23)) > 1e-9 {
		t.Errorf("A offset = %v, want -23", last.Offsets["A"])
	}
}

func TestDispatchLocalizePendingThenLocalized(t *testing.T) {
	d, pub := newTestDispatcher()

	out := d.Dispatch(samplesFor("A", 100))
	if out.Status != StatusPending {
		t.Fatalf("status after first packet = %v, want pending", out.Status)
	}

	out = d.Dispatch(samplesFor("B", 100))
	if out.Status != StatusPending {
		t.Fatalf("status after second packet = %v, want pending", out.Status)
	}

	out = d.Dispatch(samplesFor("C", 100))
	if out.Status != StatusLocalized {
		t.Fatalf("status after third packet = %v, want localized", out.Status)
	}
	if out.Event.Position == nil {
		t.Fatal("expected non-nil position for a coincident-arrival source")
	}
	// All three listeners equidistant-ish from origin is not exact, but a
	// simultaneous arrival at all three should localize near the centroid
	// region rather than being rejected.
	if len(pub.published) != 1 {
		t.Errorf("expected exactly one published event, got %d", len(pub.published))
	}
}

func TestDispatchLocalizesKnownSource(t *testing.T) {
	d, _ := newTestDispatcher()

	srcX, srcY := 5.0, 5.0
	for _, id := range testIDs {
		pos := testPositions[id]
		dx, dy := srcX-pos.X, srcY-pos.Y
		dist := math.Sqrt(dx*dx + dy*dy)
		ts := dist / speedOfSound * 1000
		d.Dispatch(samplesFor(id, ts))
	}

	events := collectEvents(d)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Position == nil {
		t.Fatal("expected localized position")
	}
	gotDist := math.Sqrt(math.Pow(e.Position.X-srcX, 2) + math.Pow(e.Position.Y-srcY, 2))
	if gotDist > 0.1 {
		t.Errorf("localized position off by %v m, want < 0.1", gotDist)
	}
	if e.Residual > 0.01 {
		t.Errorf("residual = %v, want < 0.01", e.Residual)
	}
}

func TestDispatchRejectsOutOfRoomSource(t *testing.T) {
	d, _ := newTestDispatcher()

	srcX, srcY := 100.0, 100.0
	for _, id := range testIDs {
		pos := testPositions[id]
		dx, dy := srcX-pos.X, srcY-pos.Y
		dist := math.Sqrt(dx*dx + dy*dy)
		ts := dist / speedOfSound * 1000
		d.Dispatch(samplesFor(id, ts))
	}

	events := collectEvents(d)
	if len(events) != 1 {
		t.Fatalf("expected 1 event (committed with null position), got %d", len(events))
	}
	if events[0].Position != nil {
		t.Error("expected nil position for out-of-room source")
	}
}

func TestDispatchStaleEvictionPreventsEvent(t *testing.T) {
	d, _ := newTestDispatcher()
	now := time.Unix(0, 0)
	d.SetNowFunc(func() time.Time { return now })

	d.Dispatch(samplesFor("A", 0))
	d.Dispatch(samplesFor("B", 0))

	now = now.Add(10*200*time.Millisecond + time.Millisecond)
	out := d.Dispatch(samplesFor("C", 0))

	if out.Status != StatusPending {
		t.Fatalf("status = %v, want pending (A/B evicted as stale)", out.Status)
	}
	if d.PendingDepth() != 1 {
		t.Errorf("PendingDepth() = %d, want 1 (only C remains)", d.PendingDepth())
	}
}

func collectEvents(d *Dispatcher) []store.Event {
	return d.store.Events()
}
