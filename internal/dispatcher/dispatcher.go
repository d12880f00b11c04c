// Package dispatcher is the single logical executor that ties the onset
// detector, sync coordinator, pending queue, TDOA solver, and state store
// together into the request/response contract of the localization server.
package dispatcher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flowpbx/flowpbx/internal/clocksync"
	"github.com/flowpbx/flowpbx/internal/correlate"
	"github.com/flowpbx/flowpbx/internal/onset"
	"github.com/flowpbx/flowpbx/internal/store"
	"github.com/flowpbx/flowpbx/internal/tdoa"
)

// EventPublisher receives committed events for fan-out (e.g. the
// WebSocket hub). Publish must not block the dispatcher; implementations
// drop slow subscribers rather than stall commits.
type EventPublisher interface {
	Publish(store.Event)
}

// Outcome tags the result of dispatching one packet. Exactly one of the
// status-specific fields is populated, selected by Status.
type Outcome struct {
	Mode   store.Mode
	Status string

	Message string

	// sync: waiting
	Reported     []string
	Waiting      []string
	Round        int
	TargetRounds int

	// sync: round_complete
	RoundOffsets clocksync.RoundOffsets

	// sync: complete
	Offsets clocksync.Offsets
	StdDevs clocksync.StdDevs
	Rounds  int

	// localize: pending
	ReportedDevices []string
	WaitingFor      []string

	// localize: localized / rejected
	Event store.Event
}

const (
	StatusNoClap        = "no_clap"
	StatusWaiting       = "waiting"
	StatusRoundComplete = "round_complete"
	StatusComplete      = "complete"
	StatusPending       = "pending"
	StatusLocalized     = "localized"
	StatusRejected      = "rejected"
)

// Geometry describes the fixed three-listener layout and room extent the
// dispatcher solves against.
type Geometry struct {
	ListenerIDs  []string
	Positions    map[string]tdoa.Receiver // X,Y populated; TMS ignored
	SpeedOfSound float64
	Bounds       tdoa.Bounds
}

// Dispatcher serializes all state mutations behind a single mutex,
// matching the single-logical-executor model: no operation here suspends
// mid-mutation, so one mutex around the whole Dispatch call provides
// equivalent linearizability to a single-threaded event loop.
type Dispatcher struct {
	mu sync.Mutex

	geometry      Geometry
	clapThreshold float64

	store     *store.Store
	sync      *clocksync.Coordinator
	queue     *correlate.Queue
	publisher EventPublisher

	nowFunc func() time.Time
}

// New constructs a Dispatcher wired to the given store and geometry.
func New(st *store.Store, geo Geometry, clapThreshold, eventWindowMS, syncWindowMS float64, syncRounds int, pub EventPublisher) *Dispatcher {
	return &Dispatcher{
		geometry:      geo,
		clapThreshold: clapThreshold,
		store:         st,
		sync:          clocksync.New(geo.ListenerIDs, syncWindowMS, syncRounds),
		queue:         correlate.New(geo.ListenerIDs, eventWindowMS),
		publisher:     pub,
		nowFunc:       time.Now,
	}
}

// SetMode switches the operating mode, clearing the sync coordinator's
// buffer on either transition and the store's offsets on entry to sync.
func (d *Dispatcher) SetMode(m store.Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store.SetMode(m)
	d.sync.Reset()
}

// Dispatch processes one packet's worth of samples (all sharing a single
// listener id) and returns the outcome to report to the caller.
func (d *Dispatcher) Dispatch(samples []onset.Sample) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	mode := d.store.Mode()

	on, ok := onset.Detect(samples, d.clapThreshold)
	if !ok {
		return Outcome{Mode: mode, Status: StatusNoClap, Message: "no clap detected above threshold"}
	}

	if mode == store.ModeSync {
		return d.dispatchSync(on)
	}
	return d.dispatchLocalize(on)
}

func (d *Dispatcher) dispatchSync(on onset.Onset) Outcome {
	res := d.sync.Accept(on.ListenerID, on.OnsetTSMS)

	if res.FreshSession {
		slog.Info("clocksync: starting fresh sync session")
	}

	switch res.Status {
	case clocksync.StatusWaiting:
		return Outcome{
			Mode: store.ModeSync, Status: StatusWaiting,
			Reported: res.Reported, Waiting: res.Waiting,
			Round: res.Round, TargetRounds: res.TargetRounds,
			Message: "waiting for remaining listeners to report this round",
		}
	case clocksync.StatusRoundComplete:
		return Outcome{
			Mode: store.ModeSync, Status: StatusRoundComplete,
			Round: res.Round, TargetRounds: res.TargetRounds,
			RoundOffsets: res.RoundOffset,
			Message:      "round complete, more rounds needed",
		}
	default: // complete
		d.store.CommitOffsets(res.Offsets, res.StdDevs, res.Rounds)
		d.store.SetMode(store.ModeLocalize)
		return Outcome{
			Mode: store.ModeLocalize, Status: StatusComplete,
			Offsets: res.Offsets, StdDevs: res.StdDevs, Rounds: res.Rounds,
			Message: "sync session complete, switching to localize",
		}
	}
}

func (d *Dispatcher) dispatchLocalize(on onset.Onset) Outcome {
	adjusted := on.OnsetTSMS + d.store.Offset(on.ListenerID)
	d.queue.Add(correlate.PendingPacket{
		ListenerID: on.ListenerID,
		RawTS:      on.OnsetTSMS,
		AdjustedTS: adjusted,
		Loudness:   on.PeakLoudness,
		ReceivedAt: d.nowFunc(),
	})

	triple, ok := d.queue.Resolve()
	if !ok {
		return Outcome{
			Mode: store.ModeLocalize, Status: StatusPending,
			ReportedDevices: d.queue.Reported(), WaitingFor: d.queue.Waiting(),
			Message: "awaiting peer listeners to complete this group",
		}
	}

	return d.resolveEvent(triple)
}

func (d *Dispatcher) resolveEvent(triple correlate.Triple) Outcome {
	var receivers [3]tdoa.Receiver
	devices := make([]store.Device, 3)
	minTS, maxTS := triple[0].AdjustedTS, triple[0].AdjustedTS

	for i, id := range d.geometry.ListenerIDs {
		p := triple[i]
		pos := d.geometry.Positions[id]
		receivers[i] = tdoa.Receiver{X: pos.X, Y: pos.Y, TMS: p.AdjustedTS}
		devices[i] = store.Device{ListenerID: p.ListenerID, AdjustedTS: p.AdjustedTS, Loudness: p.Loudness}
		if p.AdjustedTS < minTS {
			minTS = p.AdjustedTS
		}
		if p.AdjustedTS > maxTS {
			maxTS = p.AdjustedTS
		}
	}

	result, solved := tdoa.Solve(receivers, d.geometry.SpeedOfSound, d.geometry.Bounds)

	e := store.Event{
		Devices:    devices,
		TimespanMS: maxTS - minTS,
		CreatedAt:  d.nowFunc(),
	}
	status := StatusRejected
	message := "TDOA solver rejected this group"
	if solved {
		e.Position = &store.Position{X: result.X, Y: result.Y}
		e.Residual = result.Residual
		status = StatusLocalized
		message = "event localized"
	}

	committed := d.store.AppendEvent(e)
	if d.publisher != nil {
		d.publisher.Publish(committed)
	}

	return Outcome{Mode: store.ModeLocalize, Status: status, Message: message, Event: committed}
}

// PendingDepth reports the current total pending-queue size, for status
// reporting.
func (d *Dispatcher) PendingDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Depth()
}

// Mode returns the current operating mode as a plain string, satisfying
// metrics.ModeProvider.
func (d *Dispatcher) Mode() string {
	return string(d.store.Mode())
}

// EventCount satisfies metrics.EventCounter.
func (d *Dispatcher) EventCount() int {
	return d.store.EventCount()
}

// RetainedEventCount satisfies metrics.EventCounter.
func (d *Dispatcher) RetainedEventCount() int {
	return d.store.RetainedEventCount()
}

// Store exposes the underlying state store for read-only API handlers
// (results, status). The dispatcher remains the sole mutator.
func (d *Dispatcher) Store() *store.Store {
	return d.store
}

// Geometry returns the fixed listener/room geometry this dispatcher
// solves against, for status reporting.
func (d *Dispatcher) Geometry() Geometry {
	return d.geometry
}

// SetNowFunc overrides the dispatcher's time source, for deterministic
// tests.
func (d *Dispatcher) SetNowFunc(f func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nowFunc = f
	d.queue.SetNowFunc(f)
}
