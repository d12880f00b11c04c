// Package clocksync derives per-listener clock corrections from a
// multi-round synchronization procedure, robust to a single listener
// missing detection on any given round.
package clocksync

import (
	"log/slog"
	"math"
	"sort"
	"time"
)

// bufferEntry is one listener's onset within the round currently being
// assembled.
type bufferEntry struct {
	onsetTSMS  float64
	receivedAt time.Time
}

// RoundOffsets maps listener id to its offset (ms) for a single round.
type RoundOffsets map[string]float64

// Offsets maps listener id to its committed clock correction (ms).
type Offsets map[string]float64

// StdDevs maps listener id to the population standard deviation (ms) of
// its per-round offsets across a completed session.
type StdDevs map[string]float64

// Outcome tags what happened to one incoming onset during a sync round.
type Outcome struct {
	Status string // "waiting", "round_complete", "complete"

	Reported []string
	Waiting  []string

	Round       int
	TargetRounds int
	RoundOffset RoundOffsets

	Offsets Offsets
	StdDevs StdDevs
	Rounds  int

	// FreshSession is true when this onset started a brand-new sync
	// session (no rounds collected, buffer empty before insertion). The
	// dispatcher only logs it; prior ClockOffsets were already cleared when
	// the mode was set to sync.
	FreshSession bool
}

const (
	StatusWaiting       = "waiting"
	StatusRoundComplete = "round_complete"
	StatusComplete      = "complete"
)

// Coordinator runs the sync-round state machine described for the sync
// mode of operation. It is not safe for concurrent use; callers serialize
// access (the dispatcher holds the only reference).
type Coordinator struct {
	listenerIDs []string
	windowMS    float64
	targetRound int
	nowFunc     func() time.Time

	buffer map[string]bufferEntry
	rounds []RoundOffsets
}

// New constructs a Coordinator for the given fixed listener set.
func New(listenerIDs []string, windowMS float64, targetRounds int) *Coordinator {
	ids := make([]string, len(listenerIDs))
	copy(ids, listenerIDs)
	return &Coordinator{
		listenerIDs: ids,
		windowMS:    windowMS,
		targetRound: targetRounds,
		nowFunc:     time.Now,
		buffer:      make(map[string]bufferEntry),
	}
}

// Reset clears all in-progress round state, as happens on a mode
// transition into sync.
func (c *Coordinator) Reset() {
	c.buffer = make(map[string]bufferEntry)
	c.rounds = nil
}

// Accept processes one listener's onset timestamp. It mutates round state
// and returns the outcome to report to the caller.
func (c *Coordinator) Accept(listenerID string, onsetTSMS float64) Outcome {
	now := c.nowFunc()

	for _, e := range c.buffer {
		if now.Sub(e.receivedAt) > time.Duration(c.windowMS)*time.Millisecond {
			slog.Debug("clocksync: partial round aged out, clearing buffer")
			c.buffer = make(map[string]bufferEntry)
			break
		}
	}

	fresh := len(c.rounds) == 0 && len(c.buffer) == 0

	c.buffer[listenerID] = bufferEntry{onsetTSMS: onsetTSMS, receivedAt: now}

	if len(c.buffer) < len(c.listenerIDs) {
		return c.waitingOutcome(fresh)
	}

	out := c.finalizeRound()
	out.FreshSession = fresh
	return out
}

func (c *Coordinator) waitingOutcome(fresh bool) Outcome {
	var reported, waiting []string
	for _, id := range c.listenerIDs {
		if _, ok := c.buffer[id]; ok {
			reported = append(reported, id)
		} else {
			waiting = append(waiting, id)
		}
	}
	return Outcome{
		Status:       StatusWaiting,
		Reported:     reported,
		Waiting:      waiting,
		Round:        len(c.rounds) + 1,
		TargetRounds: c.targetRound,
		FreshSession: fresh,
	}
}

func (c *Coordinator) finalizeRound() Outcome {
	tMin := math.Inf(1)
	for _, id := range c.listenerIDs {
		if e, ok := c.buffer[id]; ok && e.onsetTSMS < tMin {
			tMin = e.onsetTSMS
		}
	}

	round := make(RoundOffsets, len(c.listenerIDs))
	for _, id := range c.listenerIDs {
		round[id] = tMin - c.buffer[id].onsetTSMS
	}
	c.rounds = append(c.rounds, round)
	c.buffer = make(map[string]bufferEntry)

	if len(c.rounds) < c.targetRound {
		return Outcome{
			Status:       StatusRoundComplete,
			Round:        len(c.rounds),
			TargetRounds: c.targetRound,
			RoundOffset:  round,
		}
	}

	return c.finalizeSession()
}

func (c *Coordinator) finalizeSession() Outcome {
	offsets := make(Offsets, len(c.listenerIDs))
	stddevs := make(StdDevs, len(c.listenerIDs))

	for _, id := range c.listenerIDs {
		vals := make([]float64, len(c.rounds))
		for i, r := range c.rounds {
			vals[i] = r[id]
		}
		med := median(vals)
		sd := populationStdDev(vals)
		offsets[id] = med
		stddevs[id] = sd
		if sd > 5 {
			slog.Warn("clocksync: listener offset dispersion exceeds 5ms", "listener", id, "stddev_ms", sd)
		}
	}

	rounds := len(c.rounds)
	c.rounds = nil

	return Outcome{
		Status:  StatusComplete,
		Offsets: offsets,
		StdDevs: stddevs,
		Rounds:  rounds,
	}
}

func median(vals []float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func populationStdDev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	m := arithmeticMean(vals)
	var sumSq float64
	for _, v := range vals {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vals)))
}

func arithmeticMean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// SetNowFunc overrides the coordinator's time source, for deterministic
// tests.
func (c *Coordinator) SetNowFunc(f func() time.Time) {
	c.nowFunc = f
}

// RoundsCollected reports how many complete rounds are currently buffered
// toward the target.
func (c *Coordinator) RoundsCollected() int {
	return len(c.rounds)
}
