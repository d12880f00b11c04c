package onset

import (
	"math"
	"testing"
)

func TestDetectEmptyInput(t *testing.T) {
	_, ok := Detect(nil, 100)
	if ok {
		t.Fatal("expected no onset for empty input")
	}
}

func TestDetectSingleSample(t *testing.T) {
	s := []Sample{{ListenerID: "A", TimestampMS: 12, Loudness: 50}}
	on, ok := Detect(s, 100)
	if !ok {
		t.Fatal("expected onset for single sample")
	}
	if on.OnsetTSMS != 12 || on.PeakLoudness != 50 || on.ListenerID != "A" {
		t.Errorf("unexpected onset: %+v", on)
	}
}

func TestDetectBelowThreshold(t *testing.T) {
	s := []Sample{
		{ListenerID: "A", TimestampMS: 0, Loudness: 10},
		{ListenerID: "A", TimestampMS: 36, Loudness: 20},
		{ListenerID: "A", TimestampMS: 72, Loudness: 30},
	}
	_, ok := Detect(s, 10000)
	if ok {
		t.Fatal("expected no clap below threshold")
	}
}

func TestDetectInterpolation(t *testing.T) {
	// below=5000@36 above=15000@72 threshold=10000 -> f = 0.5, interpolated ts = 36+0.5*36=54
	s := []Sample{
		{ListenerID: "A", TimestampMS: 0, Loudness: 1000},
		{ListenerID: "A", TimestampMS: 36, Loudness: 5000},
		{ListenerID: "A", TimestampMS: 72, Loudness: 15000},
		{ListenerID: "A", TimestampMS: 108, Loudness: 14000},
	}
	on, ok := Detect(s, 10000)
	if !ok {
		t.Fatal("expected onset")
	}
	want := 36 + 0.5*(72-36.0)
	if math.Abs(on.OnsetTSMS-want) > 1e-9 {
		t.Errorf("OnsetTSMS = %v, want %v", on.OnsetTSMS, want)
	}
	if on.PeakLoudness != 15000 {
		t.Errorf("PeakLoudness = %v, want 15000", on.PeakLoudness)
	}
}

func TestDetectOutOfOrderInput(t *testing.T) {
	s := []Sample{
		{ListenerID: "A", TimestampMS: 72, Loudness: 15000},
		{ListenerID: "A", TimestampMS: 0, Loudness: 1000},
		{ListenerID: "A", TimestampMS: 36, Loudness: 5000},
	}
	sorted := []Sample{
		{ListenerID: "A", TimestampMS: 0, Loudness: 1000},
		{ListenerID: "A", TimestampMS: 36, Loudness: 5000},
		{ListenerID: "A", TimestampMS: 72, Loudness: 15000},
	}
	on1, ok1 := Detect(s, 10000)
	on2, ok2 := Detect(sorted, 10000)
	if ok1 != ok2 || on1 != on2 {
		t.Errorf("order should not affect result: %+v/%v vs %+v/%v", on1, ok1, on2, ok2)
	}
}

func TestDetectNoBelowThresholdCrossing(t *testing.T) {
	// Every sample already >= threshold, including before the jump index.
	s := []Sample{
		{ListenerID: "A", TimestampMS: 0, Loudness: 20000},
		{ListenerID: "A", TimestampMS: 36, Loudness: 25000},
		{ListenerID: "A", TimestampMS: 72, Loudness: 40000},
	}
	on, ok := Detect(s, 10000)
	if !ok {
		t.Fatal("expected onset")
	}
	if on.OnsetTSMS != 0 || on.PeakLoudness != 20000 {
		t.Errorf("expected earliest sample unchanged, got %+v", on)
	}
}

func TestOnsetMonotonicityUnderTimeShift(t *testing.T) {
	base := []Sample{
		{ListenerID: "A", TimestampMS: 0, Loudness: 1000},
		{ListenerID: "A", TimestampMS: 36, Loudness: 5000},
		{ListenerID: "A", TimestampMS: 72, Loudness: 15000},
	}
	const delta = 123.456
	shifted := make([]Sample, len(base))
	for i, s := range base {
		shifted[i] = Sample{ListenerID: s.ListenerID, TimestampMS: s.TimestampMS + delta, Loudness: s.Loudness}
	}

	on1, ok1 := Detect(base, 10000)
	on2, ok2 := Detect(shifted, 10000)
	if !ok1 || !ok2 {
		t.Fatal("expected onset in both cases")
	}
	if math.Abs((on2.OnsetTSMS-on1.OnsetTSMS)-delta) > 1e-9 {
		t.Errorf("onset shift = %v, want %v", on2.OnsetTSMS-on1.OnsetTSMS, delta)
	}
}

func TestDetectIdenticalTimestamps(t *testing.T) {
	// below.ts == above.ts: interpolation term vanishes, below.ts is used verbatim.
	s := []Sample{
		{ListenerID: "A", TimestampMS: 0, Loudness: 1000},
		{ListenerID: "A", TimestampMS: 36, Loudness: 5000},
		{ListenerID: "A", TimestampMS: 36, Loudness: 20000},
	}
	on, ok := Detect(s, 10000)
	if !ok {
		t.Fatal("expected onset")
	}
	if on.OnsetTSMS != 36 {
		t.Errorf("OnsetTSMS = %v, want 36", on.OnsetTSMS)
	}
}
