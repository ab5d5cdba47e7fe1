package framebuf

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sessiond/pkg/types"
)

const (
	testW = 120
	testH = 120
)

type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) Publish(topic types.Topic, payload any, source string) {
	r.mu.Lock()
	r.events = append(r.events, types.Event{Topic: topic, Payload: payload, Source: source})
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// makeRaw builds a testW x testH BGR frame. intensity maps a pixel index to
// its channel value (all three channels equal).
func makeRaw(intensity func(p int) uint8) types.RawFrame {
	data := make([]byte, testW*testH*3)
	for p := 0; p < testW*testH; p++ {
		v := intensity(p)
		data[p*3] = v
		data[p*3+1] = v
		data[p*3+2] = v
	}
	return types.RawFrame{Data: data, Width: testW, Height: testH, CapturedAt: time.Now()}
}

// textured has a high-variance period-3 pattern that survives stride sampling.
func textured(p int) uint8 { return uint8(40 + (p%3)*80) }

// withChangedPrefix shifts the first `fraction` of pixels well past the pixel
// tolerance, leaving the rest identical to textured.
func withChangedPrefix(fraction float64) func(p int) uint8 {
	cut := int(fraction * float64(testW*testH))
	return func(p int) uint8 {
		v := textured(p)
		if p < cut {
			return v + 50
		}
		return v
	}
}

func newTestBuffer(capacity int, rec Reporter) *Buffer {
	return New(Config{Capacity: capacity, Reporter: rec, Logger: zerolog.Nop()})
}

func TestFirstFrameAlwaysSignificant(t *testing.T) {
	b := newTestBuffer(4, nil)
	f, err := b.Push(makeRaw(textured))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if !f.Significant {
		t.Fatal("first frame must be significant")
	}
	if f.Seq != 1 {
		t.Fatalf("expected seq 1 got %d", f.Seq)
	}
	if f.Score != 1.0 {
		t.Fatalf("expected score 1.0 got %v", f.Score)
	}
}

func TestChangeThresholdScenario(t *testing.T) {
	b := newTestBuffer(8, nil)
	if _, err := b.Push(makeRaw(textured)); err != nil {
		t.Fatalf("push first: %v", err)
	}
	// 5% change with a 10% threshold: retained, not significant.
	f2, err := b.Push(makeRaw(withChangedPrefix(0.05)))
	if err != nil {
		t.Fatalf("push second: %v", err)
	}
	if f2.Significant {
		t.Fatalf("5%% change must not be significant (score %v)", f2.Score)
	}
	if f2.Score < 0.04 || f2.Score > 0.06 {
		t.Fatalf("expected score near 0.05 got %v", f2.Score)
	}
	// 15% change relative to frame 2 (its own prefix reverts and a larger
	// one shifts): significant.
	f3, err := b.Push(makeRaw(withChangedPrefix(0.20)))
	if err != nil {
		t.Fatalf("push third: %v", err)
	}
	if !f3.Significant {
		t.Fatalf("15%% change must be significant (score %v)", f3.Score)
	}
	if st := b.Status(); st.Size != 3 {
		t.Fatalf("expected 3 retained frames got %d", st.Size)
	}
}

func TestThresholdBoundaryInclusive(t *testing.T) {
	b := newTestBuffer(4, nil)
	if _, err := b.Push(makeRaw(textured)); err != nil {
		t.Fatalf("push first: %v", err)
	}
	f, err := b.Push(makeRaw(withChangedPrefix(0.10)))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if f.Score != 0.10 {
		t.Fatalf("expected score exactly 0.10 got %v", f.Score)
	}
	if !f.Significant {
		t.Fatal("score at threshold must be significant")
	}
}

func TestSequenceStrictlyIncreasingWithEviction(t *testing.T) {
	b := newTestBuffer(3, nil)
	var last uint64
	for i := 0; i < 5; i++ {
		f, err := b.Push(makeRaw(withChangedPrefix(float64(i) * 0.2)))
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		if f.Seq <= last {
			t.Fatalf("sequence not strictly increasing: %d after %d", f.Seq, last)
		}
		last = f.Seq
	}
	st := b.Status()
	if st.Size != 3 {
		t.Fatalf("expected ring size 3 got %d", st.Size)
	}
	if _, ok := b.Get(1); ok {
		t.Fatal("oldest frame should have been evicted")
	}
	latest, ok := b.Latest()
	if !ok || latest.Seq != 5 {
		t.Fatalf("expected latest seq 5 got %v (ok=%v)", latest.Seq, ok)
	}
	seen := map[uint64]bool{}
	for _, f := range b.DrainUnprocessed() {
		if seen[f.Seq] {
			t.Fatalf("duplicate sequence %d retained", f.Seq)
		}
		seen[f.Seq] = true
	}
}

func TestQualityGateRejectsUniformFrame(t *testing.T) {
	rec := &recorder{}
	b := newTestBuffer(4, rec)
	_, err := b.Push(makeRaw(func(p int) uint8 { return 128 }))
	if !IsLowQuality(err) {
		t.Fatalf("expected low-quality error, got %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 error event got %d", rec.count())
	}
	if st := b.Status(); st.Size != 0 || st.Rejected != 1 {
		t.Fatalf("rejected frame entered the ring: %+v", st)
	}
	// Sequence numbers are only consumed by retained frames.
	f, err := b.Push(makeRaw(textured))
	if err != nil {
		t.Fatalf("push valid: %v", err)
	}
	if f.Seq != 1 {
		t.Fatalf("expected seq 1 after rejection got %d", f.Seq)
	}
}

func TestTooSmallFrameRejected(t *testing.T) {
	b := newTestBuffer(4, nil)
	raw := types.RawFrame{Data: make([]byte, 10*10*3), Width: 10, Height: 10}
	if _, err := b.Push(raw); !IsLowQuality(err) {
		t.Fatalf("expected low-quality error, got %v", err)
	}
}

// lowTexture sits between the quality gate and the blank threshold: retained
// but invalid.
func lowTexture(p int) uint8 {
	if p%3 == 2 {
		return 115
	}
	return 100
}

func TestBlankFrameExcludedFromComparison(t *testing.T) {
	b := newTestBuffer(8, nil)
	if _, err := b.Push(makeRaw(textured)); err != nil {
		t.Fatalf("push baseline: %v", err)
	}
	blank, err := b.Push(makeRaw(lowTexture))
	if err != nil {
		t.Fatalf("push blank: %v", err)
	}
	if blank.Valid {
		t.Fatal("low-variance frame must be flagged invalid")
	}
	if blank.Significant {
		t.Fatal("blank frame must not be significant")
	}
	// The next frame diffs against the pre-blank baseline, not the blank.
	f, err := b.Push(makeRaw(withChangedPrefix(0.20)))
	if err != nil {
		t.Fatalf("push after blank: %v", err)
	}
	if !f.Significant {
		t.Fatalf("expected significance vs pre-blank baseline (score %v)", f.Score)
	}
	if f.Score < 0.18 || f.Score > 0.22 {
		t.Fatalf("expected score near 0.20 got %v", f.Score)
	}
}

func TestDrainUnprocessed(t *testing.T) {
	b := newTestBuffer(8, nil)
	for i := 0; i < 3; i++ {
		if _, err := b.Push(makeRaw(withChangedPrefix(float64(i) * 0.3))); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	got := b.DrainUnprocessed()
	if len(got) != 3 {
		t.Fatalf("expected 3 unprocessed got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Fatalf("drain out of order: %d after %d", got[i].Seq, got[i-1].Seq)
		}
	}
	if again := b.DrainUnprocessed(); len(again) != 0 {
		t.Fatalf("second drain returned %d frames", len(again))
	}
	if st := b.Status(); st.Unprocessed != 0 {
		t.Fatalf("expected 0 unprocessed got %d", st.Unprocessed)
	}
}

func TestMarkProcessed(t *testing.T) {
	b := newTestBuffer(8, nil)
	f, err := b.Push(makeRaw(textured))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	b.MarkProcessed(f.Seq)
	if got := b.DrainUnprocessed(); len(got) != 0 {
		t.Fatalf("expected no unprocessed frames got %d", len(got))
	}
}
