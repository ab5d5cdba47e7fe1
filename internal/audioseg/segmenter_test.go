package audioseg

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sessiond/pkg/types"
)

// chunk100ms is 100ms of 16-bit mono PCM at 16kHz.
const chunk100ms = 3200

// markerClassifier reads the first byte: nonzero means speech.
type markerClassifier struct{}

func (markerClassifier) IsSpeech(chunk []byte) bool { return len(chunk) > 0 && chunk[0] != 0 }

type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) Publish(topic types.Topic, payload any, source string) {
	r.mu.Lock()
	r.events = append(r.events, types.Event{Topic: topic, Payload: payload, Source: source})
	r.mu.Unlock()
}

func (r *recorder) all() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

func speechChunk() []byte {
	c := make([]byte, chunk100ms)
	c[0] = 1
	return c
}

func silenceChunk() []byte { return make([]byte, chunk100ms) }

func newTestSegmenter(rec Publisher) *Segmenter {
	return New(Config{
		SilenceDuration: 500 * time.Millisecond,
		Classifier:      markerClassifier{},
		Publisher:       rec,
		Logger:          zerolog.Nop(),
	})
}

func TestSilenceWhileIdleDiscarded(t *testing.T) {
	s := newTestSegmenter(nil)
	at := time.Now()
	for i := 0; i < 10; i++ {
		if seg := s.Process(silenceChunk(), at); seg != nil {
			t.Fatal("silence while idle must not produce a segment")
		}
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle got %s", s.State())
	}
}

func TestSpeechThenSilenceFlushesOnce(t *testing.T) {
	rec := &recorder{}
	s := newTestSegmenter(rec)
	at := time.Unix(100, 0)
	var flushed *types.AudioSegment
	// 3 speech chunks of 100ms, then 6 silence chunks of 100ms.
	for i := 0; i < 3; i++ {
		if seg := s.Process(speechChunk(), at); seg != nil {
			t.Fatalf("premature flush at speech chunk %d", i)
		}
		at = at.Add(100 * time.Millisecond)
	}
	for i := 0; i < 6; i++ {
		seg := s.Process(silenceChunk(), at)
		at = at.Add(100 * time.Millisecond)
		if seg != nil {
			if flushed != nil {
				t.Fatal("more than one flush")
			}
			flushed = seg
			// The run reaches 500ms on the 5th silence chunk.
			if i != 4 {
				t.Fatalf("flushed at silence chunk %d, want 4", i)
			}
		}
	}
	if flushed == nil {
		t.Fatal("expected exactly one flush")
	}
	// First 3 speech chunks plus the 5 silence chunks before the flush.
	if flushed.Chunks != 8 {
		t.Fatalf("expected 8 chunks got %d", flushed.Chunks)
	}
	if len(flushed.Samples) != 8*chunk100ms {
		t.Fatalf("expected %d sample bytes got %d", 8*chunk100ms, len(flushed.Samples))
	}
	if !flushed.Final || flushed.Forced {
		t.Fatalf("expected final natural flush, got final=%v forced=%v", flushed.Final, flushed.Forced)
	}
	if flushed.StartedAt != time.Unix(100, 0) {
		t.Fatalf("unexpected start time %v", flushed.StartedAt)
	}
	evts := rec.all()
	if len(evts) != 1 || evts[0].Topic != types.TopicUtteranceReady {
		t.Fatalf("expected one utterance_ready event got %+v", evts)
	}
	if s.State() != StateIdle {
		t.Fatalf("expected idle after flush got %s", s.State())
	}
}

func TestBriefPauseDoesNotFragment(t *testing.T) {
	s := newTestSegmenter(nil)
	at := time.Now()
	feed := func(chunks ...[]byte) *types.AudioSegment {
		var out *types.AudioSegment
		for _, c := range chunks {
			if seg := s.Process(c, at); seg != nil {
				out = seg
			}
			at = at.Add(100 * time.Millisecond)
		}
		return out
	}
	// speech, 300ms pause (below the 500ms threshold), speech again.
	if seg := feed(speechChunk(), silenceChunk(), silenceChunk(), silenceChunk(), speechChunk()); seg != nil {
		t.Fatal("mid-sentence pause fragmented the utterance")
	}
	// Now a full silence run closes it: one segment covering everything.
	seg := feed(silenceChunk(), silenceChunk(), silenceChunk(), silenceChunk(), silenceChunk())
	if seg == nil {
		t.Fatal("expected flush after sustained silence")
	}
	if seg.Chunks != 10 {
		t.Fatalf("expected 10 chunks got %d", seg.Chunks)
	}
}

func TestForcedFlushAtMaxDuration(t *testing.T) {
	rec := &recorder{}
	s := New(Config{
		SilenceDuration:    500 * time.Millisecond,
		MaxSegmentDuration: time.Second,
		Classifier:         markerClassifier{},
		Publisher:          rec,
		Logger:             zerolog.Nop(),
	})
	at := time.Now()
	var seg *types.AudioSegment
	for i := 0; i < 20 && seg == nil; i++ {
		seg = s.Process(speechChunk(), at)
		at = at.Add(100 * time.Millisecond)
	}
	if seg == nil {
		t.Fatal("expected forced flush")
	}
	if !seg.Forced || !seg.Final {
		t.Fatalf("expected forced final segment, got forced=%v final=%v", seg.Forced, seg.Final)
	}
	if seg.Chunks != 10 {
		t.Fatalf("expected flush at 1s (10 chunks) got %d", seg.Chunks)
	}
	st := s.Status()
	if st.Flushed != 1 || st.Forced != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}
}

func TestResetDiscardsPartialSegment(t *testing.T) {
	s := newTestSegmenter(nil)
	at := time.Now()
	s.Process(speechChunk(), at)
	if s.State() != StateAccumulating {
		t.Fatalf("expected accumulating got %s", s.State())
	}
	s.Reset()
	if s.State() != StateIdle {
		t.Fatalf("expected idle after reset got %s", s.State())
	}
	// A silence run now produces nothing: the partial segment is gone.
	for i := 0; i < 6; i++ {
		if seg := s.Process(silenceChunk(), at); seg != nil {
			t.Fatal("reset segment still flushed")
		}
	}
	if st := s.Status(); st.Flushed != 0 {
		t.Fatalf("unexpected flush count %d", st.Flushed)
	}
}

func TestSegmentSamplesMatchAccumulatedChunks(t *testing.T) {
	s := newTestSegmenter(nil)
	at := time.Now()
	sp := speechChunk()
	for i := range sp {
		sp[i] = byte(i % 251)
	}
	sp[0] = 1
	s.Process(sp, at)
	var seg *types.AudioSegment
	for i := 0; i < 5; i++ {
		seg = s.Process(silenceChunk(), at)
	}
	if seg == nil {
		t.Fatal("expected flush")
	}
	for i, b := range seg.Samples[:chunk100ms] {
		if b != sp[i] {
			t.Fatalf("sample byte %d mismatch: got %d want %d", i, b, sp[i])
		}
	}
}
