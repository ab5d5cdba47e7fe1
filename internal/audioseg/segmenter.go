package audioseg

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiond/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultSampleRate      = 16000
	defaultBytesPerSample  = 2
	defaultSilenceDuration = 500 * time.Millisecond
	defaultMaxSegment      = 30 * time.Second
)

// State of the segmenter's chunk-driven machine. FLUSHING is transient inside
// Process and never observed from outside.
type State string

const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
)

// Classifier decides speech vs silence per chunk. It is consulted
// synchronously and must not block longer than one chunk duration.
type Classifier interface {
	IsSpeech(chunk []byte) bool
}

// Publisher receives utterance events. The bus satisfies this.
type Publisher interface {
	Publish(topic types.Topic, payload any, source string)
}

// Config encapsulates Segmenter construction tunables.
type Config struct {
	// SampleRate in Hz; chunk durations derive from it. <=0 selects 16kHz.
	SampleRate int
	// BytesPerSample for the incoming PCM stream. <=0 selects 2 (16-bit).
	BytesPerSample int
	// SilenceDuration is the continuous silence run that closes an utterance.
	SilenceDuration time.Duration
	// MaxSegmentDuration force-flushes a segment that never goes silent,
	// bounding memory and latency.
	MaxSegmentDuration time.Duration

	Classifier Classifier
	Publisher  Publisher
	Logger     zerolog.Logger
}

// Segmenter accumulates raw audio chunks into utterances. A segment opens on
// the first speech chunk after silence, absorbs every chunk (speech or not)
// while open, and closes after a sustained silence run. Brief pauses inside a
// sentence therefore do not fragment the utterance.
type Segmenter struct {
	mu  sync.Mutex
	cfg Config
	log zerolog.Logger

	state      State
	buf        []byte
	chunks     int
	startedAt  time.Time
	silenceRun time.Duration
	elapsed    time.Duration

	flushed uint64
	forced  uint64
}

// New constructs a Segmenter from Config, applying defaults for unset fields.
func New(cfg Config) *Segmenter {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.BytesPerSample <= 0 {
		cfg.BytesPerSample = defaultBytesPerSample
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = defaultSilenceDuration
	}
	if cfg.MaxSegmentDuration <= 0 {
		cfg.MaxSegmentDuration = defaultMaxSegment
	}
	return &Segmenter{cfg: cfg, log: cfg.Logger, state: StateIdle}
}

// Process classifies and accumulates one chunk. When the chunk completes an
// utterance the finished segment is published on TopicUtteranceReady and
// returned; otherwise the returned segment is nil.
func (s *Segmenter) Process(chunk []byte, at time.Time) *types.AudioSegment {
	if len(chunk) == 0 {
		return nil
	}
	dur := s.chunkDuration(len(chunk))
	speech := s.cfg.Classifier.IsSpeech(chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
		if !speech {
			return nil
		}
		s.state = StateAccumulating
		s.startedAt = at
		s.buf = append(s.buf[:0], chunk...)
		s.chunks = 1
		s.silenceRun = 0
		s.elapsed = dur
		s.log.Debug().Time("at", at).Msg("utterance started")
		return nil

	case StateAccumulating:
		s.buf = append(s.buf, chunk...)
		s.chunks++
		s.elapsed += dur
		if speech {
			s.silenceRun = 0
		} else {
			s.silenceRun += dur
		}
		end := at.Add(dur)
		if s.silenceRun >= s.cfg.SilenceDuration {
			return s.flush(end, false)
		}
		if s.elapsed >= s.cfg.MaxSegmentDuration {
			return s.flush(end, true)
		}
		return nil
	}
	return nil
}

// flush closes the current segment, publishes it, and returns to idle.
// Caller holds s.mu.
func (s *Segmenter) flush(endedAt time.Time, forced bool) *types.AudioSegment {
	samples := make([]byte, len(s.buf))
	copy(samples, s.buf)
	seg := &types.AudioSegment{
		Samples:   samples,
		StartedAt: s.startedAt,
		EndedAt:   endedAt,
		Final:     true,
		Forced:    forced,
		Chunks:    s.chunks,
	}
	s.buf = s.buf[:0]
	s.chunks = 0
	s.silenceRun = 0
	s.elapsed = 0
	s.state = StateIdle

	s.flushed++
	utterancesFlushed.Inc()
	if forced {
		s.forced++
		utterancesForced.Inc()
	}
	s.log.Info().Int("chunks", seg.Chunks).Int("bytes", len(seg.Samples)).
		Bool("forced", forced).Msg("utterance flushed")
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.Publish(types.TopicUtteranceReady, seg, "audioseg")
	}
	return seg
}

// Reset discards any partial segment and returns to idle. Used on shutdown so
// a half-heard utterance is not delivered later.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.chunks = 0
	s.silenceRun = 0
	s.elapsed = 0
	s.state = StateIdle
	s.mu.Unlock()
}

// State returns the current machine state.
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a point-in-time projection of the segmenter.
func (s *Segmenter) Status() types.SegmenterStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SegmenterStatus{
		State:          string(s.state),
		BufferedChunks: s.chunks,
		Flushed:        s.flushed,
		Forced:         s.forced,
	}
}

func (s *Segmenter) chunkDuration(n int) time.Duration {
	bytesPerSecond := s.cfg.SampleRate * s.cfg.BytesPerSample
	return time.Duration(float64(n) / float64(bytesPerSecond) * float64(time.Second))
}
