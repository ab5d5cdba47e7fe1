package framebuf

import (
	"sync"

	"github.com/rs/zerolog"

	"sessiond/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultCapacity       = 10
	defaultThreshold      = 0.10
	defaultPixelTolerance = 16
	defaultSampleStride   = 4
	defaultMinVariance    = 4.0
	defaultBlankVariance  = 10.0
	defaultMinDimension   = 100
)

// Reporter publishes error events on behalf of the buffer.
type Reporter interface {
	Publish(topic types.Topic, payload any, source string)
}

// Config encapsulates Buffer construction tunables.
type Config struct {
	// Capacity bounds the ring. <=0 selects the default.
	Capacity int
	// ChangeThreshold is the change fraction at or above which a frame is
	// significant. <=0 selects the default (0.10).
	ChangeThreshold float64
	// PixelTolerance is the per-pixel intensity delta below which two sampled
	// pixels count as unchanged.
	PixelTolerance int
	// SampleStride samples every Nth pixel when scoring.
	SampleStride int
	// MinVariance rejects frames below this intensity stddev outright.
	MinVariance float64
	// BlankVariance flags frames below this stddev invalid: retained, but
	// never used as a diff baseline and never significant.
	BlankVariance float64
	// MinWidth/MinHeight reject implausibly small frames.
	MinWidth  int
	MinHeight int

	Reporter Reporter
	Logger   zerolog.Logger
}

// Buffer is a bounded ring of captured frames with change-detection scoring.
// It is owned by the capture loop; the analysis loop reads frames by sequence
// number through Get and DrainUnprocessed.
type Buffer struct {
	mu    sync.Mutex
	ring  []types.Frame
	head  int // index of oldest retained frame
	count int

	nextSeq  uint64
	baseline []uint8 // sampled intensities of the last retained valid frame
	baseW    int
	baseH    int

	cfg      Config
	rejected uint64
	log      zerolog.Logger
}

// New constructs a Buffer from Config, applying defaults for unset fields.
func New(cfg Config) *Buffer {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.ChangeThreshold <= 0 {
		cfg.ChangeThreshold = defaultThreshold
	}
	if cfg.PixelTolerance <= 0 {
		cfg.PixelTolerance = defaultPixelTolerance
	}
	if cfg.SampleStride <= 0 {
		cfg.SampleStride = defaultSampleStride
	}
	if cfg.MinVariance <= 0 {
		cfg.MinVariance = defaultMinVariance
	}
	if cfg.BlankVariance <= 0 {
		cfg.BlankVariance = defaultBlankVariance
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = defaultMinDimension
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = defaultMinDimension
	}
	return &Buffer{
		ring:    make([]types.Frame, cfg.Capacity),
		nextSeq: 1,
		cfg:     cfg,
		log:     cfg.Logger,
	}
}

// Push scores raw against the previous retained valid frame and retains it,
// evicting the oldest frame when the ring is full. The returned frame carries
// the assigned sequence number, score, and significance. Frames failing the
// quality gate are rejected with a low-quality error and never enter the ring.
func (b *Buffer) Push(raw types.RawFrame) (types.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reason := b.gate(raw); reason != "" {
		b.rejected++
		framesRejected.Inc()
		b.log.Debug().Str("reason", reason).Msg("frame rejected")
		if b.cfg.Reporter != nil {
			b.cfg.Reporter.Publish(types.TopicError, types.ErrorPayload{
				Reason:    types.ReasonLowQualityFrame,
				Component: "framebuf",
				Detail:    reason,
			}, "framebuf")
		}
		return types.Frame{}, lowQualityError{reason: reason}
	}

	samples := sampleIntensities(raw.Data, raw.Width, raw.Height, b.cfg.SampleStride)
	mean, std := meanStddev(samples)
	valid := std >= b.cfg.BlankVariance

	var score float64
	switch {
	case b.baseline == nil:
		// No prior frame to diff against: always significant.
		score = 1.0
	case !valid:
		score = 0
	case raw.Width != b.baseW || raw.Height != b.baseH:
		score = 1.0
	default:
		score = diffFraction(samples, b.baseline, b.cfg.PixelTolerance)
	}
	first := b.baseline == nil
	significant := valid && (first || score >= b.cfg.ChangeThreshold)

	data := make([]byte, len(raw.Data))
	copy(data, raw.Data)
	frame := types.Frame{
		Seq:         b.nextSeq,
		Data:        data,
		Width:       raw.Width,
		Height:      raw.Height,
		CapturedAt:  raw.CapturedAt,
		Score:       score,
		Significant: significant,
		Valid:       valid,
	}
	b.nextSeq++
	b.insert(frame)
	if valid {
		b.baseline = samples
		b.baseW = raw.Width
		b.baseH = raw.Height
	}

	framesPushed.Inc()
	if significant {
		framesSignificant.Inc()
	}
	b.log.Debug().Uint64("seq", frame.Seq).Float64("score", score).
		Bool("significant", significant).Float64("stddev", std).Float64("mean", mean).
		Msg("frame retained")
	return frame, nil
}

// gate returns a non-empty rejection reason for frames that must not enter
// the ring at all.
func (b *Buffer) gate(raw types.RawFrame) string {
	if len(raw.Data) == 0 {
		return "empty frame"
	}
	if raw.Width < b.cfg.MinWidth || raw.Height < b.cfg.MinHeight {
		return "frame too small"
	}
	if len(raw.Data) < raw.Width*raw.Height*3 {
		return "truncated pixel buffer"
	}
	samples := sampleIntensities(raw.Data, raw.Width, raw.Height, b.cfg.SampleStride)
	if _, std := meanStddev(samples); std < b.cfg.MinVariance {
		return "variance below minimum"
	}
	return ""
}

func (b *Buffer) insert(f types.Frame) {
	if b.count < len(b.ring) {
		b.ring[(b.head+b.count)%len(b.ring)] = f
		b.count++
		return
	}
	// Full: overwrite the oldest slot regardless of significance.
	b.ring[b.head] = f
	b.head = (b.head + 1) % len(b.ring)
}

// Latest returns the most recently retained frame.
func (b *Buffer) Latest() (types.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return types.Frame{}, false
	}
	return b.ring[(b.head+b.count-1)%len(b.ring)], true
}

// Get returns the retained frame with the given sequence number.
func (b *Buffer) Get(seq uint64) (types.Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.count; i++ {
		f := b.ring[(b.head+i)%len(b.ring)]
		if f.Seq == seq {
			return f, true
		}
	}
	return types.Frame{}, false
}

// DrainUnprocessed returns all retained frames not yet marked processed, in
// sequence order, marking each processed.
func (b *Buffer) DrainUnprocessed() []types.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.Frame
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.ring)
		if !b.ring[idx].Processed {
			b.ring[idx].Processed = true
			out = append(out, b.ring[idx])
		}
	}
	return out
}

// MarkProcessed marks the frame with the given sequence number processed.
func (b *Buffer) MarkProcessed(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.ring)
		if b.ring[idx].Seq == seq {
			b.ring[idx].Processed = true
			return
		}
	}
}

// Clear drops all retained frames. Sequence numbering continues.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.head, b.count = 0, 0
	b.mu.Unlock()
}

// Status returns a point-in-time projection of the buffer.
func (b *Buffer) Status() types.BufferStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := types.BufferStatus{
		Size:     b.count,
		Capacity: len(b.ring),
		NextSeq:  b.nextSeq,
		Rejected: b.rejected,
	}
	for i := 0; i < b.count; i++ {
		f := b.ring[(b.head+i)%len(b.ring)]
		if f.Significant {
			st.Significant++
		}
		if !f.Processed {
			st.Unprocessed++
		}
	}
	return st
}
