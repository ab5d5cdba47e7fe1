// Package sim provides in-process stand-ins for the external collaborators:
// a synthetic screen, a scripted microphone, an energy-based voice classifier,
// and canned inference providers. They keep the daemon runnable end to end
// without devices or API keys, and give tests deterministic inputs.
package sim

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiond/pkg/types"
)

// Screen generates textured BGR frames. Every ChangeEvery-th capture shifts a
// band of the image, producing a change well above the default threshold;
// frames in between are identical to their predecessor.
type Screen struct {
	Width       int
	Height      int
	ChangeEvery int

	mu    sync.Mutex
	count int
	phase uint8
}

// NewScreen returns a 640x480 simulated screen that changes every third frame.
func NewScreen() *Screen {
	return &Screen{Width: 640, Height: 480, ChangeEvery: 3}
}

// Capture renders the current synthetic frame.
func (s *Screen) Capture(_ context.Context) (types.RawFrame, error) {
	s.mu.Lock()
	s.count++
	if s.ChangeEvery > 0 && s.count%s.ChangeEvery == 0 {
		s.phase += 40
	}
	phase := s.phase
	s.mu.Unlock()

	data := make([]byte, s.Width*s.Height*3)
	band := s.Width * s.Height / 4
	for p := 0; p < s.Width*s.Height; p++ {
		v := uint8(40 + (p%3)*80)
		if p < band {
			v += phase
		}
		data[p*3] = v
		data[p*3+1] = v
		data[p*3+2] = v
	}
	return types.RawFrame{Data: data, Width: s.Width, Height: s.Height, CapturedAt: time.Now()}, nil
}

// Microphone yields 100ms PCM chunks alternating between speech bursts and
// silence gaps, paced in real time.
type Microphone struct {
	SampleRate int
	// SpeechChunks and SilenceChunks set the cycle shape.
	SpeechChunks  int
	SilenceChunks int

	mu    sync.Mutex
	count int
}

// NewMicrophone returns a microphone cycling 1s of speech and 1s of silence.
func NewMicrophone() *Microphone {
	return &Microphone{SampleRate: 16000, SpeechChunks: 10, SilenceChunks: 10}
}

// ReadChunk blocks for one chunk duration and returns the next chunk.
func (m *Microphone) ReadChunk(ctx context.Context) ([]byte, error) {
	chunkDur := 100 * time.Millisecond
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(chunkDur):
	}
	m.mu.Lock()
	pos := m.count % (m.SpeechChunks + m.SilenceChunks)
	m.count++
	m.mu.Unlock()

	samples := m.SampleRate / 10 // 100ms
	chunk := make([]byte, samples*2)
	if pos < m.SpeechChunks {
		// Square-ish wave loud enough for the energy classifier.
		for i := 0; i < samples; i++ {
			v := int16(6000)
			if i%8 < 4 {
				v = -6000
			}
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(v))
		}
	}
	return chunk, nil
}

// EnergyClassifier is a voice-activity stand-in: mean absolute amplitude of
// the 16-bit samples against a threshold scaled by aggressiveness (0..3,
// higher = stricter, mirroring WebRTC VAD levels).
type EnergyClassifier struct {
	Aggressiveness int
}

// IsSpeech reports whether the chunk's energy clears the threshold.
func (c EnergyClassifier) IsSpeech(chunk []byte) bool {
	if len(chunk) < 2 {
		return false
	}
	var sum int64
	n := len(chunk) / 2
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		if v < 0 {
			v = -v
		}
		sum += int64(v)
	}
	threshold := int64(500 * (1 + c.Aggressiveness))
	return sum/int64(n) > threshold
}

// Analyzer returns canned analysis results describing the frame it saw, with
// one highlight annotation.
type Analyzer struct {
	Latency time.Duration
}

// Analyze produces a deterministic result for the frame.
func (a Analyzer) Analyze(ctx context.Context, frame types.Frame, history []types.Turn) (types.AnalysisResult, error) {
	if a.Latency > 0 {
		select {
		case <-ctx.Done():
			return types.AnalysisResult{}, ctx.Err()
		case <-time.After(a.Latency):
		}
	}
	return types.AnalysisResult{
		Text: fmt.Sprintf("frame %d changed by %.0f%% (%d turns of context)",
			frame.Seq, frame.Score*100, len(history)),
		Annotations: []types.Annotation{{
			Kind:   "highlight",
			Label:  fmt.Sprintf("change region, frame %d", frame.Seq),
			X:      frame.Width / 8,
			Y:      frame.Height / 8,
			Width:  frame.Width / 4,
			Height: frame.Height / 4,
		}},
	}, nil
}

// Transcriber returns a canned transcription describing the segment.
type Transcriber struct{}

// Transcribe summarizes the segment instead of recognizing it.
func (Transcriber) Transcribe(_ context.Context, seg types.AudioSegment) (string, error) {
	kind := "utterance"
	if seg.Forced {
		kind = "truncated utterance"
	}
	return fmt.Sprintf("%s of %d chunks (%.1fs)", kind, seg.Chunks,
		seg.EndedAt.Sub(seg.StartedAt).Seconds()), nil
}

// Speaker logs spoken text and holds the floor roughly as long as a human
// reading it would.
type Speaker struct {
	Log zerolog.Logger
}

// Speak simulates playback duration from word count (~150 wpm), capped.
func (sp Speaker) Speak(ctx context.Context, text string) error {
	sp.Log.Info().Str("text", text).Msg("speaking")
	words := 1
	for _, r := range text {
		if r == ' ' {
			words++
		}
	}
	d := time.Duration(float64(words)/150*60) * time.Second
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Renderer logs annotation requests instead of drawing them.
type Renderer struct {
	Log zerolog.Logger
}

// Render logs each annotation.
func (r Renderer) Render(_ context.Context, anns []types.Annotation) error {
	for _, a := range anns {
		r.Log.Info().Str("kind", a.Kind).Str("label", a.Label).
			Int("x", a.X).Int("y", a.Y).Msg("render annotation")
	}
	return nil
}
