package session

import (
	"context"
	"time"

	"sessiond/internal/audioseg"
	"sessiond/pkg/types"
)

// The collaborators below are the session's boundary with everything the core
// does not implement: devices, browsers, and inference providers. Each is
// invoked from exactly one loop; a failing collaborator never stalls the bus
// or the other loops.

// CaptureSource delivers raw frames. Capture blocks until the next frame is
// available or ctx is done.
type CaptureSource interface {
	Capture(ctx context.Context) (types.RawFrame, error)
}

// AudioSource delivers fixed-size PCM chunks at the configured sample rate.
// ReadChunk blocks until the next chunk is available or ctx is done.
type AudioSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
}

// Analyzer is the vision collaborator consuming significant frames.
type Analyzer interface {
	Analyze(ctx context.Context, frame types.Frame, history []types.Turn) (types.AnalysisResult, error)
}

// Transcriber converts a finished utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, seg types.AudioSegment) (string, error)
}

// Synthesizer speaks a response. The core does not track playback completion
// beyond the returned error.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Renderer displays annotations. The core does not track rendering
// completion beyond the returned error.
type Renderer interface {
	Render(ctx context.Context, anns []types.Annotation) error
}

// Collaborators bundles every external dependency of a session. Classifier is
// consulted by the audio segmenter; the rest by the consumer loops. Nil
// Synthesizer or Renderer disables the corresponding loop.
type Collaborators struct {
	Capture     CaptureSource
	Audio       AudioSource
	Classifier  audioseg.Classifier
	Analyzer    Analyzer
	Transcriber Transcriber
	Synthesizer Synthesizer
	Renderer    Renderer
}

// call runs fn under a deadline. When the deadline passes first the call is
// treated as failed and a late result is discarded; collaborators that ignore
// cancellation cannot wedge the calling loop.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1) // buffered so a late result never blocks the goroutine
	go func() {
		v, err := fn(cctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-cctx.Done():
		// Prefer a result that raced the deadline.
		select {
		case r := <-ch:
			return r.v, r.err
		default:
		}
		var zero T
		return zero, cctx.Err()
	}
}
