package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"sessiond/internal/audioseg"
	"sessiond/internal/bus"
	"sessiond/internal/framebuf"
	"sessiond/pkg/types"
)

// transcriptCooldown suppresses an identical transcription repeated within
// this window, which otherwise happens when an utterance tail bleeds into the
// next segment.
const transcriptCooldown = 3 * time.Second

// annotationSweepInterval paces expiry of stale annotations.
const annotationSweepInterval = time.Second

// captureLoop pulls frames at the configured cadence, scores them through the
// ring buffer, and announces significant ones. Per-frame failures are
// reported and skipped; the loop only ends on shutdown.
func (s *Session) captureLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CaptureInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		raw, err := call(ctx, s.cfg.CollabTimeout(), func(c context.Context) (types.RawFrame, error) {
			return s.collab.Capture.Capture(c)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.report("capture", err)
			continue
		}
		frame, err := s.frames.Push(raw)
		if err != nil {
			// Quality-gate rejections were already reported by the buffer.
			if !framebuf.IsLowQuality(err) {
				s.report("capture", err)
			}
			continue
		}
		if !frame.Significant {
			continue
		}
		ref := types.FrameRef{Seq: frame.Seq, CapturedAt: frame.CapturedAt, Score: frame.Score}
		if _, err := s.store.SetFrame(ref); err != nil {
			continue // already reported by the store
		}
		s.bus.Publish(types.TopicFrameChanged, ref, "capture")
	}
}

// audioLoop feeds microphone chunks to the segmenter. Chunks arriving while
// the session is speaking are discarded so the assistant does not hear
// itself. A read error is unrecoverable and handed to the restart policy.
func (s *Session) audioLoop(ctx context.Context) error {
	listening := false
	for {
		chunk, err := s.collab.Audio.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if s.store.Read().Speaking {
			continue
		}
		s.seg.Process(chunk, time.Now())
		if now := s.seg.State() == audioseg.StateAccumulating; now != listening {
			listening = now
			if _, err := s.store.SetListening(now); err != nil && ctx.Err() != nil {
				return nil
			}
		}
	}
}

// analysisLoop consumes frame-changed events, invokes the vision collaborator
// with the frame and current conversation context, and publishes the result.
func (s *Session) analysisLoop(sub *bus.Subscription) loopFunc {
	return func(ctx context.Context) error {
		for {
			ev, ok := s.next(ctx, sub)
			if !ok {
				return nil
			}
			ref, ok := ev.Payload.(types.FrameRef)
			if !ok {
				continue
			}
			frame, ok := s.frames.Get(ref.Seq)
			if !ok {
				// Evicted before we got to it; the next significant frame
				// will supersede it anyway.
				s.log.Debug().Uint64("seq", ref.Seq).Msg("frame evicted before analysis")
				continue
			}
			s.store.SetProcessing(true)
			result, err := call(ctx, s.cfg.CollabTimeout(), func(c context.Context) (types.AnalysisResult, error) {
				return s.collab.Analyzer.Analyze(c, frame, s.store.History())
			})
			s.store.SetProcessing(false)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.report("analysis", err)
				continue
			}
			s.frames.MarkProcessed(frame.Seq)
			if result.Text != "" {
				s.store.AppendTurn("assistant", result.Text, time.Now())
			}
			s.bus.Publish(types.TopicAnalysisResult, result, "analysis")
		}
	}
}

// transcriptionLoop consumes finished utterances, transcribes them, and
// appends the user turn to conversation history. Duplicate text inside the
// cooldown window is dropped.
func (s *Session) transcriptionLoop(sub *bus.Subscription) loopFunc {
	return func(ctx context.Context) error {
		var lastText string
		var lastAt time.Time
		for {
			ev, ok := s.next(ctx, sub)
			if !ok {
				return nil
			}
			seg, ok := ev.Payload.(*types.AudioSegment)
			if !ok {
				continue
			}
			if seg.Forced {
				s.log.Info().Msg("transcribing force-flushed segment; text may be truncated")
			}
			text, err := call(ctx, s.cfg.CollabTimeout(), func(c context.Context) (string, error) {
				return s.collab.Transcriber.Transcribe(c, *seg)
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.report("transcription", err)
				continue
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			now := time.Now()
			if text == lastText && now.Sub(lastAt) < transcriptCooldown {
				s.log.Debug().Str("text", text).Msg("duplicate transcription dropped")
				continue
			}
			lastText, lastAt = text, now
			s.store.SetTranscript(text)
			s.store.AppendTurn("user", text, now)
		}
	}
}

// speechLoop speaks analysis results, holding the speaking flag so the audio
// loop mutes the microphone meanwhile.
func (s *Session) speechLoop(sub *bus.Subscription) loopFunc {
	return func(ctx context.Context) error {
		for {
			ev, ok := s.next(ctx, sub)
			if !ok {
				return nil
			}
			result, ok := ev.Payload.(types.AnalysisResult)
			if !ok || result.Text == "" {
				continue
			}
			s.store.SetSpeaking(true)
			_, err := call(ctx, s.cfg.CollabTimeout(), func(c context.Context) (struct{}, error) {
				return struct{}{}, s.collab.Synthesizer.Speak(c, result.Text)
			})
			s.store.SetSpeaking(false)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.report("speech", err)
			}
		}
	}
}

// annotationLoop registers annotations from analysis results, forwards them
// to the renderer, and sweeps expired ones on a fixed cadence.
func (s *Session) annotationLoop(sub *bus.Subscription) loopFunc {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(annotationSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.store.SweepAnnotations(time.Now())
				continue
			case ev, ok := <-sub.Events():
				if !ok {
					return nil
				}
				result, okPayload := ev.Payload.(types.AnalysisResult)
				if !okPayload || len(result.Annotations) == 0 {
					continue
				}
				anns := make([]types.Annotation, len(result.Annotations))
				copy(anns, result.Annotations)
				now := time.Now()
				for i := range anns {
					if anns[i].ID == "" {
						anns[i].ID = uuid.NewString()
					}
					if anns[i].ExpiresAt.IsZero() {
						anns[i].ExpiresAt = now.Add(s.cfg.AnnotationTTL())
					}
				}
				if _, err := s.store.AddAnnotations(anns); err != nil {
					continue // already reported by the store
				}
				s.bus.Publish(types.TopicAnnotationRequest, anns, "annotation")
				_, err := call(ctx, s.cfg.CollabTimeout(), func(c context.Context) (struct{}, error) {
					return struct{}{}, s.collab.Renderer.Render(c, anns)
				})
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					s.report("annotation", err)
				}
			}
		}
	}
}

// next waits for the subscription's next event, honoring shutdown.
func (s *Session) next(ctx context.Context, sub *bus.Subscription) (types.Event, bool) {
	select {
	case <-ctx.Done():
		return types.Event{}, false
	case ev, ok := <-sub.Events():
		if !ok {
			return types.Event{}, false
		}
		return ev, true
	}
}

// report publishes a collaborator failure without ending the calling loop.
func (s *Session) report(component string, err error) {
	s.log.Warn().Err(err).Str("component", component).Msg("collaborator call failed")
	s.bus.Publish(types.TopicError, types.ErrorPayload{
		Reason:    types.ReasonCollaborator,
		Component: component,
		Detail:    err.Error(),
	}, "session")
}
