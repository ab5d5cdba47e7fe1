package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sessiond/internal/audioseg"
	"sessiond/internal/bus"
	"sessiond/internal/config"
	"sessiond/internal/framebuf"
	"sessiond/internal/state"
	"sessiond/pkg/types"
)

// Lifecycle state of the whole session.
const (
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// Session owns the bus, the shared state store, the frame and audio buffers,
// and the loops that connect them to the collaborators. Construction wires
// everything; Start launches the loops; Stop shuts them down with a bounded
// grace period.
type Session struct {
	cfg    config.Config
	collab Collaborators
	log    zerolog.Logger

	bus    *bus.Bus
	store  *state.Store
	frames *framebuf.Buffer
	seg    *audioseg.Segmenter

	mu        sync.Mutex
	lifecycle string
	loops     map[string]*loopState
	cancel    context.CancelFunc
	done      chan struct{} // closed when every loop has exited
	fatalOnce sync.Once
	startTime time.Time

	wg sync.WaitGroup
}

// New wires a session from config and collaborators. The bus and store exist
// from this point on; loops start in Start.
func New(cfg config.Config, collab Collaborators, logger zerolog.Logger) *Session {
	cfg.Normalize()
	b := bus.New(bus.Config{
		QueueCapacity: cfg.QueueCapacity,
		Logger:        logger.With().Str("component", "bus").Logger(),
	})
	st := state.New(state.Config{
		HistoryMax: cfg.HistoryMax,
		Reporter:   b,
		Logger:     logger.With().Str("component", "state").Logger(),
	})
	fb := framebuf.New(framebuf.Config{
		Capacity:        cfg.RingCapacity,
		ChangeThreshold: cfg.ChangeThreshold,
		PixelTolerance:  cfg.PixelTolerance,
		SampleStride:    cfg.SampleStride,
		MinVariance:     cfg.MinVariance,
		BlankVariance:   cfg.BlankVariance,
		Reporter:        b,
		Logger:          logger.With().Str("component", "framebuf").Logger(),
	})
	seg := audioseg.New(audioseg.Config{
		SampleRate:         cfg.SampleRate,
		SilenceDuration:    cfg.SilenceDuration(),
		MaxSegmentDuration: cfg.MaxSegmentDuration(),
		Classifier:         collab.Classifier,
		Publisher:          b,
		Logger:             logger.With().Str("component", "audioseg").Logger(),
	})
	return &Session{
		cfg:       cfg,
		collab:    collab,
		log:       logger,
		bus:       b,
		store:     st,
		frames:    fb,
		seg:       seg,
		lifecycle: StateStopped,
		loops:     make(map[string]*loopState),
	}
}

// Bus exposes the session bus (for the journal tap and diagnostics).
func (s *Session) Bus() *bus.Bus { return s.bus }

// Ready reports whether the loops are running.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle == StateRunning
}

// History returns the bounded conversation history.
func (s *Session) History() []types.Turn { return s.store.History() }

// Annotate records operator-supplied annotations and requests a render.
// Missing IDs and expiries are filled in the same way analysis-produced
// annotations are.
func (s *Session) Annotate(anns []types.Annotation) error {
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
		return err
	}
	s.bus.Publish(types.TopicAnnotationRequest, anns, "httpapi")
	return nil
}

// Watch opens a bus subscription on behalf of an external observer.
func (s *Session) Watch(topic types.Topic, capacity int) (*bus.Subscription, error) {
	return s.bus.Subscribe(topic, capacity)
}

// Unwatch closes a subscription opened with Watch.
func (s *Session) Unwatch(sub *bus.Subscription) error { return s.bus.Unsubscribe(sub) }

// Store exposes the shared state store.
func (s *Session) Store() *state.Store { return s.store }

// Frames exposes the frame ring buffer.
func (s *Session) Frames() *framebuf.Buffer { return s.frames }

// Start subscribes the consumer loops and launches everything. Consumers are
// subscribed before any producer runs, so no early event is missed. parent
// bounds the session lifetime: cancelling it is equivalent to Stop.
func (s *Session) Start(parent context.Context) error {
	s.mu.Lock()
	if s.lifecycle == StateRunning {
		s.mu.Unlock()
		return alreadyRunningError{}
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.lifecycle = StateRunning
	s.startTime = time.Now()
	s.done = make(chan struct{})
	s.fatalOnce = sync.Once{} // re-arm for this run
	s.mu.Unlock()

	// Consumer subscriptions first.
	frameSub, err := s.bus.Subscribe(types.TopicFrameChanged, 0)
	if err != nil {
		return err
	}
	uttSub, err := s.bus.Subscribe(types.TopicUtteranceReady, 0)
	if err != nil {
		return err
	}
	var speechSub, annSub *bus.Subscription
	if s.collab.Synthesizer != nil {
		if speechSub, err = s.bus.Subscribe(types.TopicAnalysisResult, 0); err != nil {
			return err
		}
	}
	if s.collab.Renderer != nil {
		if annSub, err = s.bus.Subscribe(types.TopicAnalysisResult, 0); err != nil {
			return err
		}
	}

	// Producers, then consumers.
	s.launch(ctx, "capture", true, s.captureLoop)
	s.launch(ctx, "audio", true, s.audioLoop)
	s.launch(ctx, "analysis", false, s.analysisLoop(frameSub))
	s.launch(ctx, "transcription", false, s.transcriptionLoop(uttSub))
	if speechSub != nil {
		s.launch(ctx, "speech", false, s.speechLoop(speechSub))
	}
	if annSub != nil {
		s.launch(ctx, "annotation", false, s.annotationLoop(annSub))
	}

	go func() {
		s.wg.Wait()
		close(s.done)
	}()
	s.log.Info().Int("loops", len(s.loops)).Msg("session started")
	return nil
}

// Stop signals every loop, waits up to the configured grace period for
// in-flight work to finish, then tears down the bus and store. Safe to call
// more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.lifecycle != StateRunning {
		s.mu.Unlock()
		return
	}
	s.lifecycle = StateStopping
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(s.cfg.Grace()):
		s.log.Warn().Dur("grace", s.cfg.Grace()).Msg("grace period elapsed with loops still running")
	}
	s.seg.Reset()
	s.frames.Clear()
	s.bus.Close() // closes remaining subscriptions
	s.store.Close()

	s.mu.Lock()
	s.lifecycle = StateStopped
	s.mu.Unlock()
	s.log.Info().Msg("session stopped")
}

// Done is closed when every loop has exited (fatal failure or Stop).
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// fatal escalates an essential-loop failure to a full shutdown. The actual
// teardown runs outside the loop goroutine so loops can exit.
func (s *Session) fatal(name string) {
	s.fatalOnce.Do(func() {
		s.log.Error().Str("loop", name).Msg("essential loop failed terminally, shutting session down")
		go s.Stop()
	})
}

// Status returns a point-in-time projection of the session for /status.
func (s *Session) Status() types.StatusResponse {
	s.mu.Lock()
	resp := types.StatusResponse{
		State:   s.lifecycle,
		Session: s.store.Read(),
	}
	if !s.startTime.IsZero() {
		resp.UptimeSeconds = int64(time.Since(s.startTime).Seconds())
	}
	resp.Loops = make([]types.LoopStatus, 0, len(s.loops))
	for _, ls := range s.loops {
		resp.Loops = append(resp.Loops, ls.status())
	}
	s.mu.Unlock()
	sort.Slice(resp.Loops, func(i, j int) bool { return resp.Loops[i].Name < resp.Loops[j].Name })
	resp.Bus = s.bus.Status()
	resp.Buffer = s.frames.Status()
	resp.Segmenter = s.seg.Status()
	return resp
}
