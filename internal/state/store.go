package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiond/pkg/types"
)

// Default bounds applied when corresponding Config fields are unset.
const (
	defaultHistoryMax = 10
)

// Reporter publishes error events on behalf of the store. The bus satisfies
// this; tests install a recorder.
type Reporter interface {
	Publish(topic types.Topic, payload any, source string)
}

// Config encapsulates Store construction tunables.
type Config struct {
	// HistoryMax bounds conversation history length. <=0 selects the default.
	HistoryMax int
	Reporter   Reporter
	Logger     zerolog.Logger
}

// Store owns the shared session state. All mutation is serialized through
// Mutate; Read returns a consistent copy and never observes a partial update.
type Store struct {
	mu         sync.RWMutex
	state      types.SessionState
	historyMax int
	reporter   Reporter
	log        zerolog.Logger
	closed     bool
}

// Transform mutates a working copy of the state. Returning an error (or
// panicking) discards the copy; the store keeps its prior state.
type Transform func(*types.SessionState) error

// New constructs a Store from Config, applying defaults for unset fields.
func New(cfg Config) *Store {
	max := cfg.HistoryMax
	if max <= 0 {
		max = defaultHistoryMax
	}
	return &Store{
		historyMax: max,
		reporter:   cfg.Reporter,
		log:        cfg.Logger,
	}
}

// Read returns a consistent snapshot of the current state. The returned value
// is a deep copy; callers may retain or mutate it freely.
func (s *Store) Read() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// Mutate applies fn to a copy of the current state and, on success, installs
// the copy as the new state with an incremented version. Concurrent calls are
// applied one at a time, each seeing the previous result. A failing or
// panicking transform leaves the prior state intact and is reported as an
// error event.
func (s *Store) Mutate(fn Transform) (types.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cloneState(s.state), storeClosedError{}
	}
	next := cloneState(s.state)
	if err := s.apply(fn, &next); err != nil {
		s.report(err)
		return cloneState(s.state), err
	}
	next.Version = s.state.Version + 1
	s.enforceBounds(&next)
	s.state = next
	return cloneState(next), nil
}

// apply runs fn, converting a panic into an error so a bad transform can
// never poison the store.
func (s *Store) apply(fn Transform, st *types.SessionState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = transformError{cause: fmt.Errorf("transform panic: %v", r)}
		}
	}()
	if e := fn(st); e != nil {
		return transformError{cause: e}
	}
	return nil
}

func (s *Store) enforceBounds(st *types.SessionState) {
	if n := len(st.History); n > s.historyMax {
		st.History = st.History[n-s.historyMax:]
	}
}

func (s *Store) report(err error) {
	s.log.Error().Err(err).Msg("state mutation rejected")
	if s.reporter != nil {
		s.reporter.Publish(types.TopicError, types.ErrorPayload{
			Reason:    types.ReasonStateMutation,
			Component: "state",
			Detail:    err.Error(),
		}, "state")
	}
}

// SetFrame records the latest significant frame reference. Setting the same
// sequence number twice is a no-op (no version bump). Sequence numbers start
// at 1, so the zero value never aliases a real frame.
func (s *Store) SetFrame(ref types.FrameRef) (types.SessionState, error) {
	s.mu.Lock()
	if s.state.Frame.Seq == ref.Seq {
		snap := cloneState(s.state)
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()
	return s.Mutate(func(st *types.SessionState) error {
		st.Frame = ref
		return nil
	})
}

// AppendTurn adds a conversation turn, evicting the oldest entries beyond the
// configured maximum.
func (s *Store) AppendTurn(role, text string, at time.Time) (types.SessionState, error) {
	return s.Mutate(func(st *types.SessionState) error {
		st.History = append(st.History, types.Turn{Role: role, Text: text, At: at})
		return nil
	})
}

// History returns a copy of the current conversation history.
func (s *Store) History() []types.Turn {
	return s.Read().History
}

// SetListening flips the listening flag.
func (s *Store) SetListening(v bool) (types.SessionState, error) {
	return s.Mutate(func(st *types.SessionState) error {
		st.Listening = v
		return nil
	})
}

// SetSpeaking flips the speaking flag.
func (s *Store) SetSpeaking(v bool) (types.SessionState, error) {
	return s.Mutate(func(st *types.SessionState) error {
		st.Speaking = v
		return nil
	})
}

// SetProcessing flips the processing flag.
func (s *Store) SetProcessing(v bool) (types.SessionState, error) {
	return s.Mutate(func(st *types.SessionState) error {
		st.Processing = v
		return nil
	})
}

// SetTranscript records the most recent transcription text.
func (s *Store) SetTranscript(text string) (types.SessionState, error) {
	return s.Mutate(func(st *types.SessionState) error {
		st.LastTranscript = text
		return nil
	})
}

// AddAnnotations registers active annotations.
func (s *Store) AddAnnotations(anns []types.Annotation) (types.SessionState, error) {
	if len(anns) == 0 {
		return s.Read(), nil
	}
	return s.Mutate(func(st *types.SessionState) error {
		st.Annotations = append(st.Annotations, anns...)
		return nil
	})
}

// SweepAnnotations removes annotations expired at time now. It avoids a
// version bump when nothing expired.
func (s *Store) SweepAnnotations(now time.Time) (types.SessionState, error) {
	s.mu.RLock()
	expired := false
	for _, a := range s.state.Annotations {
		if a.Expired(now) {
			expired = true
			break
		}
	}
	s.mu.RUnlock()
	if !expired {
		return s.Read(), nil
	}
	return s.Mutate(func(st *types.SessionState) error {
		kept := st.Annotations[:0]
		for _, a := range st.Annotations {
			if !a.Expired(now) {
				kept = append(kept, a)
			}
		}
		st.Annotations = kept
		return nil
	})
}

// Close marks the store closed; further mutations fail.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func cloneState(st types.SessionState) types.SessionState {
	out := st
	if st.History != nil {
		out.History = make([]types.Turn, len(st.History))
		copy(out.History, st.History)
	}
	if st.Annotations != nil {
		out.Annotations = make([]types.Annotation, len(st.Annotations))
		copy(out.Annotations, st.Annotations)
	}
	return out
}
