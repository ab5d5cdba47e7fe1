package session

import (
	"context"
	"sync"
	"time"

	"sessiond/pkg/types"
)

// Loop lifecycle states.
const (
	loopRunning = "running"
	loopStopped = "stopped"
	loopFailed  = "failed"
)

// restartBackoff spaces restart attempts of a failing loop.
const restartBackoff = 250 * time.Millisecond

// loopFunc is one long-running loop. It returns nil on clean shutdown and an
// error on unrecoverable failure; per-unit errors are reported inside the
// loop and do not end it.
type loopFunc func(ctx context.Context) error

type loopState struct {
	mu        sync.Mutex
	name      string
	essential bool
	state     string
	restarts  int
}

func (ls *loopState) status() types.LoopStatus {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return types.LoopStatus{
		Name:      ls.name,
		State:     ls.state,
		Restarts:  ls.restarts,
		Essential: ls.essential,
	}
}

func (ls *loopState) set(state string) {
	ls.mu.Lock()
	ls.state = state
	ls.mu.Unlock()
}

// launch runs fn under the restart policy: a failing loop is reported and
// restarted up to the retry limit; past the limit an essential loop takes the
// session down, a non-essential one simply stops.
func (s *Session) launch(ctx context.Context, name string, essential bool, fn loopFunc) {
	ls := &loopState{name: name, essential: essential, state: loopRunning}
	s.mu.Lock()
	s.loops[name] = ls
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			err := fn(ctx)
			if err == nil || ctx.Err() != nil {
				ls.set(loopStopped)
				return
			}
			s.log.Error().Err(err).Str("loop", name).Msg("loop failed")
			s.bus.Publish(types.TopicError, types.ErrorPayload{
				Reason:    types.ReasonLoopFailure,
				Component: name,
				Detail:    err.Error(),
			}, "session")

			ls.mu.Lock()
			ls.restarts++
			exhausted := ls.restarts > s.cfg.RetryLimit
			ls.mu.Unlock()
			if exhausted {
				ls.set(loopFailed)
				if essential {
					s.fatal(name)
				}
				return
			}
			select {
			case <-ctx.Done():
				ls.set(loopStopped)
				return
			case <-time.After(restartBackoff):
			}
		}
	}()
}
