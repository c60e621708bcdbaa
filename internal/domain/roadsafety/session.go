package roadsafety

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned for a computation whose parameters were replaced
// by a newer request from the same session.
var ErrSuperseded = errors.New("request superseded by a newer one")

type run struct {
	key    string
	cancel context.CancelFunc
	// latest is the key of the run that replaced this one, if any.
	latest     string
	superseded bool
}

// Sessions tracks the in-flight request per dashboard session. Starting a
// run cancels the session's previous one.
type Sessions struct {
	mu   sync.Mutex
	runs map[string]*run
}

func NewSessions() *Sessions {
	return &Sessions{runs: make(map[string]*run)}
}

// Run executes fn for session with the given parameter key. When a newer
// run with a different key starts while fn is executing, the older run's
// context is cancelled and its result discarded with ErrSuperseded.
func Run[T any](ctx context.Context, s *Sessions, session, key string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mine := &run{key: key, cancel: cancel}
	s.mu.Lock()
	if prev, ok := s.runs[session]; ok {
		prev.superseded = true
		prev.latest = key
		prev.cancel()
	}
	s.runs[session] = mine
	s.mu.Unlock()

	v, err := fn(ctx)

	s.mu.Lock()
	if s.runs[session] == mine {
		delete(s.runs, session)
	}
	superseded, latest := mine.superseded, mine.latest
	s.mu.Unlock()

	var zero T
	if superseded && (latest != key || errors.Is(err, context.Canceled)) {
		return zero, ErrSuperseded
	}
	if err != nil {
		return zero, err
	}
	return v, nil
}

// Active returns the number of sessions with a run in flight.
func (s *Sessions) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}
