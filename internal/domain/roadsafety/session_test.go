package roadsafety

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRun_ReturnsResult(t *testing.T) {
	s := NewSessions()
	v, err := Run(context.Background(), s, "sess", "k1", func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("Run() = %d, %v", v, err)
	}
	if s.Active() != 0 {
		t.Errorf("expected no active runs, got %d", s.Active())
	}
}

func TestRun_NewerRequestSupersedes(t *testing.T) {
	s := NewSessions()
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := Run(context.Background(), s, "sess", "k1", func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			return 0, ctx.Err()
		})
		done <- err
	}()
	<-started

	v, err := Run(context.Background(), s, "sess", "k2", func(context.Context) (int, error) {
		return 2, nil
	})
	if err != nil || v != 2 {
		t.Fatalf("newer run: %d, %v", v, err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("expected ErrSuperseded for the older run, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("older run was not cancelled")
	}
}

func TestRun_StaleResultDiscarded(t *testing.T) {
	s := NewSessions()
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		// Ignores cancellation and finishes with a result.
		_, err := Run(context.Background(), s, "sess", "k1", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-started

	newer := make(chan struct{})
	go func() {
		_, _ = Run(context.Background(), s, "sess", "k2", func(context.Context) (int, error) {
			<-newer
			return 2, nil
		})
	}()

	// Wait for the newer run to register.
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		r := s.runs["sess"]
		s.mu.Unlock()
		if r != nil && r.key == "k2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("newer run never registered")
		}
		time.Sleep(time.Millisecond)
	}

	close(release)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Errorf("expected stale result discarded, got %v", err)
	}
	close(newer)
}

func TestRun_SameKeyKeepsResult(t *testing.T) {
	s := NewSessions()
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan int, 1)

	go func() {
		v, _ := Run(context.Background(), s, "sess", "k1", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- v
	}()
	<-started

	go func() {
		_, _ = Run(context.Background(), s, "sess", "k1", func(context.Context) (int, error) {
			close(release)
			return 1, nil
		})
	}()

	select {
	case v := <-done:
		if v != 1 {
			t.Errorf("expected the result kept for an identical request, got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not finish")
	}
}

func TestRun_SessionsIndependent(t *testing.T) {
	s := NewSessions()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := Run(context.Background(), s, "a", "k1", func(ctx context.Context) (int, error) {
			close(started)
			select {
			case <-release:
				return 1, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		})
		done <- err
	}()
	<-started

	if _, err := Run(context.Background(), s, "b", "k2", func(context.Context) (int, error) { return 2, nil }); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Errorf("expected other session unaffected, got %v", err)
	}
}
