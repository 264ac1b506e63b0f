package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sphinxlink/internal/resilience"
)

var errDown = errors.New("connection refused")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBreaker(t *testing.T, cfg resilience.Config) (*resilience.Breaker, *fakeClock, *[]string) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	var transitions []string
	b := resilience.New(cfg,
		resilience.WithClock(clk.Now),
		resilience.OnStateChange(func(from, to resilience.State) {
			transitions = append(transitions, fmt.Sprintf("%s->%s", from, to))
		}),
	)
	return b, clk, &transitions
}

func fail() error    { return errDown }
func succeed() error { return nil }

func TestBreaker_Defaults(t *testing.T) {
	b := resilience.New(resilience.Config{})
	if b.State() != resilience.Closed {
		t.Fatalf("initial state = %v, want closed", b.State())
	}
	for i := 0; i < resilience.DefaultThreshold-1; i++ {
		_ = b.Do(fail)
	}
	if b.State() != resilience.Closed {
		t.Fatalf("state = %v after %d failures, want closed", b.State(), resilience.DefaultThreshold-1)
	}
	_ = b.Do(fail)
	if b.State() != resilience.Open {
		t.Fatalf("state = %v after %d failures, want open", b.State(), resilience.DefaultThreshold)
	}
}

func TestBreaker_OpensAndRejects(t *testing.T) {
	b, _, transitions := newBreaker(t, resilience.Config{Name: "recognizer", Threshold: 2, Cooldown: time.Minute})

	if err := b.Do(fail); !errors.Is(err, errDown) {
		t.Fatalf("first call err = %v, want the call's error", err)
	}
	_ = b.Do(fail)

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
	if got := *transitions; len(got) != 1 || got[0] != "closed->open" {
		t.Errorf("transitions = %v", got)
	}
}

func TestBreaker_SuccessClearsFailures(t *testing.T) {
	b, _, _ := newBreaker(t, resilience.Config{Threshold: 3})
	_ = b.Do(fail)
	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	_ = b.Do(fail)
	if b.State() != resilience.Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_TrialCloses(t *testing.T) {
	b, clk, transitions := newBreaker(t, resilience.Config{Threshold: 1, Cooldown: time.Second, Trials: 2})
	_ = b.Do(fail)

	clk.Advance(999 * time.Millisecond)
	if err := b.Do(succeed); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("err before cooldown = %v, want ErrOpen", err)
	}

	clk.Advance(time.Millisecond)
	if err := b.Do(succeed); err != nil {
		t.Fatalf("first trial: %v", err)
	}
	if b.State() != resilience.HalfOpen {
		t.Fatalf("state after one trial = %v, want half-open", b.State())
	}
	if err := b.Do(succeed); err != nil {
		t.Fatalf("second trial: %v", err)
	}
	if b.State() != resilience.Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if fmt.Sprint(*transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", *transitions, want)
	}
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, clk, _ := newBreaker(t, resilience.Config{Threshold: 1, Cooldown: time.Second})
	_ = b.Do(fail)
	clk.Advance(time.Second)

	if err := b.Do(fail); !errors.Is(err, errDown) {
		t.Fatalf("trial err = %v, want the call's error", err)
	}
	if b.State() != resilience.Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	// The cooldown restarts at the failed trial.
	clk.Advance(500 * time.Millisecond)
	if err := b.Do(succeed); !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
}

func TestBreaker_LimitsConcurrentTrials(t *testing.T) {
	b, clk, _ := newBreaker(t, resilience.Config{Threshold: 1, Cooldown: time.Second})
	_ = b.Do(fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(succeed); !errors.Is(err, resilience.ErrOpen) {
		t.Errorf("second trial err = %v, want ErrOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != resilience.Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_CancellationIsNeutral(t *testing.T) {
	b, clk, _ := newBreaker(t, resilience.Config{Threshold: 1, Cooldown: time.Second})
	cancelled := func() error { return fmt.Errorf("dial: %w", context.Canceled) }

	_ = b.Do(cancelled)
	if b.State() != resilience.Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}

	_ = b.Do(fail)
	clk.Advance(time.Second)
	_ = b.Do(cancelled)
	if b.State() != resilience.HalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	// The cancelled trial gave its slot back.
	if err := b.Do(succeed); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != resilience.Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _, _ := newBreaker(t, resilience.Config{Threshold: 1, Cooldown: time.Hour})
	_ = b.Do(fail)
	b.Reset()
	if err := b.Do(succeed); err != nil {
		t.Fatalf("after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[resilience.State]string{
		resilience.Closed:   "closed",
		resilience.Open:     "open",
		resilience.HalfOpen: "half-open",
		resilience.State(9): "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
