// Package resilience guards calls to a dependency that can go away.
//
// A [Breaker] counts consecutive failures of the calls it guards. Once the
// threshold is reached it opens and rejects calls with [ErrOpen] for a
// cooldown period, after which a limited number of trial calls decide
// whether it closes again. It never retries a call itself.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: breaker open")

// Defaults for [Config].
const (
	DefaultThreshold = 5
	DefaultCooldown  = 10 * time.Second
	DefaultTrials    = 1
)

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects every call until the cooldown has passed.
	Open

	// HalfOpen lets a limited number of trial calls through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes a [Breaker]. Zero fields take the defaults above.
type Config struct {
	// Name labels log records.
	Name string

	// Threshold is the number of consecutive failures that opens the
	// breaker.
	Threshold int

	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration

	// Trials is how many successful trials close a half-open breaker. A
	// failed trial opens it again.
	Trials int
}

// Option configures a [Breaker].
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the logger for state changes.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) {
		if l != nil {
			b.log = l
		}
	}
}

// OnStateChange registers fn to be called after every transition. fn runs
// with the breaker locked and must not call back into it.
func OnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	trials    int
	now       func() time.Time
	log       *slog.Logger
	onChange  func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int // trials admitted in the current half-open period
	passed   int // successful trials in the current half-open period
}

// New returns a closed Breaker.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:      cfg.Name,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		trials:    cfg.Trials,
		now:       time.Now,
		log:       slog.Default(),
	}
	if b.threshold <= 0 {
		b.threshold = DefaultThreshold
	}
	if b.cooldown <= 0 {
		b.cooldown = DefaultCooldown
	}
	if b.trials <= 0 {
		b.trials = DefaultTrials
	}
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With("breaker", b.name)
	return b
}

// Do calls fn unless the breaker is open, and records its outcome. A
// cancelled context error is neither a success nor a failure.
func (b *Breaker) Do(fn func() error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(trial, err)
	return err
}

// State returns the current state. An open breaker whose cooldown has passed
// still reports Open until the next call moves it to HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.setState(Closed)
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, ErrOpen
		}
		b.setState(HalfOpen)
	}
	if b.inFlight >= b.trials {
		return false, ErrOpen
	}
	b.inFlight++
	return true, nil
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		if trial && b.state == HalfOpen {
			b.inFlight--
		}
		return
	}

	if err != nil {
		if trial || b.state == HalfOpen {
			b.trip()
			return
		}
		if b.state == Closed {
			b.failures++
			if b.failures >= b.threshold {
				b.trip()
			}
		}
		return
	}

	switch {
	case b.state == Closed:
		b.failures = 0
	case trial && b.state == HalfOpen:
		b.passed++
		if b.passed >= b.trials {
			b.failures = 0
			b.setState(Closed)
		}
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.failures = 0
	if b.state != Open {
		b.log.Warn("resilience: breaker opened", "cooldown", b.cooldown)
	}
	b.setState(Open)
}

// setState must be called with b.mu held.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.inFlight, b.passed = 0, 0
	if to != Open {
		b.log.Info("resilience: breaker state changed", "from", from, "to", to)
	}
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
