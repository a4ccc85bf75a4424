package poller

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrJobFailed is returned when the remote job reports a terminal failure status.
	ErrJobFailed = errors.New("remote job failed")
	// ErrTimeout is returned when the job did not reach a terminal status within the ceiling.
	ErrTimeout = errors.New("remote job timed out")
)

const (
	DefaultInterval = 200 * time.Millisecond
	DefaultCeiling  = 60 * time.Second
)

// State is the local view of a polled job.
type State string

const (
	StateSubmitted State = "SUBMITTED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

// Status is what the remote side reports on each poll.
type Status int

const (
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
)

// Job is a started asynchronous remote operation.
type Job[T any] interface {
	// Status asks the remote side for the current status of the job.
	Status(ctx context.Context) (Status, error)
	// Result fetches the payload once the job has succeeded.
	Result(ctx context.Context) (T, error)
}

// Observer receives every state transition of a polled job.
type Observer func(name string, from, to State)

// Poller turns a fire-and-poll remote API into a blocking call with a bounded wait.
type Poller struct {
	interval time.Duration
	ceiling  time.Duration
	clock    Clock
	observer Observer
}

type Option func(*Poller)

func WithClock(c Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

func WithObserver(o Observer) Option {
	return func(p *Poller) {
		p.observer = o
	}
}

// New creates a poller. Non-positive durations fall back to the defaults.
func New(interval, ceiling time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	p := &Poller{
		interval: interval,
		ceiling:  ceiling,
		clock:    RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithCeiling returns a copy of the poller sharing clock and observer but with another ceiling.
func (p *Poller) WithCeiling(ceiling time.Duration) *Poller {
	cp := *p
	if ceiling > 0 {
		cp.ceiling = ceiling
	}
	return &cp
}

func (p *Poller) Interval() time.Duration { return p.interval }
func (p *Poller) Ceiling() time.Duration  { return p.ceiling }

func (p *Poller) transition(name string, from, to State) {
	if p.observer != nil {
		p.observer(name, from, to)
	}
}

// Run polls job until it reaches a terminal status.
//
// Cancellation is only honoured between polls. When the ceiling is hit the caller regains
// control after at most ceiling + interval (plus the latency of the last status call).
func Run[T any](ctx context.Context, p *Poller, name string, job Job[T]) (T, error) {
	var zero T

	start := p.clock.Now()
	p.transition(name, StateSubmitted, StateRunning)

	for {
		if err := ctx.Err(); err != nil {
			p.transition(name, StateRunning, StateFailed)
			return zero, fmt.Errorf("polling %s cancelled: %w", name, err)
		}

		status, err := job.Status(ctx)
		if err != nil {
			p.transition(name, StateRunning, StateFailed)
			return zero, fmt.Errorf("polling %s status: %w", name, err)
		}

		switch status {
		case StatusSucceeded:
			result, err := job.Result(ctx)
			if err != nil {
				p.transition(name, StateRunning, StateFailed)
				return zero, fmt.Errorf("fetching %s result: %w", name, err)
			}
			p.transition(name, StateRunning, StateCompleted)
			return result, nil
		case StatusFailed:
			p.transition(name, StateRunning, StateFailed)
			return zero, fmt.Errorf("%s: %w", name, ErrJobFailed)
		}

		if p.clock.Now().Sub(start) >= p.ceiling {
			p.transition(name, StateRunning, StateTimedOut)
			return zero, fmt.Errorf("%s after %s: %w", name, p.ceiling, ErrTimeout)
		}

		p.transition(name, StateRunning, StateRunning)
		p.clock.Sleep(p.interval)
	}
}
