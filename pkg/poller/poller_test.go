package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedJob struct {
	clock     *FakeClock
	statuses  []Status
	statusErr error
	result    string
	resultErr error
	polls     int
	// pollCost simulates latency of each status call
	pollCost time.Duration
}

func (j *scriptedJob) Status(ctx context.Context) (Status, error) {
	j.polls++
	if j.pollCost > 0 {
		j.clock.Advance(j.pollCost)
	}
	if j.statusErr != nil {
		return StatusPending, j.statusErr
	}
	if len(j.statuses) == 0 {
		return StatusPending, nil
	}
	s := j.statuses[0]
	if len(j.statuses) > 1 {
		j.statuses = j.statuses[1:]
	}
	return s, nil
}

func (j *scriptedJob) Result(ctx context.Context) (string, error) {
	return j.result, j.resultErr
}

type recorder struct {
	transitions [][2]State
}

func (r *recorder) observe(_ string, from, to State) {
	r.transitions = append(r.transitions, [2]State{from, to})
}

func newTestPoller(clock *FakeClock, rec *recorder) *Poller {
	return New(200*time.Millisecond, 60*time.Second, WithClock(clock), WithObserver(rec.observe))
}

func TestRun_CompletesAfterRunningPolls(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	rec := &recorder{}
	job := &scriptedJob{
		clock:    clock,
		statuses: []Status{StatusPending, StatusPending, StatusSucceeded},
		result:   "Refunds within 30 days",
	}

	got, err := Run[string](context.Background(), newTestPoller(clock, rec), "answer", job)

	require.NoError(t, err)
	assert.Equal(t, "Refunds within 30 days", got)
	assert.Equal(t, 3, job.polls)
	assert.Equal(t, 2, clock.Sleeps())
	assert.Equal(t, [2]State{StateSubmitted, StateRunning}, rec.transitions[0])
	assert.Equal(t, [2]State{StateRunning, StateCompleted}, rec.transitions[len(rec.transitions)-1])
}

func TestRun_ImmediateSuccessDoesNotSleep(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	rec := &recorder{}
	job := &scriptedJob{clock: clock, statuses: []Status{StatusSucceeded}, result: "ok"}

	got, err := Run[string](context.Background(), newTestPoller(clock, rec), "answer", job)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Zero(t, clock.Sleeps())
	assert.Equal(t, [][2]State{
		{StateSubmitted, StateRunning},
		{StateRunning, StateCompleted},
	}, rec.transitions)
}

func TestRun_RemoteFailure(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	rec := &recorder{}
	job := &scriptedJob{clock: clock, statuses: []Status{StatusPending, StatusFailed}}

	_, err := Run[string](context.Background(), newTestPoller(clock, rec), "answer", job)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Equal(t, StateFailed, rec.transitions[len(rec.transitions)-1][1])
}

func TestRun_TimeoutIsBounded(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	rec := &recorder{}
	job := &scriptedJob{clock: clock}
	p := newTestPoller(clock, rec)
	start := clock.Now()

	_, err := Run[string](context.Background(), p, "answer", job)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	elapsed := clock.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, p.Ceiling())
	assert.LessOrEqual(t, elapsed, p.Ceiling()+p.Interval())
	assert.Equal(t, StateTimedOut, rec.transitions[len(rec.transitions)-1][1])
}

func TestRun_TimeoutBoundWithUnevenInterval(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	job := &scriptedJob{clock: clock}
	p := New(7*time.Second, 20*time.Second, WithClock(clock))
	start := clock.Now()

	_, err := Run[string](context.Background(), p, "index", job)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.LessOrEqual(t, clock.Now().Sub(start), 27*time.Second)
}

func TestRun_StatusErrorAborts(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	boom := errors.New("connection reset")
	job := &scriptedJob{clock: clock, statusErr: boom}

	_, err := Run[string](context.Background(), New(0, 0, WithClock(clock)), "answer", job)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, job.polls)
}

func TestRun_ResultErrorAborts(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	boom := errors.New("list messages failed")
	job := &scriptedJob{clock: clock, statuses: []Status{StatusSucceeded}, resultErr: boom}

	_, err := Run[string](context.Background(), New(0, 0, WithClock(clock)), "answer", job)

	assert.ErrorIs(t, err, boom)
}

func TestRun_CancelledContextStopsAtBoundary(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	job := &scriptedJob{clock: clock}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run[string](ctx, New(0, 0, WithClock(clock)), "answer", job)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, job.polls)
}

func TestNew_Defaults(t *testing.T) {
	p := New(0, -1)
	assert.Equal(t, DefaultInterval, p.Interval())
	assert.Equal(t, DefaultCeiling, p.Ceiling())

	longer := p.WithCeiling(5 * time.Minute)
	assert.Equal(t, 5*time.Minute, longer.Ceiling())
	assert.Equal(t, DefaultCeiling, p.Ceiling())
}
