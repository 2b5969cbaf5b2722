package work

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingUnit completes after N Run calls.
type countingUnit struct {
	name    string
	n       int
	calls   int
	failAt  int
	reset   int
	aborted bool
}

func (u *countingUnit) Name() string { return u.name }

func (u *countingUnit) Run(ctx context.Context) (Status, error) {
	u.calls++
	if u.failAt != 0 && u.calls >= u.failAt {
		return Failed, errors.New("boom")
	}
	if u.calls >= u.n {
		return Done, nil
	}
	return Running, nil
}

func (u *countingUnit) Reset() {
	u.calls = 0
	u.reset++
}

func (u *countingUnit) Abort() { u.aborted = true }

func TestSequenceRunsChildrenInOrder(t *testing.T) {
	a := &countingUnit{name: "a", n: 2}
	b := &countingUnit{name: "b", n: 1}
	seq := NewSequence("seq", a, b)

	ctx := context.Background()
	st, err := seq.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Running, st)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 0, b.calls)

	st, err = seq.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Running, st)
	require.Equal(t, 2, a.calls)
	require.Equal(t, 0, b.calls)

	st, err = seq.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Done, st)
	require.Equal(t, 1, b.calls)
}

func TestSequenceFailsOnChildFailure(t *testing.T) {
	a := &countingUnit{name: "a", n: 5, failAt: 1}
	b := &countingUnit{name: "b", n: 1}
	seq := NewSequence("seq", a, b)

	st, err := seq.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, Failed, st)
	require.Equal(t, 0, b.calls)
}

func TestSequenceResetRewindsChildren(t *testing.T) {
	a := &countingUnit{name: "a", n: 1}
	seq := NewSequence("seq", a)
	seq.Run(context.Background())
	require.Equal(t, 1, a.calls)

	seq.Reset()
	require.Equal(t, 0, a.calls)
	require.Equal(t, 1, a.reset)
}

func TestCrankUntilSucceeds(t *testing.T) {
	clock := NewClock(time.Unix(0, 0))
	sched := NewScheduler(clock)
	u := &countingUnit{name: "u", n: 3}
	sched.Schedule(u)

	ok := sched.CrankUntil(context.Background(), func() bool { return true }, time.Second, time.Minute)
	require.True(t, ok)
	require.Equal(t, 3, u.calls)
}

func TestCrankUntilTimesOut(t *testing.T) {
	clock := NewClock(time.Unix(0, 0))
	sched := NewScheduler(clock)
	u := &countingUnit{name: "stuck", n: 1000000}
	sched.Schedule(u)

	ok := sched.CrankUntil(context.Background(), func() bool { return true }, time.Second, 5*time.Second)
	require.False(t, ok)
}
