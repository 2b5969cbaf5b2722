// Package work implements the cooperative, single-threaded work scheduler
// of spec.md §5 and §9: a hierarchy of Units, each with run/reset/abort
// transitions, advanced by a virtual Clock rather than OS threads. It is
// grounded on the run()-stage-switch loop of
// catchup/catchpointService.go's CatchpointCatchupService, generalised from
// that service's fixed five-stage enum into an open Unit/Sequence
// composite per spec.md §9's design note ("represent as a tagged variant
// of work kinds plus a shared run/reset/abort capability; composition via
// a Sequence variant").
package work

import (
	"context"
	"fmt"
	"time"
)

// Status is the outcome of one Unit.Run call.
type Status int

const (
	// Pending means the unit has not yet been run.
	Pending Status = iota
	// Running means the unit is still in progress; the scheduler will
	// call Run again on the next crank.
	Running
	// Done means the unit completed successfully.
	Done
	// Failed means the unit terminated with an error.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Unit is one node of the work hierarchy. Run is called repeatedly by the
// scheduler until it returns Done or Failed; between calls the scheduler
// may advance sibling units. Reset returns the unit to Pending so it can
// be retried from scratch. Abort tears down any resources (open files,
// spawned archive commands) and must be safe to call from any state.
type Unit interface {
	// Name identifies the unit in logs and in Scheduler.Crank's errors.
	Name() string
	// Run advances the unit by one step.
	Run(ctx context.Context) (Status, error)
	// Reset returns the unit to Pending.
	Reset()
	// Abort cancels the unit, releasing any resources it holds.
	Abort()
}

// Sequence is a composite Unit that runs its children strictly in order:
// the spec's "publish phases run in declared order" (§5) and "catchup
// verification is monotonic over checkpoints; apply is monotonic over
// ledgers" (§5).
type Sequence struct {
	name     string
	children []Unit
	index    int
	status   Status
}

// NewSequence returns a Sequence named name over children, run in order.
func NewSequence(name string, children ...Unit) *Sequence {
	return &Sequence{name: name, children: children}
}

func (s *Sequence) Name() string { return s.name }

// Run advances the current child. When a child reaches Done, the sequence
// moves to the next child on the following call; when all children are
// Done, the sequence itself reports Done. Any child Failed fails the whole
// sequence immediately, per spec.md §4.C: "a failure in any archive fails
// the entry."
func (s *Sequence) Run(ctx context.Context) (Status, error) {
	if s.status == Done || s.status == Failed {
		return s.status, nil
	}
	if s.index >= len(s.children) {
		s.status = Done
		return Done, nil
	}
	child := s.children[s.index]
	st, err := child.Run(ctx)
	switch st {
	case Done:
		s.index++
		if s.index >= len(s.children) {
			s.status = Done
			return Done, nil
		}
		return Running, nil
	case Failed:
		s.status = Failed
		return Failed, err
	default:
		return Running, err
	}
}

// Reset rewinds the sequence and every child to Pending.
func (s *Sequence) Reset() {
	s.index = 0
	s.status = Pending
	for _, c := range s.children {
		c.Reset()
	}
}

// Abort aborts the currently-running child and every child after it.
func (s *Sequence) Abort() {
	for i := s.index; i < len(s.children); i++ {
		s.children[i].Abort()
	}
}

// Children returns the sequence's child units, for tests that want to
// inspect progress.
func (s *Sequence) Children() []Unit { return s.children }

// Clock is a virtual clock the scheduler and test harness advance
// explicitly, so tests are deterministic and never sleep on a wall clock.
// Grounded on spec.md §5's "crankUntil(predicate, timeout) cycles the
// event loop until ... the wall-clock budget is exceeded", modelled here
// as a fake clock rather than time.Now().
type Clock struct {
	now time.Time
}

// NewClock returns a Clock starting at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the clock's current virtual time.
func (c *Clock) Now() time.Time { return c.now }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// Scheduler runs a flat set of top-level Units to completion, cooperating
// with a virtual Clock so tests can bound real wall-clock time spent
// cranking. It is the generalisation of CatchpointCatchupService.run's
// single fixed stage-switch loop to an arbitrary Unit set.
type Scheduler struct {
	clock    *Clock
	units    []Unit
	statuses []Status
	cranked  bool
}

// NewScheduler returns a Scheduler driven by clock.
func NewScheduler(clock *Clock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Schedule adds u to the set of units the scheduler advances on every
// Crank.
func (s *Scheduler) Schedule(u Unit) {
	s.units = append(s.units, u)
	s.statuses = append(s.statuses, Pending)
}

// AllDone reports whether every scheduled unit reached Done or Failed as of
// the last Crank. Before the first Crank, a non-empty scheduler is never
// considered done.
func (s *Scheduler) AllDone() bool {
	if !s.cranked && len(s.units) > 0 {
		return false
	}
	for _, st := range s.statuses {
		if st != Done && st != Failed {
			return false
		}
	}
	return true
}

// Crank advances every scheduled unit by one step.
func (s *Scheduler) Crank(ctx context.Context) ([]Status, error) {
	s.cranked = true
	var firstErr error
	for i, u := range s.units {
		st, err := u.Run(ctx)
		s.statuses[i] = st
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("work: unit %q: %w", u.Name(), err)
		}
	}
	out := make([]Status, len(s.statuses))
	copy(out, s.statuses)
	return out, firstErr
}

// CrankUntil cycles Crank, advancing the clock by step each time, until
// either every scheduled unit is Done/Failed and predicate holds, or
// timeout elapses on the virtual clock. It returns false on timeout,
// matching spec.md §5: "on timeout, the caller treats catchup as failed."
func (s *Scheduler) CrankUntil(ctx context.Context, predicate func() bool, step, timeout time.Duration) bool {
	deadline := s.clock.Now().Add(timeout)
	for {
		s.Crank(ctx)
		if s.AllDone() && predicate() {
			return true
		}
		s.clock.Advance(step)
		if s.clock.Now().After(deadline) {
			return s.AllDone() && predicate()
		}
	}
}
