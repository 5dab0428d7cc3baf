// SPDX-License-Identifier: MIT

package timer

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	ticks     chan int
	deadlines chan string
}

func newRecorder() *recorder {
	return &recorder{ticks: make(chan int, 100), deadlines: make(chan string, 10)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnTick:     func(_ string, rem int, _ int64) { r.ticks <- rem },
		OnDeadline: func(q string) { r.deadlines <- q },
	}
}

func (r *recorder) tick(t *testing.T) int {
	t.Helper()
	select {
	case rem := <-r.ticks:
		return rem
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
		return 0
	}
}

func (r *recorder) deadline(t *testing.T) string {
	t.Helper()
	select {
	case q := <-r.deadlines:
		return q
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deadline")
		return ""
	}
}

func (r *recorder) noTick() bool {
	select {
	case <-r.ticks:
		return false
	default:
		return true
	}
}

func TestTicksCountDownToDeadline(t *testing.T) {
	clk := clockwork.NewFakeClock()
	rec := newRecorder()
	tm := Start(clk, "q1", 3*time.Second, rec.callbacks())
	defer tm.Stop()

	clk.BlockUntil(1)
	clk.Advance(time.Second)
	if rem := rec.tick(t); rem != 2 {
		t.Errorf("first tick remaining = %d, want 2", rem)
	}

	clk.BlockUntil(1)
	clk.Advance(time.Second)
	if rem := rec.tick(t); rem != 1 {
		t.Errorf("second tick remaining = %d, want 1", rem)
	}

	clk.BlockUntil(1)
	clk.Advance(time.Second)
	if q := rec.deadline(t); q != "q1" {
		t.Errorf("deadline question = %q", q)
	}
	<-tm.Done()

	if len(rec.deadlines) != 0 {
		t.Error("deadline fired more than once")
	}
}

func TestDelayedWakeupEmitsOneTick(t *testing.T) {
	clk := clockwork.NewFakeClock()
	rec := newRecorder()
	tm := Start(clk, "q1", 10*time.Second, rec.callbacks())
	defer tm.Stop()

	// jump 4.5 seconds in one step: the scheduler catches up with a single
	// tick carrying the current remaining time
	clk.BlockUntil(1)
	clk.Advance(4500 * time.Millisecond)

	if rem := rec.tick(t); rem != 6 {
		t.Errorf("catch-up tick remaining = %d, want 6", rem)
	}
	if !rec.noTick() {
		t.Error("catch-up must emit exactly one tick")
	}
}

func TestDeadlineFiresOnceEvenWhenLate(t *testing.T) {
	clk := clockwork.NewFakeClock()
	rec := newRecorder()
	tm := Start(clk, "q1", 2*time.Second, rec.callbacks())

	clk.BlockUntil(1)
	clk.Advance(time.Minute)

	rec.deadline(t)
	<-tm.Done()
	if len(rec.deadlines) != 0 {
		t.Error("deadline fired more than once")
	}

	// Stop after completion is a no-op
	tm.Stop()
}

func TestPauseFreezesCountdown(t *testing.T) {
	clk := clockwork.NewFakeClock()
	rec := newRecorder()
	tm := Start(clk, "q1", 10*time.Second, rec.callbacks())
	defer tm.Stop()

	clk.BlockUntil(1)
	clk.Advance(time.Second)
	rec.tick(t) // remaining 9

	tm.Pause()
	clk.Advance(time.Hour)
	if !rec.noTick() || len(rec.deadlines) != 0 {
		t.Fatal("paused timer must not tick or expire")
	}

	// resume: the 9 frozen seconds continue from here
	tm.Resume()
	clk.BlockUntil(1)
	clk.Advance(9 * time.Second)

	rec.deadline(t)
	<-tm.Done()
}

func TestResetReplacesDeadline(t *testing.T) {
	clk := clockwork.NewFakeClock()
	rec := newRecorder()
	tm := Start(clk, "q1", 5*time.Second, rec.callbacks())
	defer tm.Stop()

	clk.BlockUntil(1)
	tm.Reset(30 * time.Second)

	// the old 5s deadline is gone
	clk.Advance(10 * time.Second)
	if len(rec.deadlines) != 0 {
		t.Fatal("old deadline must not fire after reset")
	}

	clk.BlockUntil(1)
	clk.Advance(20 * time.Second)
	rec.deadline(t)
	<-tm.Done()
}

func TestStopCancelsEverything(t *testing.T) {
	clk := clockwork.NewFakeClock()
	rec := newRecorder()
	tm := Start(clk, "q1", 10*time.Second, rec.callbacks())

	clk.BlockUntil(1)
	tm.Stop()
	<-tm.Done()

	clk.Advance(time.Minute)
	if !rec.noTick() || len(rec.deadlines) != 0 {
		t.Error("stopped timer must not fire")
	}
}
