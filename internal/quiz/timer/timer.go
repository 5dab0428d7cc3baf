// SPDX-License-Identifier: MIT

// Package timer drives the countdown for an active question: one tick
// broadcast per second and a single deadline event at timerEndTime.
//
// Ticks are scheduled on absolute deadlines against an injectable clock,
// never by sleeping a fixed period. A delayed wakeup catches up to the
// current second and emits exactly one tick; the deadline is checked on
// every wakeup so it cannot be skipped, and it fires at most once per
// question timer.
package timer

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quizwire/quizwire/internal/clock"
	"github.com/quizwire/quizwire/internal/metrics"
)

// Callbacks receive timer events. They are invoked from the timer goroutine;
// implementations enqueue onto the session actor rather than doing work
// inline.
type Callbacks struct {
	OnTick     func(questionID string, remainingSeconds int, serverTime int64)
	OnDeadline func(questionID string)
}

type command int

const (
	cmdPause command = iota
	cmdResume
	cmdStop
)

type controlMsg struct {
	cmd      command
	newLimit time.Duration // cmdResume with newLimit>0 means reset
	applied  chan struct{}
}

// QuestionTimer is the countdown for one (session, question) pair. All
// mutation happens on its internal goroutine; Pause/Resume/Reset/Stop just
// send commands.
type QuestionTimer struct {
	clk        clockwork.Clock
	questionID string
	ctrl       chan controlMsg
	done       chan struct{}
}

// Start creates and starts a countdown of timeLimit. The first tick fires
// one second in, the deadline at now+timeLimit.
func Start(clk clockwork.Clock, questionID string, timeLimit time.Duration, cb Callbacks) *QuestionTimer {
	t := &QuestionTimer{
		clk:        clk,
		questionID: questionID,
		ctrl:       make(chan controlMsg, 4),
		done:       make(chan struct{}),
	}
	go t.run(clk.Now().Add(timeLimit), cb)
	return t
}

// Pause freezes the remaining time. No ticks or deadline fire while paused.
func (t *QuestionTimer) Pause() { t.send(controlMsg{cmd: cmdPause}) }

// Resume continues a paused countdown; the deadline moves out by the paused
// interval.
func (t *QuestionTimer) Resume() { t.send(controlMsg{cmd: cmdResume}) }

// Reset restarts the countdown with a new limit from now. Works paused or
// running; a paused timer resumes.
func (t *QuestionTimer) Reset(newLimit time.Duration) {
	t.send(controlMsg{cmd: cmdResume, newLimit: newLimit})
}

// Stop cancels pending ticks and the deadline. Idempotent.
func (t *QuestionTimer) Stop() { t.send(controlMsg{cmd: cmdStop}) }

// Done is closed when the timer goroutine has exited, after the deadline or
// a stop.
func (t *QuestionTimer) Done() <-chan struct{} { return t.done }

// send delivers a command and waits until the timer goroutine has applied
// it, so callers observe the new state immediately. Callbacks therefore must
// not call back into the timer.
func (t *QuestionTimer) send(m controlMsg) {
	m.applied = make(chan struct{})
	select {
	case t.ctrl <- m:
	case <-t.done:
		return
	}
	select {
	case <-m.applied:
	case <-t.done:
	}
}

func (t *QuestionTimer) run(endTime time.Time, cb Callbacks) {
	defer close(t.done)

	paused := false
	var remaining time.Duration // frozen remainder while paused

	for {
		if paused {
			m := <-t.ctrl
			switch m.cmd {
			case cmdStop:
				close(m.applied)
				return
			case cmdResume:
				if m.newLimit > 0 {
					remaining = m.newLimit
				}
				endTime = t.clk.Now().Add(remaining)
				paused = false
			}
			close(m.applied)
			continue
		}

		now := t.clk.Now()
		if !now.Before(endTime) {
			cb.OnDeadline(t.questionID)
			return
		}

		// Next tick on the whole-second grid anchored at endTime. A late
		// wakeup lands on the current second: one tick, never a burst.
		remainingSecs := int((endTime.Sub(now) + time.Second - 1) / time.Second)
		nextTick := endTime.Add(-time.Duration(remainingSecs-1) * time.Second)

		select {
		case m := <-t.ctrl:
			switch m.cmd {
			case cmdStop:
				close(m.applied)
				return
			case cmdPause:
				remaining = endTime.Sub(t.clk.Now())
				if remaining < 0 {
					remaining = 0
				}
				paused = true
			case cmdResume:
				if m.newLimit > 0 {
					endTime = t.clk.Now().Add(m.newLimit)
				}
			}
			close(m.applied)

		case <-t.clk.After(nextTick.Sub(now)):
			wake := t.clk.Now()
			metrics.ObserveTickLag(wake.Sub(nextTick))
			if !wake.Before(endTime) {
				cb.OnDeadline(t.questionID)
				return
			}
			rem := int((endTime.Sub(wake) + time.Second - 1) / time.Second)
			cb.OnTick(t.questionID, rem, clock.Millis(time.Now()))
		}
	}
}
