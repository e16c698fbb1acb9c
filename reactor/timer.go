// File: reactor/timer.go
// Author: momentics <momentics@gmail.com>
//
// Deadline-ordered timer list. Deadlines are monotonic milliseconds;
// expired timers fire in deadline order after each wait.

package reactor

import (
	"container/list"

	"github.com/momentics/hioload-reactor/api"
)

// Timer is one pending deadline. The zero value is ready for StartTimer;
// restarting an armed timer reschedules it.
type Timer struct {
	deadline uint64
	th       api.TimerHandler
	arg      any
	elem     *list.Element
}

// Armed reports whether the timer is scheduled.
func (t *Timer) Armed() bool { return t != nil && t.elem != nil }

type timerList struct {
	l *list.List
}

func (tl *timerList) init() {
	tl.l = list.New()
}

// StartTimer schedules t to fire after delay milliseconds. A delay of
// zero fires on the very next pass without blocking in wait.
func (r *Reactor) StartTimer(t *Timer, delay uint64, th api.TimerHandler, arg any) {
	if t == nil {
		return
	}
	r.CancelTimer(t)
	t.deadline = jiffies() + delay
	t.th = th
	t.arg = arg
	r.timers.insert(t)
}

// CancelTimer removes t from the timer list; a no-op when unarmed. O(1)
// through the element pointer the timer holds.
func (r *Reactor) CancelTimer(t *Timer) {
	if t == nil || t.elem == nil {
		return
	}
	r.timers.l.Remove(t.elem)
	t.elem = nil
}

// insert keeps the list ascending by deadline. Scans from the back:
// timers are typically started with monotonically increasing deadlines.
func (tl *timerList) insert(t *Timer) {
	for e := tl.l.Back(); e != nil; e = e.Prev() {
		if e.Value.(*Timer).deadline <= t.deadline {
			t.elem = tl.l.InsertAfter(t, e)
			return
		}
	}
	t.elem = tl.l.PushFront(t)
}

// nextTimeout returns the delta to the earliest deadline, 0 when an
// expired timer is already due (do not block), and ok=false when the list
// is empty (wait indefinitely).
func (tl *timerList) nextTimeout(now uint64) (uint64, bool) {
	front := tl.l.Front()
	if front == nil {
		return 0, false
	}
	t := front.Value.(*Timer)
	if t.deadline <= now {
		return 0, true
	}
	return t.deadline - now, true
}

// fire invokes expired timers in deadline order. The head is re-checked
// after every callback: handlers may insert or cancel other timers.
func (tl *timerList) fire(now uint64) {
	for {
		front := tl.l.Front()
		if front == nil {
			return
		}
		t := front.Value.(*Timer)
		if t.deadline > now {
			return
		}
		tl.l.Remove(front)
		t.elem = nil
		if t.th != nil {
			t.th(t.arg)
		}
	}
}
