package scheduler

import (
	"context"
	"sync"
	"time"
)

// Loop is the production Queue: one goroutine (Run) drains ready tasks,
// delayed tasks are parked on timers and moved to the ready list when they fire.
type Loop struct {
	mu     sync.Mutex
	ready  []Task
	timers map[uint64]*time.Timer
	nextID uint64
	epoch  uint64 // bumped by CancelDelayed so already-fired timers drop their task
	wake   chan struct{}
}

// NewLoop creates an idle loop. Call Run to start executing tasks.
func NewLoop() *Loop {
	return &Loop{
		timers: make(map[uint64]*time.Timer),
		wake:   make(chan struct{}, 1),
	}
}

// Post schedules task to run as soon as possible.
func (l *Loop) Post(task Task) {
	l.mu.Lock()
	l.ready = append(l.ready, task)
	l.mu.Unlock()
	l.signal()
}

// PostDelayed schedules task to run after delay.
func (l *Loop) PostDelayed(delay time.Duration, task Task) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	epoch := l.epoch

	l.timers[id] = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, id)
		if epoch != l.epoch {
			l.mu.Unlock()
			return
		}
		l.ready = append(l.ready, task)
		l.mu.Unlock()
		l.signal()
	})
}

// CancelDelayed stops every pending timer.
func (l *Loop) CancelDelayed() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.epoch++
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
}

// Pending returns the number of tasks waiting (ready or delayed).
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ready) + len(l.timers)
}

// Run executes tasks until ctx is canceled. It must be called from exactly one goroutine.
func (l *Loop) Run(ctx context.Context) error {
	defer l.CancelDelayed()

	for {
		for {
			task, ok := l.next()
			if !ok {
				break
			}
			task()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// next pops one ready task. Popping one at a time lets a running task cancel the rest.
func (l *Loop) next() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.ready) == 0 {
		return nil, false
	}
	task := l.ready[0]
	l.ready[0] = nil
	l.ready = l.ready[1:]
	return task, true
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Ensure Loop implements Queue.
var _ Queue = (*Loop)(nil)
