// Package scheduler provides the single-threaded task queue the enforcement engine runs on.
// All engine state is touched only from tasks executed by a Queue, so it needs no locking.
package scheduler

import (
	"time"
)

// Task is a unit of work executed on the queue goroutine.
type Task func()

// Queue executes tasks serially, in submission order for equal due times.
type Queue interface {
	// Post schedules task to run as soon as possible.
	Post(task Task)

	// PostDelayed schedules task to run after delay. It never blocks.
	PostDelayed(delay time.Duration, task Task)

	// CancelDelayed drops every delayed task that has not started yet.
	// Tasks submitted with Post are kept.
	CancelDelayed()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
