package scheduler

import (
	"container/heap"
	"time"
)

// Virtual is a Queue driven by virtual time. Nothing runs until Advance or RunPending is called,
// which makes timing-dependent engine behavior reproducible in tests and simulations.
// Virtual also implements domain.Clock. It is not safe for concurrent use.
type Virtual struct {
	now   time.Time
	seq   uint64
	items virtualHeap
}

// NewVirtual creates a virtual queue whose clock starts at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the current virtual time.
func (v *Virtual) Now() time.Time { return v.now }

// Post schedules task at the current virtual time.
func (v *Virtual) Post(task Task) {
	v.push(v.now, task, false)
}

// PostDelayed schedules task at now+delay.
func (v *Virtual) PostDelayed(delay time.Duration, task Task) {
	if delay < 0 {
		delay = 0
	}
	v.push(v.now.Add(delay), task, true)
}

// CancelDelayed drops every pending delayed task.
func (v *Virtual) CancelDelayed() {
	kept := v.items[:0]
	for _, it := range v.items {
		if !it.delayed {
			kept = append(kept, it)
		}
	}
	for i := len(kept); i < len(v.items); i++ {
		v.items[i] = nil
	}
	v.items = kept
	heap.Init(&v.items)
}

// Advance moves the clock forward by d, running every task due on the way in due order.
// The clock reads each task's due time while that task runs.
func (v *Virtual) Advance(d time.Duration) {
	target := v.now.Add(d)
	v.runUntil(target)
	v.now = target
}

// RunPending runs every task due at the current virtual time.
func (v *Virtual) RunPending() {
	v.runUntil(v.now)
}

// Pending returns the number of queued tasks.
func (v *Virtual) Pending() int {
	return len(v.items)
}

// NextDue returns the due time of the earliest queued task.
func (v *Virtual) NextDue() (time.Time, bool) {
	if len(v.items) == 0 {
		return time.Time{}, false
	}
	return v.items[0].due, true
}

func (v *Virtual) runUntil(target time.Time) {
	for len(v.items) > 0 && !v.items[0].due.After(target) {
		it := heap.Pop(&v.items).(*virtualItem)
		if it.due.After(v.now) {
			v.now = it.due
		}
		it.task()
	}
}

func (v *Virtual) push(due time.Time, task Task, delayed bool) {
	v.seq++
	heap.Push(&v.items, &virtualItem{due: due, seq: v.seq, task: task, delayed: delayed})
}

type virtualItem struct {
	due     time.Time
	seq     uint64
	task    Task
	delayed bool
}

// virtualHeap orders by due time, then submission order.
type virtualHeap []*virtualItem

func (h virtualHeap) Len() int { return len(h) }

func (h virtualHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h virtualHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *virtualHeap) Push(x any) { *h = append(*h, x.(*virtualItem)) }

func (h *virtualHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Ensure Virtual implements Queue.
var _ Queue = (*Virtual)(nil)
