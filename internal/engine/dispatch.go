package engine

import (
	"container/heap"

	"github.com/quinn/tabmind/internal/settings"
	"github.com/quinn/tabmind/internal/task"
)

// pendingRef is a heap entry for a queued task. Priority orders the
// heap; admission sequence breaks ties so equal priorities run in
// arrival order.
type pendingRef struct {
	id       string
	priority task.Priority
	seq      uint64
}

type refHeap []pendingRef

func (h refHeap) Len() int { return len(h) }

func (h refHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h refHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *refHeap) Push(x any) { *h = append(*h, x.(pendingRef)) }

func (h *refHeap) Pop() any {
	old := *h
	n := len(old)
	ref := old[n-1]
	*h = old[:n-1]
	return ref
}

type pendingQueue struct {
	refs refHeap
}

func newPendingQueue() *pendingQueue {
	q := &pendingQueue{}
	heap.Init(&q.refs)
	return q
}

func (q *pendingQueue) push(ref pendingRef) { heap.Push(&q.refs, ref) }

func (q *pendingQueue) pop() (pendingRef, bool) {
	if len(q.refs) == 0 {
		return pendingRef{}, false
	}
	return heap.Pop(&q.refs).(pendingRef), true
}

// dispatch is the single admission loop: acquire a concurrency slot,
// then hand the highest-priority pending task to a supervisor. Holding
// the slot before popping means the pick happens at the moment a slot
// frees, so a Critical task queued while the engine was saturated beats
// older Low tasks to the next opening.
func (e *Engine) dispatch() {
	defer e.wg.Done()
	for {
		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			return
		}
		id, ok := e.nextPending()
		for !ok {
			e.sem.Release(1)
			select {
			case <-e.ctx.Done():
				return
			case <-e.wake:
			}
			if err := e.sem.Acquire(e.ctx, 1); err != nil {
				return
			}
			id, ok = e.nextPending()
		}
		e.wg.Add(1)
		go e.runTask(id)
	}
}

// nextPending pops heap entries until one still refers to a Pending
// task. Entries for tasks cancelled before start are discarded here;
// the stamped task itself already left the queue's concern.
func (e *Engine) nextPending() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		ref, ok := e.pending.pop()
		if !ok {
			return "", false
		}
		if t, ok := e.store.Get(ref.id); ok && t.Status == task.StatusPending {
			return ref.id, true
		}
	}
}

// SetMaxConcurrent resizes the effective concurrency cap by parking or
// releasing permits against the fixed ceiling. Shrinking blocks until
// enough running tasks finish to surrender the difference, so callers
// that must not stall should invoke it from a goroutine.
func (e *Engine) SetMaxConcurrent(n int) error {
	if n < settings.MinConcurrent {
		n = settings.MinConcurrent
	}
	if n > settings.MaxConcurrent {
		n = settings.MaxConcurrent
	}

	e.parkMu.Lock()
	defer e.parkMu.Unlock()

	want := int64(settings.MaxConcurrent - n)
	switch {
	case want < e.parked:
		e.sem.Release(e.parked - want)
		e.parked = want
		e.signalWake()
	case want > e.parked:
		if err := e.sem.Acquire(e.ctx, want-e.parked); err != nil {
			return err
		}
		e.parked = want
	}
	e.cfg.SetMaxConcurrentTasks(n)
	e.logger.InfoCtx("concurrency cap changed", map[string]any{"max_concurrent": n})
	return nil
}
