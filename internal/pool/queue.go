package pool

import "container/heap"

// taskQueue is a heap ordered by priority (higher first) with enqueue
// order breaking ties, which degrades to plain FIFO when priority is
// disabled.
type taskQueue struct {
	items      []*Task
	byPriority bool
}

func newTaskQueue(byPriority bool) *taskQueue {
	return &taskQueue{byPriority: byPriority}
}

func (q *taskQueue) Len() int { return len(q.items) }

func (q *taskQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if q.byPriority && a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func (q *taskQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *taskQueue) Push(x any) { q.items = append(q.items, x.(*Task)) }

func (q *taskQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

func (q *taskQueue) push(t *Task) { heap.Push(q, t) }

func (q *taskQueue) pop() *Task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*Task)
}

func (q *taskQueue) drain() []*Task {
	out := q.items
	q.items = nil
	return out
}
