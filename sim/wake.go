package sim

import "container/heap"

// wakeEntry is an externally armed instant with a sequence id for FIFO
// tie-breaking between equal timestamps.
type wakeEntry struct {
	at    Timestamp
	seqID int64
}

// WakeQueue is a min-heap of externally armed instants ordered by (at, seqID).
// Implements heap.Interface.
type WakeQueue []wakeEntry

func (q WakeQueue) Len() int { return len(q) }

func (q WakeQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seqID < q[j].seqID
}

func (q WakeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *WakeQueue) Push(x any) {
	*q = append(*q, x.(wakeEntry))
}

func (q *WakeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Peek returns the earliest armed instant, or TSNever when empty.
func (q WakeQueue) Peek() Timestamp {
	if len(q) == 0 {
		return TSNever
	}
	return q[0].at
}

// drainThrough removes every armed instant <= t.
func (q *WakeQueue) drainThrough(t Timestamp) {
	for q.Len() > 0 && (*q)[0].at <= t {
		heap.Pop(q)
	}
}
