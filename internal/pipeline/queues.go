package pipeline

import (
	"container/heap"
	"sync"

	"skimmer/internal/media"
)

// acquireQueue orders items by explicit priority, falling back to insertion
// order so unprioritized traffic stays FIFO.
type acquireQueue struct {
	mu   sync.Mutex
	heap acquireHeap
	seq  uint64
}

type acquireEntry struct {
	item *media.Item
	seq  uint64
}

type acquireHeap []acquireEntry

func (h acquireHeap) Len() int { return len(h) }

func (h acquireHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h acquireHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *acquireHeap) Push(x any) { *h = append(*h, x.(acquireEntry)) }

func (h *acquireHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

func newAcquireQueue() *acquireQueue {
	return &acquireQueue{}
}

func (q *acquireQueue) push(item *media.Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.heap, acquireEntry{item: item, seq: q.seq})
}

func (q *acquireQueue) pop() *media.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	entry := heap.Pop(&q.heap).(acquireEntry)
	return entry.item
}

func (q *acquireQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// fifoQueue is the plain ordered queue behind the transform and publish
// stages.
type fifoQueue struct {
	mu    sync.Mutex
	items []*media.Item
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{}
}

func (q *fifoQueue) push(item *media.Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

func (q *fifoQueue) pop() *media.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

func (q *fifoQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
