package engine

import (
	"container/heap"
	"sync"

	"github.com/IshaanNene/reviewgoat/internal/types"
)

// Frontier is a thread-safe priority queue of crawl requests. Requests of
// equal priority leave in the order they were pushed.
type Frontier struct {
	mu     sync.Mutex
	pq     priorityQueue
	seq    uint64
	closed bool
}

// NewFrontier creates a new Frontier.
func NewFrontier() *Frontier {
	f := &Frontier{pq: make(priorityQueue, 0, 256)}
	heap.Init(&f.pq)
	return f
}

// Push adds a request. It reports false once the frontier is closed.
func (f *Frontier) Push(req *types.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	f.seq++
	heap.Push(&f.pq, &pqItem{request: req, priority: req.Priority, seq: f.seq})
	return true
}

// TryPop removes the highest-priority request, or returns nil if the queue is
// empty or closed.
func (f *Frontier) TryPop() *types.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || f.pq.Len() == 0 {
		return nil
	}
	return heap.Pop(&f.pq).(*pqItem).request
}

// Len returns the number of queued requests.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pq.Len()
}

// Close stops the frontier from handing out or accepting requests. Queued
// requests are abandoned.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// IsClosed returns true if the frontier has been closed.
func (f *Frontier) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type pqItem struct {
	request  *types.Request
	priority int
	seq      uint64
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}
