package crawler

import "github.com/aluiziolira/go-scrape-titles/models"

// Queue is a FIFO of frontier items. Popped slots are reclaimed once the
// consumed prefix dominates the backing slice.
type Queue struct {
	items []models.FrontierItem
	head  int
}

// Push appends an item at the back.
func (q *Queue) Push(item models.FrontierItem) {
	q.items = append(q.items, item)
}

// Pop removes the front item. ok is false when the queue is empty.
func (q *Queue) Pop() (item models.FrontierItem, ok bool) {
	if q.head >= len(q.items) {
		return models.FrontierItem{}, false
	}
	item = q.items[q.head]
	q.items[q.head] = models.FrontierItem{}
	q.head++

	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// Len is the number of pending items.
func (q *Queue) Len() int {
	return len(q.items) - q.head
}

// Visited is the set of ids dequeued at least once.
type Visited map[string]struct{}

// Add marks id as visited.
func (v Visited) Add(id string) {
	v[id] = struct{}{}
}

// Has reports whether id was visited.
func (v Visited) Has(id string) bool {
	_, ok := v[id]
	return ok
}
