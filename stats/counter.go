// Package stats accumulates distributions over harvested records.
package stats

import (
	"cmp"
	"slices"
)

// Entry is one key of a counter with its count.
type Entry[K comparable] struct {
	Key   K   `json:"key"`
	Count int `json:"count"`
}

// Counter counts keys and remembers the order each key was first seen.
type Counter[K comparable] struct {
	counts map[K]int
	order  []K
}

// NewCounter returns an empty counter.
func NewCounter[K comparable]() *Counter[K] {
	return &Counter[K]{counts: make(map[K]int)}
}

// Add counts k once.
func (c *Counter[K]) Add(k K) {
	c.AddN(k, 1)
}

// AddN counts k n times.
func (c *Counter[K]) AddN(k K, n int) {
	if _, ok := c.counts[k]; !ok {
		c.order = append(c.order, k)
	}
	c.counts[k] += n
}

// Count is the number of times k was added.
func (c *Counter[K]) Count(k K) int {
	return c.counts[k]
}

// Len is the number of distinct keys.
func (c *Counter[K]) Len() int {
	return len(c.order)
}

// Total sums every count.
func (c *Counter[K]) Total() int {
	total := 0
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Entries lists keys in first-seen order.
func (c *Counter[K]) Entries() []Entry[K] {
	out := make([]Entry[K], 0, len(c.order))
	for _, k := range c.order {
		out = append(out, Entry[K]{Key: k, Count: c.counts[k]})
	}
	return out
}

// Top returns the n most frequent keys, highest count first. Ties keep
// first-seen order. n <= 0 returns every key.
func (c *Counter[K]) Top(n int) []Entry[K] {
	out := c.Entries()
	slices.SortStableFunc(out, func(a, b Entry[K]) int {
		return cmp.Compare(b.Count, a.Count)
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Clone copies the counter.
func (c *Counter[K]) Clone() *Counter[K] {
	out := &Counter[K]{
		counts: make(map[K]int, len(c.counts)),
		order:  slices.Clone(c.order),
	}
	for k, v := range c.counts {
		out.counts[k] = v
	}
	return out
}

// SortedByKey lists entries in ascending key order.
func SortedByKey[K cmp.Ordered](c *Counter[K]) []Entry[K] {
	out := c.Entries()
	slices.SortFunc(out, func(a, b Entry[K]) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}
