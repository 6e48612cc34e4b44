// Package queue provides the bounded FIFO used between the bridge's producers
// and consumers.
package queue

import (
	"fmt"
	"strings"
)

// Policy decides what happens when Push is called on a full queue.
type Policy int

const (
	// DropNewest rejects the incoming item.
	DropNewest Policy = iota
	// DropOldest evicts the head of the queue to make room.
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names produced by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop-newest", "newest", "":
		return DropNewest, nil
	case "drop-oldest", "oldest":
		return DropOldest, nil
	default:
		return DropNewest, fmt.Errorf("unknown queue policy %q: expected drop-newest or drop-oldest", s)
	}
}

// Queue is a FIFO with an optional capacity. It is not safe for concurrent
// use; the bridge loop is its only owner.
type Queue[T any] struct {
	items    []T
	head     int
	capacity int
	policy   Policy
	dropped  uint64
}

// New returns an empty queue. capacity <= 0 means unbounded.
func New[T any](capacity int, policy Policy) *Queue[T] {
	return &Queue[T]{capacity: capacity, policy: policy}
}

// Push appends v. It returns false if an item was dropped to honour the
// capacity: v itself under DropNewest, the oldest item under DropOldest.
func (q *Queue[T]) Push(v T) bool {
	if q.capacity > 0 && q.Len() >= q.capacity {
		q.dropped++
		if q.policy == DropNewest {
			return false
		}
		q.Pop()
		q.items = append(q.items, v)
		return false
	}
	q.items = append(q.items, v)
	return true
}

// Pop removes and returns the head of the queue.
func (q *Queue[T]) Pop() (T, bool) {
	var zero T
	if q.Empty() {
		return zero, false
	}
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	q.compact()
	return v, true
}

// Peek returns the head without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	if q.Empty() {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Cap returns the configured capacity, 0 if unbounded.
func (q *Queue[T]) Cap() int {
	if q.capacity < 0 {
		return 0
	}
	return q.capacity
}

// Policy returns the overflow policy.
func (q *Queue[T]) Policy() Policy {
	return q.policy
}

// Dropped returns how many items have been lost to overflow.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped
}

// compact reclaims the consumed prefix once it dominates the backing array.
func (q *Queue[T]) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 32 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
}
