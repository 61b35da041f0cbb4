package lsp

import (
	"context"
	"sync"
)

// Queue holds decoded messages until a caller takes them. It has a single
// producer (the background reader) and any number of consumers.
//
// Messages are scanned oldest first, so among several messages matching the
// same predicate the earliest arrival is always returned. Taken messages are
// kept in a history so Seen can answer "has this ever arrived".
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Message
	history []Message
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends msg and wakes every waiter. Waiters block on different
// predicates, so a single wake could pick one that does not match.
func (q *Queue) Push(msg Message) {
	q.mu.Lock()
	q.pending = append(q.pending, msg)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// TakeMatching removes and returns the oldest message for which match
// returns true, blocking until one is pushed. It never times out.
func (q *Queue) TakeMatching(match func(Message) bool) Message {
	msg, _ := q.TakeMatchingContext(context.Background(), match)
	return msg
}

// TakeMatchingContext is TakeMatching with cancellation. It returns ctx.Err()
// if ctx is done before a matching message arrives.
func (q *Queue) TakeMatchingContext(ctx context.Context, match func(Message) bool) (Message, error) {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.cond.Broadcast()
		})
		defer stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for i, msg := range q.pending {
			if match(msg) {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				q.history = append(q.history, msg)
				return msg, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.cond.Wait()
	}
}

// Len returns the number of messages not yet taken.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Seen reports whether any message, pending or already taken, matches.
func (q *Queue) Seen(match func(Message) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, msg := range q.history {
		if match(msg) {
			return true
		}
	}
	for _, msg := range q.pending {
		if match(msg) {
			return true
		}
	}
	return false
}
