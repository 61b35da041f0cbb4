package lsp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notification(method string) *Notification {
	return &Notification{Method: method}
}

func methodIs(method string) func(Message) bool {
	return func(msg Message) bool {
		n, ok := msg.(*Notification)
		return ok && n.Method == method
	}
}

func TestQueue_TakeMatchingImmediate(t *testing.T) {
	q := NewQueue()
	a, b, c := notification("a"), notification("b"), notification("c")
	q.Push(a)
	q.Push(b)
	q.Push(c)

	got := q.TakeMatching(methodIs("b"))
	assert.Same(t, b, got)
	assert.Equal(t, 2, q.Len())

	// the others keep their relative order
	assert.Same(t, a, q.TakeMatching(func(Message) bool { return true }))
	assert.Same(t, c, q.TakeMatching(func(Message) bool { return true }))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_TakeMatchingOldestFirst(t *testing.T) {
	q := NewQueue()
	first := &Notification{Method: "textDocument/publishDiagnostics", Params: []byte(`1`)}
	second := &Notification{Method: "textDocument/publishDiagnostics", Params: []byte(`2`)}
	q.Push(notification("other"))
	q.Push(first)
	q.Push(second)

	assert.Same(t, first, q.TakeMatching(methodIs("textDocument/publishDiagnostics")))
	assert.Same(t, second, q.TakeMatching(methodIs("textDocument/publishDiagnostics")))
}

func TestQueue_TakeMatchingBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	q.Push(notification("unrelated"))

	got := make(chan Message, 1)
	go func() {
		got <- q.TakeMatching(methodIs("wanted"))
	}()

	select {
	case msg := <-got:
		t.Fatalf("TakeMatching returned %v before a matching push", msg)
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(notification("still unrelated"))
	wanted := notification("wanted")
	q.Push(wanted)

	select {
	case msg := <-got:
		assert.Same(t, wanted, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("TakeMatching did not wake up after a matching push")
	}
	assert.Equal(t, 2, q.Len())
}

func TestQueue_MultipleWaiters(t *testing.T) {
	q := NewQueue()

	gotA := make(chan Message, 1)
	gotB := make(chan Message, 1)
	go func() { gotA <- q.TakeMatching(methodIs("a")) }()
	go func() { gotB <- q.TakeMatching(methodIs("b")) }()

	b := notification("b")
	a := notification("a")
	q.Push(b)
	q.Push(a)

	for _, tc := range []struct {
		ch   chan Message
		want Message
	}{{gotA, a}, {gotB, b}} {
		select {
		case msg := <-tc.ch:
			assert.Same(t, tc.want, msg)
		case <-time.After(5 * time.Second):
			t.Fatal("waiter was not woken")
		}
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Seen(t *testing.T) {
	q := NewQueue()
	assert.False(t, q.Seen(methodIs("a")))

	q.Push(notification("a"))
	assert.True(t, q.Seen(methodIs("a")), "pending message should be seen")

	q.TakeMatching(methodIs("a"))
	assert.Equal(t, 0, q.Len())
	assert.True(t, q.Seen(methodIs("a")), "taken message should stay in history")
	assert.False(t, q.Seen(methodIs("b")))
}

func TestQueue_TakeMatchingContext(t *testing.T) {
	q := NewQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	msg, err := q.TakeMatchingContext(ctx, methodIs("never"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, msg)

	q.Push(notification("now"))
	msg, err = q.TakeMatchingContext(context.Background(), methodIs("now"))
	require.NoError(t, err)
	assert.Equal(t, "now", msg.(*Notification).Method)
}

func TestQueue_TakeMatchingContextPrefersQueuedMessage(t *testing.T) {
	q := NewQueue()
	q.Push(notification("ready"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := q.TakeMatchingContext(ctx, methodIs("ready"))
	require.NoError(t, err)
	assert.NotNil(t, msg)
}
