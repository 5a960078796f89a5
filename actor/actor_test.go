package actor

import (
	"testing"
	"time"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Put(i)
	}
	for i := 0; i < 5; i++ {
		select {
		case v := <-q.Out():
			if v.(int) != i {
				t.Errorf("got %v, want %d", v, i)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for queued item")
		}
	}
}

func TestQueueBlocksWhenEmpty(t *testing.T) {
	q := NewQueue()
	select {
	case v := <-q.Out():
		t.Fatalf("unexpected item from empty queue: %v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestGateBlockUnblock(t *testing.T) {
	g := NewGate()
	if g.Blocked() {
		t.Fatal("new gate should not be blocked")
	}

	g.Block()
	if !g.Blocked() {
		t.Fatal("gate should be blocked after Block")
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Unblock")
	case <-time.After(20 * time.Millisecond):
	}

	g.Unblock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Unblock")
	}
}

func TestGateNestedBlock(t *testing.T) {
	g := NewGate()
	g.Block()
	g.Block()
	g.Unblock()
	if !g.Blocked() {
		t.Fatal("gate should still be blocked after one of two Unblocks")
	}
	g.Unblock()
	if g.Blocked() {
		t.Fatal("gate should be unblocked after matching Unblocks")
	}
}

func TestGateUnmatchedUnblockPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unmatched Unblock")
		}
	}()
	NewGate().Unblock()
}
