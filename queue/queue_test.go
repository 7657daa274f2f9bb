package queue_test

import (
	"testing"

	"github.com/hashplex/lightningd/queue"
)

func TestConcurrentQueue(t *testing.T) {
	q := queue.NewConcurrentQueue(100)
	q.Start()
	defer q.Stop()

	// Pushes should never block for long.
	for i := 0; i < 1000; i++ {
		q.ChanIn() <- i
	}

	// Pops also should not block for long. Expect elements in FIFO order.
	for i := 0; i < 1000; i++ {
		item := <-q.ChanOut()
		if i != item.(int) {
			t.Fatalf("Dequeued wrong value: expected %d, got %d", i, item.(int))
		}
	}
}
