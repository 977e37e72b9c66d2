package detail

import (
	"context"
	"fmt"
	"sync"
)

// Queue is a FIFO of pending listing URLs. Every enqueued item must be
// acknowledged exactly once; Join blocks until the whole queue is drained.
type Queue struct {
	ch chan string
	wg sync.WaitGroup
}

// NewQueue enqueues every URL once. The queue accepts no further items.
func NewQueue(urls []string) *Queue {
	q := &Queue{ch: make(chan string, len(urls))}
	for _, u := range urls {
		q.ch <- u
	}
	close(q.ch)
	q.wg.Add(len(urls))
	return q
}

// Dequeue pops the next URL. ok is false once the queue is exhausted.
func (q *Queue) Dequeue(ctx context.Context) (url string, ok bool, err error) {
	select {
	case <-ctx.Done():
		return "", false, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case u, more := <-q.ch:
		return u, more, nil
	}
}

// Ack marks one dequeued item as fully handled (processed, skipped, or
// permanently failed).
func (q *Queue) Ack() {
	q.wg.Done()
}

// Join waits until every enqueued item has been acknowledged.
func (q *Queue) Join(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("join canceled: %w", ctx.Err())
	case <-done:
		return nil
	}
}
