package queue

import (
	"context"

	"ezra-digest/internal/domain"
)

// MemoryDigestQueue — очередь в памяти процесса для встроенного планировщика.
type MemoryDigestQueue struct {
	jobs chan domain.DigestJob
}

var _ domain.DigestQueue = (*MemoryDigestQueue)(nil)

// NewMemoryDigestQueue создаёт очередь с заданной ёмкостью.
func NewMemoryDigestQueue(capacity int) *MemoryDigestQueue {
	if capacity <= 0 {
		capacity = 16
	}
	return &MemoryDigestQueue{jobs: make(chan domain.DigestJob, capacity)}
}

// Enqueue кладёт задачу, ожидая свободного места.
func (q *MemoryDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive ждёт задачу. Отказ в подтверждении возвращает её в очередь.
func (q *MemoryDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	select {
	case job := <-q.jobs:
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.Enqueue(context.Background(), job)
		}
		return job, ack, nil
	case <-ctx.Done():
		return domain.DigestJob{}, nil, ctx.Err()
	}
}
