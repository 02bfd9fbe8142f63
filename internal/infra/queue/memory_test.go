package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"ezra-digest/internal/domain"
)

func TestMemoryQueueRequeuesOnNack(t *testing.T) {
	q := NewMemoryDigestQueue(2)
	ctx := context.Background()
	if err := q.Enqueue(ctx, domain.DigestJob{ID: "a", Kind: domain.DigestJobRegenerate}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, ack, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if job.ID != "a" {
		t.Fatalf("expected job a, got %q", job.ID)
	}
	if err := ack(false); err != nil {
		t.Fatalf("nack: %v", err)
	}

	again, ack, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive after nack: %v", err)
	}
	if again.ID != "a" {
		t.Fatalf("expected requeued job a, got %q", again.ID)
	}
	if err := ack(true); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestMemoryQueueReceiveHonoursContext(t *testing.T) {
	q := NewMemoryDigestQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, _, err := q.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
