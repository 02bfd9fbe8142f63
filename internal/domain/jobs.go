package domain

import (
	"context"
	"time"
)

// DigestJobKind описывает тип задачи построения дайджеста.
type DigestJobKind string

const (
	// DigestJobScheduled — плановый дайджест по необработанным сообщениям.
	DigestJobScheduled DigestJobKind = "scheduled"
	// DigestJobRegenerate — ручная пересборка дайджеста за календарный день.
	DigestJobRegenerate DigestJobKind = "regenerate"
)

// DigestJob содержит информацию о задаче построения дайджеста.
type DigestJob struct {
	ID          string        `json:"job_id"`
	Kind        DigestJobKind `json:"kind"`
	Date        time.Time     `json:"date"`
	ChatID      int64         `json:"chat_id,omitempty"`
	RequestedBy int64         `json:"requested_by,omitempty"`
	RequestedAt time.Time     `json:"requested_at"`
}

// DigestQueue описывает очередь задач на построение дайджестов.
type DigestQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
	Receive(ctx context.Context) (DigestJob, DigestAckFunc, error)
}

// DigestAckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type DigestAckFunc func(success bool) error
