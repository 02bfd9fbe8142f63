package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ezra-digest/internal/domain"
	"ezra-digest/internal/infra/metrics"
)

// RedisDigestQueue хранит задачи в списке Redis. Полученная задача
// перекладывается в список "<key>:processing" и остаётся там до подтверждения,
// поэтому упавший воркер её не теряет.
type RedisDigestQueue struct {
	client     *redis.Client
	key        string
	processing string
}

var _ domain.DigestQueue = (*RedisDigestQueue)(nil)

func NewRedisDigestQueue(client *redis.Client, key string) *RedisDigestQueue {
	return &RedisDigestQueue{client: client, key: key, processing: key + ":processing"}
}

// Enqueue кладёт задачу в голову списка.
func (q *RedisDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redis queue: encode %s: %w", job.ID, err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("redis queue: push %s: %w", job.ID, err)
	}
	return nil
}

// Receive ждёт задачу с хвоста списка, опрашивая Redis раз в секунду, пока жив ctx.
func (q *RedisDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DigestJob{}, nil, err
		}
		start := time.Now()
		raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", time.Second).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil && ctx.Err() != nil:
			return domain.DigestJob{}, nil, ctx.Err()
		case err != nil:
			metrics.ObserveNetworkRequest("redis", "blmove", q.key, start, err)
			return domain.DigestJob{}, nil, fmt.Errorf("redis queue: receive: %w", err)
		}

		var job domain.DigestJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.client.LRem(context.WithoutCancel(ctx), q.processing, 1, raw)
			return domain.DigestJob{}, nil, fmt.Errorf("redis queue: decode: %w", err)
		}
		return job, q.acker(raw), nil
	}
}

// acker снимает задачу из processing; при отказе возвращает её в хвост,
// откуда её заберёт следующий Receive.
func (q *RedisDigestQueue) acker(raw string) domain.DigestAckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, raw)
			if !success {
				pipe.RPush(ctx, q.key, raw)
			}
			return nil
		})
		return err
	}
}
