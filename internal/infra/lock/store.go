package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ezra-digest/internal/domain"
)

// StoreLocker держит блокировку арендой в общем хранилище. Процессы над одной базой
// (встроенный планировщик, cmd/scheduler, digestctl) сериализуются без Redis.
type StoreLocker struct {
	leases domain.LeaseRepo
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

var _ domain.DateLocker = (*StoreLocker)(nil)

// NewStoreLocker создаёт блокировку. ttl ограничивает удержание ключа упавшим владельцем.
func NewStoreLocker(leases domain.LeaseRepo, prefix string, ttl time.Duration) *StoreLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StoreLocker{leases: leases, prefix: prefix, ttl: ttl, retry: 500 * time.Millisecond}
}

// Lock опрашивает хранилище, пока аренда не достанется этому владельцу или не отменят ctx.
func (l *StoreLocker) Lock(ctx context.Context, key string) (func(), error) {
	full := l.prefix + key
	owner := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.leases.AcquireLease(ctx, full, owner, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = l.leases.ReleaseLease(ctx, full, owner)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
