package lock

import (
	"context"
	"sync"

	"ezra-digest/internal/domain"
)

// LocalLocker сериализует владельцев одного ключа внутри процесса.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ domain.DateLocker = (*LocalLocker)(nil)

// NewLocalLocker создаёт блокировку в памяти.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]chan struct{})}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Lock ждёт освобождения ключа.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
