package mtproto

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gotd/td/session"
)

// FileSession хранит MTProto-сессию в файле.
// При чтении сессия Telethon прозрачно приводится к формату gotd.
type FileSession struct {
	Path string

	mu sync.Mutex
}

// LoadSession реализует session.Storage.
func (f *FileSession) LoadSession(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("чтение сессии: %w", err)
	}
	data, _, err := NormalizeSessionBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("сессия %s: %w", f.Path, err)
	}
	return data, nil
}

// StoreSession реализует session.Storage. Запись атомарна: через временный файл.
func (f *FileSession) StoreSession(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(f.Path, data)
}

// ImportSession читает сессию из src в любом известном формате и сохраняет её в dst
// в формате gotd. Возвращает true, если понадобилась конвертация.
func ImportSession(src, dst string) (bool, error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("чтение %s: %w", src, err)
	}
	data, converted, err := NormalizeSessionBytes(raw)
	if err != nil {
		return false, err
	}
	if err := writeAtomic(dst, data); err != nil {
		return false, err
	}
	return converted, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("временный файл сессии: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("запись сессии: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("права сессии: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("запись сессии: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("сохранение сессии: %w", err)
	}
	return nil
}
