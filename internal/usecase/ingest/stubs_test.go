package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"ezra-digest/internal/domain"
)

type memStore struct {
	mu        sync.Mutex
	byHash    map[string]domain.Message
	channels  map[int64]domain.Channel
	insertErr error
	chanErr   error
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{byHash: map[string]domain.Message{}, channels: map[int64]domain.Channel{}}
}

func (s *memStore) InsertMessageIfNew(_ context.Context, m domain.Message) (domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return domain.Message{}, false, s.insertErr
	}
	if _, ok := s.byHash[m.ContentHash]; ok {
		return domain.Message{}, false, nil
	}
	s.nextID++
	m.ID = s.nextID
	s.byHash[m.ContentHash] = m
	return m, true, nil
}

func (s *memStore) ListUnprocessed(context.Context) ([]domain.Message, error) { return nil, nil }
func (s *memStore) ListMessagesForDate(context.Context, time.Time) ([]domain.Message, error) {
	return nil, nil
}
func (s *memStore) MarkProcessed(context.Context, []int64) (int64, error) { return 0, nil }

func (s *memStore) UpsertChannel(_ context.Context, ch domain.Channel) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chanErr != nil {
		return false, s.chanErr
	}
	_, ok := s.channels[ch.ID]
	s.channels[ch.ID] = ch
	return !ok, nil
}
func (s *memStore) RemoveChannel(context.Context, int64) (bool, error)       { return false, nil }
func (s *memStore) ListChannels(context.Context) ([]domain.Channel, error) { return nil, nil }

type fakeSource struct {
	chats      []domain.SourceChat
	resolveErr error
	items      map[int64][]domain.RawItem
	fetchErr   map[int64]error
	fetched    []int64
}

func (f *fakeSource) ResolveCollection(context.Context, string) ([]domain.SourceChat, error) {
	return f.chats, f.resolveErr
}

func (f *fakeSource) FetchRecent(_ context.Context, chat domain.SourceChat, limit int) ([]domain.RawItem, error) {
	f.fetched = append(f.fetched, chat.ID)
	if err := f.fetchErr[chat.ID]; err != nil {
		return nil, err
	}
	items := f.items[chat.ID]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

var errBoom = errors.New("boom")
