package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ezra-digest/internal/domain"
)

type stubUsers struct {
	users []domain.User
	err   error
}

func (s *stubUsers) UpsertUser(context.Context, int64, string) (domain.User, error) {
	return domain.User{}, nil
}
func (s *stubUsers) GetUser(context.Context, int64) (domain.User, error)  { return domain.User{}, nil }
func (s *stubUsers) SetSubscribed(context.Context, int64, bool) error      { return nil }
func (s *stubUsers) ListSubscribed(context.Context) ([]domain.User, error) { return s.users, s.err }

type stubSender struct {
	fail  map[int64]error
	block map[int64]bool
	sent  []int64
}

func (s *stubSender) Send(ctx context.Context, chatID int64, _ string) error {
	if s.block[chatID] {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := s.fail[chatID]; err != nil {
		return err
	}
	s.sent = append(s.sent, chatID)
	return nil
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	users := &stubUsers{users: []domain.User{{ID: 1}, {ID: 2}, {ID: 3}}}
	sender := &stubSender{fail: map[int64]error{2: errors.New("blocked by user")}}
	svc := NewService(users, sender, time.Second, zerolog.Nop())

	report, err := svc.Broadcast(context.Background(), "digest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Recipients != 3 || report.Delivered != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Failures) != 1 || report.Failures[0].UserID != 2 {
		t.Fatalf("expected failure for user 2, got %+v", report.Failures)
	}
	if len(sender.sent) != 2 || sender.sent[1] != 3 {
		t.Fatalf("expected delivery to continue after failure, got %v", sender.sent)
	}
}

func TestBroadcastBoundsEachAttempt(t *testing.T) {
	users := &stubUsers{users: []domain.User{{ID: 1}, {ID: 2}}}
	sender := &stubSender{block: map[int64]bool{1: true}}
	svc := NewService(users, sender, 20*time.Millisecond, zerolog.Nop())

	report, err := svc.Broadcast(context.Background(), "digest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Delivered != 1 {
		t.Fatalf("expected second user delivered, got %+v", report)
	}
	if !errors.Is(report.Failures[0].Err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", report.Failures[0].Err)
	}
}

func TestBroadcastNoSubscribers(t *testing.T) {
	svc := NewService(&stubUsers{}, &stubSender{}, time.Second, zerolog.Nop())
	report, err := svc.Broadcast(context.Background(), "digest")
	if err != nil || report.Recipients != 0 || report.Delivered != 0 {
		t.Fatalf("unexpected result %+v %v", report, err)
	}
}

func TestBroadcastSnapshotError(t *testing.T) {
	svc := NewService(&stubUsers{err: errors.New("db")}, &stubSender{}, time.Second, zerolog.Nop())
	if _, err := svc.Broadcast(context.Background(), "digest"); err == nil {
		t.Fatal("expected error")
	}
}
