package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/models"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func at(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func message(id, sender, receiver string, minutes int, read bool) models.Message {
	return models.Message{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    "message " + id,
		Read:       read,
		CreatedAt:  at(minutes),
		UpdatedAt:  at(minutes),
	}
}

func notification(id, userID string, minutes int, read bool) models.Notification {
	return models.Notification{
		ID:        id,
		UserID:    userID,
		Type:      models.NotificationTypeLike,
		Title:     "title " + id,
		Message:   "body " + id,
		Read:      read,
		CreatedAt: at(minutes),
		UpdatedAt: at(minutes),
	}
}

type readCall struct {
	selfID    string
	partnerID string
	ids       []string
	cutoff    Version
}

// readStoreStub records calls and optionally blocks until release is closed.
type readStoreStub struct {
	mu      sync.Mutex
	calls   []readCall
	err     error
	entered chan struct{}
	release chan struct{}
}

func (s *readStoreStub) wait(ctx context.Context) error {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *readStoreStub) record(call readCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *readStoreStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *readStoreStub) lastCall() readCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func (s *readStoreStub) MarkConversationRead(ctx context.Context, selfID, partnerID string, cutoff Version) (int64, error) {
	s.record(readCall{selfID: selfID, partnerID: partnerID, cutoff: cutoff})
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	return 1, s.err
}

func (s *readStoreStub) MarkNotificationsRead(ctx context.Context, selfID string, ids []string) (int64, error) {
	s.record(readCall{selfID: selfID, ids: ids})
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	return int64(len(ids)), s.err
}

func (s *readStoreStub) MarkAllNotificationsRead(ctx context.Context, selfID string, cutoff Version) (int64, error) {
	s.record(readCall{selfID: selfID, cutoff: cutoff})
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	return 1, s.err
}

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func ptrMessage(m models.Message) *models.Message {
	return &m
}
