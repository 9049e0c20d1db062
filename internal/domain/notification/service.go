package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/therapia/therapia/internal/platform/ws"
)

type Service struct {
	repo Repository
	pub  ws.EventPublisher
	log  zerolog.Logger
}

// NewService creates the notification service. pub may be nil when live
// push is disabled.
func NewService(repo Repository, pub ws.EventPublisher, log zerolog.Logger) *Service {
	return &Service{repo: repo, pub: pub, log: log}
}

// Create appends a notification to the addressee's feed. It writes through
// the context's transaction when one is open, so ledger entries roll back
// with the booking that produced them. The WebSocket push is best-effort
// and goes out immediately, unless the context came from DeferPushes.
func (s *Service) Create(ctx context.Context, n *Notification) error {
	if n.UserID == uuid.Nil {
		return fmt.Errorf("user_id is required")
	}
	if !validTypes[n.Type] {
		return fmt.Errorf("invalid notification type: %s", n.Type)
	}
	if n.Title == "" {
		return fmt.Errorf("title is required")
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}

	if buf, ok := ctx.Value(pushBufferKey{}).(*pushBuffer); ok {
		buf.add(n)
		return nil
	}
	s.push(n)
	return nil
}

type pushBuffer struct {
	mu   sync.Mutex
	list []*Notification
}

func (b *pushBuffer) add(n *Notification) {
	b.mu.Lock()
	b.list = append(b.list, n)
	b.mu.Unlock()
}

func (b *pushBuffer) drain() []*Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.list
	b.list = nil
	return list
}

type pushBufferKey struct{}

// DeferPushes returns a context that holds WebSocket pushes back until
// flush is called. Transactional callers flush after commit; if the
// transaction rolls back and flush is never called, nothing goes out.
func (s *Service) DeferPushes(ctx context.Context) (context.Context, func()) {
	buf := &pushBuffer{}
	return context.WithValue(ctx, pushBufferKey{}, buf), func() {
		for _, n := range buf.drain() {
			s.push(n)
		}
	}
}

func (s *Service) push(n *Notification) {
	if s.pub == nil {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal notification for push")
		return
	}
	topic := ws.UserTopic(n.UserID)
	if err := s.pub.Publish(context.Background(), ws.Event{
		Type:      "notification.created",
		Topic:     topic,
		Timestamp: time.Now(),
		Data:      data,
	}); err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("notification push failed")
	}
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *Service) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return s.repo.MarkRead(ctx, userID, id)
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}
