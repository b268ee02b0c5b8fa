package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"resqfood/models"
)

var faker = gofakeit.New(42)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePost генерирует пост с заданным id и статусом
func fakePost(id string, status models.Status) models.Post {
	p := models.Post{
		ID:          id,
		Name:        faker.Lunch(),
		Description: faker.Dessert(),
		Quantity:    fmt.Sprintf("%d portions", faker.Number(1, 50)),
		ExpiryAt:    time.Now().Add(time.Duration(faker.Number(1, 48)) * time.Hour).UTC(),
		Status:      status,
		Location:    &models.Location{Lng: faker.Longitude(), Lat: faker.Latitude()},
		OwnerID:     "rest1",
	}
	if status != models.StatusAvailable {
		p.ClaimantID = "ngo1"
	}
	return p
}

func ids(posts []models.Post) []string {
	res := make([]string, 0, len(posts))
	for _, p := range posts {
		res = append(res, p.ID)
	}
	return res
}

// recordingNotifier запоминает вызовы хуков
type recordingNotifier struct {
	mu        sync.Mutex
	claimed   []string
	collected []string
	expired   [][]string
	deleted   []string
	failures  []error
	selfFlags []bool
}

func (n *recordingNotifier) OnClaimed(p models.Post, actorIsSelf bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.claimed = append(n.claimed, p.ID)
	n.selfFlags = append(n.selfFlags, actorIsSelf)
}

func (n *recordingNotifier) OnCollected(p models.Post, actorIsSelf bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.collected = append(n.collected, p.ID)
}

func (n *recordingNotifier) OnExpired(ids []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired = append(n.expired, ids)
}

func (n *recordingNotifier) OnDeleted(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, id)
}

func (n *recordingNotifier) OnFetchFailed(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, err)
}

func (n *recordingNotifier) failureCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failures)
}

// captureHandler - slog.Handler, запоминающий сообщения для проверок
type captureHandler struct {
	mu       *sync.Mutex
	messages *[]string
}

func newCaptureLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{mu: &sync.Mutex{}, messages: &[]string{}}
	return slog.New(h), h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.messages = append(*h.messages, r.Message)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count(msg string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range *h.messages {
		if m == msg {
			n++
		}
	}
	return n
}

// recordingSink запоминает доставленные доменные события
type recordingSink struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (s *recordingSink) HandleEvent(ev models.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) received() []models.DomainEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DomainEvent(nil), s.events...)
}
