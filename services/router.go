package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"resqfood/models"
)

// Имена событий на проводе
const (
	WireNewFoodPost        = "new_food_post"
	WirePostUpdated        = "post_updated"
	WirePostDeleted        = "post_deleted"
	WireFoodClaimedOwner   = "food_claimed_owner"
	WireFoodClaimedNgo     = "food_claimed_ngo"
	WireFoodCollectedOwner = "food_collected_owner"
	WireFoodCollectedNgo   = "food_collected_ngo"
	WireFoodExpired        = "food_expired"
	WireFoodUnavailable    = "food_unavailable"
)

// EventSink получает доменные события тех типов, на которые подписан
type EventSink interface {
	HandleEvent(ev models.DomainEvent)
}

// EventRouter переводит кадры транспорта в доменные события и раздает их подписчикам
type EventRouter struct {
	logger  *slog.Logger
	diag    *Diagnostics
	sinks   *registry[models.EventKind, EventSink]
	binding *Subscription
}

func NewEventRouter(logger *slog.Logger, diag *Diagnostics) *EventRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRouter{
		logger: logger.With("component", "router"),
		diag:   diag,
		sinks:  newRegistry[models.EventKind, EventSink](),
	}
}

// Bind подписывает роутер на все кадры соединения
func (r *EventRouter) Bind(conn *ConnectionManager) {
	r.binding.Close()
	r.binding = conn.Subscribe(AnyEvent, r)
}

// Unbind снимает роутер с соединения
func (r *EventRouter) Unbind() {
	r.binding.Close()
	r.binding = nil
}

// HandleFrame - Listener для ConnectionManager
func (r *EventRouter) HandleFrame(f Frame) {
	ev, err := r.Route(f.Event, f.Data)
	if err != nil || ev == nil {
		return
	}
	r.Publish(ev)
}

// Route переводит одно именованное сообщение в ноль или одно доменное событие.
// Неизвестное имя логируется один раз, битый payload - на каждое сообщение.
func (r *EventRouter) Route(name string, payload json.RawMessage) (models.DomainEvent, error) {
	ev, err := decodeEvent(name, payload)
	switch {
	case err == nil:
		return ev, nil
	case isUnknown(err):
		r.diag.ReportOnce("unknown:"+name, models.DiagUnknownEvent, name, err)
	default:
		r.diag.Report(models.DiagMalformedPayload, "", "", name, err)
	}
	return nil, err
}

func isUnknown(err error) bool {
	var u unknownEventError
	return errors.As(err, &u)
}

type unknownEventError string

func (e unknownEventError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownEvent, string(e))
}

func (e unknownEventError) Unwrap() error {
	return ErrUnknownEvent
}

func decodeEvent(name string, payload json.RawMessage) (models.DomainEvent, error) {
	switch name {
	case WireNewFoodPost, WirePostUpdated:
		var p models.Post
		if err := decodePayload(payload, &p); err != nil {
			return nil, malformed(name, err)
		}
		if p.ID == "" {
			return nil, malformed(name, fmt.Errorf("post without _id"))
		}
		if p.Status != "" && !p.Status.Valid() {
			return nil, malformed(name, fmt.Errorf("unknown status %q", p.Status))
		}
		if p.Status == "" {
			p.Status = models.StatusAvailable
		}
		if name == WireNewFoodPost {
			return models.PostCreated{Post: p}, nil
		}
		return models.PostUpdated{Post: p}, nil

	case WirePostDeleted:
		// приходит либо голым id, либо {"foodId"}
		var id string
		if err := json.Unmarshal(payload, &id); err != nil {
			ref, rerr := decodeRef(name, payload)
			if rerr != nil {
				return nil, rerr
			}
			id = ref
		}
		if id == "" {
			return nil, malformed(name, fmt.Errorf("empty id"))
		}
		return models.PostDeleted{ID: id}, nil

	case WireFoodClaimedOwner, WireFoodClaimedNgo:
		var c models.ClaimPayload
		if err := decodePayload(payload, &c); err != nil {
			return nil, malformed(name, err)
		}
		if c.FoodID == "" {
			return nil, malformed(name, fmt.Errorf("missing foodId"))
		}
		return models.PostClaimed{ID: c.FoodID, ClaimantID: c.NgoID, ClaimantName: c.NgoName, FoodName: c.FoodName}, nil

	case WireFoodCollectedOwner, WireFoodCollectedNgo:
		id, err := decodeRef(name, payload)
		if err != nil {
			return nil, err
		}
		return models.PostCollected{ID: id}, nil

	case WireFoodExpired:
		var e models.ExpiredPayload
		if err := decodePayload(payload, &e); err != nil {
			return nil, malformed(name, err)
		}
		if len(e.IDs) == 0 {
			return nil, malformed(name, fmt.Errorf("empty ids"))
		}
		return models.PostsExpired{IDs: e.IDs}, nil

	case WireFoodUnavailable:
		id, err := decodeRef(name, payload)
		if err != nil {
			return nil, err
		}
		return models.PostUnavailable{ID: id}, nil
	}
	return nil, unknownEventError(name)
}

func decodeRef(name string, payload json.RawMessage) (string, error) {
	var ref models.FoodRef
	if err := decodePayload(payload, &ref); err != nil {
		return "", malformed(name, err)
	}
	if ref.FoodID == "" {
		return "", malformed(name, fmt.Errorf("missing foodId"))
	}
	return ref.FoodID, nil
}

func decodePayload(payload json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(trimmed, v)
}

func malformed(name string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
}

// Publish раздает событие подписчикам его типа в порядке подписки
func (r *EventRouter) Publish(ev models.DomainEvent) {
	sinks := r.sinks.Listeners(ev.Kind())
	eventsRoutedTotal.WithLabelValues(string(ev.Kind())).Inc()
	if len(sinks) == 0 {
		r.logger.Debug("no subscribers for event", "kind", ev.Kind())
		return
	}
	for _, s := range sinks {
		s.HandleEvent(ev)
	}
}

// Subscribe подписывает sink на типы событий. Повторная подписка той же пары - no-op.
// Закрытие возвращенного хэндла снимает все перечисленные типы.
func (r *EventRouter) Subscribe(sink EventSink, kinds ...models.EventKind) *Subscription {
	subs := make([]*Subscription, 0, len(kinds))
	for _, k := range kinds {
		sub, err := r.sinks.Add(k, sink)
		if err != nil {
			for _, s := range subs {
				s.Close()
			}
			r.diag.Report(models.DiagRejectedListener, "", "", string(k), err)
			return nil
		}
		subs = append(subs, sub)
	}
	return newSubscription(func() {
		for _, s := range subs {
			s.Close()
		}
	})
}

func (r *EventRouter) Unsubscribe(sink EventSink, kinds ...models.EventKind) {
	for _, k := range kinds {
		r.sinks.Remove(k, sink)
	}
}

// SubscriberCount - число активных пар (тип, sink)
func (r *EventRouter) SubscriberCount() int {
	return r.sinks.Len()
}
