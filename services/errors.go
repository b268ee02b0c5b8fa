package services

import (
	"errors"
	"fmt"

	"resqfood/models"
)

var (
	// ErrIllegalTransition - событие требует перехода, которого нет в таблице статусов
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrStaleOverwrite - полный рефреш старше, чем уже примененное событие
	ErrStaleOverwrite = errors.New("stale overwrite discarded")
	// ErrUnknownEvent - имя события вне закрытого набора
	ErrUnknownEvent = errors.New("unknown event")
	// ErrMalformedPayload - payload не разбирается в ожидаемую структуру
	ErrMalformedPayload = errors.New("malformed event payload")
	// ErrTransport - обрыв соединения или ошибка рукопожатия
	ErrTransport = errors.New("transport error")
	// ErrInvalidRadius - радиус поиска должен быть положительным
	ErrInvalidRadius = errors.New("radius must be positive")
	// ErrPostNotFound - поста нет в коллекции представления
	ErrPostNotFound = errors.New("post not found")
	// ErrUnmounted - представление уже закрыто
	ErrUnmounted = errors.New("view is unmounted")
	// ErrUncomparableListener - слушателя нельзя сравнить, значит нельзя и отсеять дубликат
	ErrUncomparableListener = errors.New("listener is not comparable")
)

// TransitionError описывает отвергнутый переход статуса
type TransitionError struct {
	ID    string
	From  models.Status
	To    models.Status
	Event models.EventKind
}

func (e *TransitionError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("post %s: %s cannot apply %s", e.ID, e.From, e.Event)
	}
	return fmt.Sprintf("post %s: %s -> %s is not allowed", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// TransportError оборачивает ошибку транспорта; errors.Is(err, ErrTransport) == true
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// FetchError - ошибка коллаборатора загрузки
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
