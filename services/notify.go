package services

import (
	"fmt"
	"sync"

	"resqfood/models"
)

const (
	TOAST_MAX_LENGTH  = 100
	TOAST_HISTORY_LEN = 50
)

// Notifier - точки уведомлений; движок вызывает их после применения события и сам I/O не делает
type Notifier interface {
	OnClaimed(p models.Post, actorIsSelf bool)
	OnCollected(p models.Post, actorIsSelf bool)
	OnExpired(ids []string)
	OnDeleted(id string)
	OnFetchFailed(err error)
}

// NopNotifier ничего не делает
type NopNotifier struct{}

func (NopNotifier) OnClaimed(models.Post, bool)   {}
func (NopNotifier) OnCollected(models.Post, bool) {}
func (NopNotifier) OnExpired([]string)            {}
func (NopNotifier) OnDeleted(string)              {}
func (NopNotifier) OnFetchFailed(error)           {}

// Toast - короткое уведомление для пользователя
type Toast struct {
	NotifyType string `json:"notify_type"`
	Message    string `json:"message"`
}

// newToast нормализует тип и обрезает длинное сообщение; пустое сообщение не отправляется
func newToast(notifyType, message string) (Toast, bool) {
	if len(notifyType) == 0 {
		notifyType = "info"
	}
	if len(message) == 0 {
		return Toast{}, false
	}
	if r := []rune(message); len(r) > TOAST_MAX_LENGTH {
		message = string(r[:TOAST_MAX_LENGTH]) + "..."
	}
	return Toast{NotifyType: notifyType, Message: message}, true
}

// ToastNotifier превращает хуки в тосты с текстами клиента ResQFood для заданной роли
type ToastNotifier struct {
	role Role
	sink func(Toast)
}

func NewToastNotifier(role Role, sink func(Toast)) *ToastNotifier {
	return &ToastNotifier{role: role, sink: sink}
}

func (n *ToastNotifier) send(notifyType, message string) {
	if n.sink == nil {
		return
	}
	if t, ok := newToast(notifyType, message); ok {
		n.sink(t)
	}
}

func (n *ToastNotifier) OnClaimed(p models.Post, actorIsSelf bool) {
	switch {
	case n.role == RoleOwner && p.Name != "":
		n.send("success", fmt.Sprintf("Your %q was claimed", p.Name))
	case n.role != RoleOwner && actorIsSelf:
		if p.Name != "" {
			n.send("success", fmt.Sprintf("%q is claimed successfully", p.Name))
			return
		}
		n.send("success", "Food claimed successfully!")
	}
}

func (n *ToastNotifier) OnCollected(p models.Post, actorIsSelf bool) {
	switch {
	case n.role == RoleOwner:
		n.send("success", "Food collected successfully")
	case p.Name != "":
		n.send("success", fmt.Sprintf("%q marked as collected!", p.Name))
	}
}

func (n *ToastNotifier) OnExpired(ids []string) {
	if len(ids) == 1 {
		n.send("warning", "A food post has expired")
		return
	}
	n.send("warning", fmt.Sprintf("%d food posts have expired", len(ids)))
}

func (n *ToastNotifier) OnDeleted(id string) {
	if n.role == RoleOwner {
		n.send("success", "Food post deleted successfully")
	}
}

func (n *ToastNotifier) OnFetchFailed(err error) {
	n.send("error", fmt.Sprintf("Could not load food posts: %v", err))
}

// ToastLog - кольцевой буфер последних тостов, отдается отладочным сервером
type ToastLog struct {
	mu     sync.Mutex
	toasts []Toast
}

func NewToastLog() *ToastLog {
	return &ToastLog{}
}

// Push - sink для ToastNotifier
func (l *ToastLog) Push(t Toast) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toasts = append(l.toasts, t)
	if len(l.toasts) > TOAST_HISTORY_LEN {
		l.toasts = append([]Toast(nil), l.toasts[len(l.toasts)-TOAST_HISTORY_LEN:]...)
	}
}

func (l *ToastLog) Recent() []Toast {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Toast(nil), l.toasts...)
}
