package services

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// Subscription - хэндл подписки. Close идемпотентен и безопасен для nil.
type Subscription struct {
	id    string
	once  sync.Once
	close func()
}

func newSubscription(close func()) *Subscription {
	return &Subscription{id: uuid.NewString(), close: close}
}

func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.close != nil {
			s.close()
		}
	})
}

type registryEntry[L any] struct {
	listener L
	sub      *Subscription
}

// registry - набор слушателей по ключу. Пара (ключ, слушатель) регистрируется один раз.
type registry[K comparable, L any] struct {
	mu      sync.RWMutex
	entries map[K][]*registryEntry[L]
}

func newRegistry[K comparable, L any]() *registry[K, L] {
	return &registry[K, L]{entries: make(map[K][]*registryEntry[L])}
}

// Add регистрирует слушателя; повторная регистрация той же пары возвращает прежний хэндл.
// Слушатель, который нельзя сравнить (функция, map, slice внутри), отвергается.
func (r *registry[K, L]) Add(key K, l L) (*Subscription, error) {
	if err := checkListener(l); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries[key] {
		if sameListener(e.listener, l) {
			return e.sub, nil
		}
	}
	e := &registryEntry[L]{listener: l}
	e.sub = newSubscription(func() { r.removeEntry(key, e) })
	r.entries[key] = append(r.entries[key], e)
	return e.sub, nil
}

// Remove снимает пару (ключ, слушатель); false если ее не было
func (r *registry[K, L]) Remove(key K, l L) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries[key] {
		if sameListener(e.listener, l) {
			r.deleteAt(key, i)
			return true
		}
	}
	return false
}

func (r *registry[K, L]) removeEntry(key K, target *registryEntry[L]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries[key] {
		if e == target {
			r.deleteAt(key, i)
			return
		}
	}
}

func (r *registry[K, L]) deleteAt(key K, i int) {
	entries := r.entries[key]
	next := make([]*registryEntry[L], 0, len(entries)-1)
	next = append(next, entries[:i]...)
	next = append(next, entries[i+1:]...)
	if len(next) == 0 {
		delete(r.entries, key)
		return
	}
	r.entries[key] = next
}

// Listeners - копия списка слушателей ключа в порядке регистрации
func (r *registry[K, L]) Listeners(key K) []L {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.entries[key]
	res := make([]L, 0, len(entries))
	for _, e := range entries {
		res = append(res, e.listener)
	}
	return res
}

func (r *registry[K, L]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entries := range r.entries {
		n += len(entries)
	}
	return n
}

// checkListener проверяет, что слушатель сравним во время выполнения.
// Тип может быть сравнимым и при этом держать функцию в поле-интерфейсе.
func checkListener(l any) (err error) {
	t := reflect.TypeOf(l)
	if t == nil {
		return fmt.Errorf("%w: nil", ErrUncomparableListener)
	}
	if !t.Comparable() {
		return fmt.Errorf("%w: %s", ErrUncomparableListener, t)
	}
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("%w: %s holds an uncomparable value", ErrUncomparableListener, t)
		}
	}()
	_ = l == l
	return nil
}

// sameListener сравнивает слушателей по идентичности; оба прошли checkListener
func sameListener(a, b any) (same bool) {
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
