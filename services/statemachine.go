package services

import (
	"resqfood/models"
)

// transitions - единственный источник правды о допустимых переходах статуса
var transitions = map[models.Status][]models.Status{
	models.StatusAvailable: {models.StatusClaimed, models.StatusExpired},
	models.StatusClaimed:   {models.StatusCollected, models.StatusExpired},
}

// StateMachine проверяет и применяет переходы статуса поста
type StateMachine struct{}

// Legal - есть ли ребро from -> to в таблице
func (StateMachine) Legal(from, to models.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Apply возвращает новый статус для события или TransitionError.
// Событие без перехода статуса (created/updated/deleted/unavailable) тоже ошибка.
func (m StateMachine) Apply(current models.Status, ev models.DomainEvent) (models.Status, error) {
	var target models.Status
	switch ev.(type) {
	case models.PostClaimed:
		target = models.StatusClaimed
	case models.PostCollected:
		target = models.StatusCollected
	case models.PostsExpired:
		target = models.StatusExpired
	default:
		return current, &TransitionError{From: current, Event: ev.Kind()}
	}
	if !m.Legal(current, target) {
		return current, &TransitionError{From: current, To: target, Event: ev.Kind()}
	}
	return target, nil
}

// Advance проверяет статус из полного апдейта поста: тот же статус (обновление атрибутов)
// или ровно одно допустимое ребро.
func (m StateMachine) Advance(from, to models.Status) error {
	if !to.Valid() {
		return &TransitionError{From: from, To: to}
	}
	if from == to || m.Legal(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}

// Reconciles - можно ли принять статус из авторитетного рефреша.
// Рефреш покрывает пропущенные события, поэтому разрешен любой шаг вперед (available -> collected),
// но не откат и не смена одного терминального статуса на другой.
func (StateMachine) Reconciles(from, to models.Status) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return to.Rank() > from.Rank()
}
