package models

// EventKind - тип доменного события
type EventKind string

const (
	KindPostCreated     EventKind = "post_created"
	KindPostUpdated     EventKind = "post_updated"
	KindPostDeleted     EventKind = "post_deleted"
	KindPostClaimed     EventKind = "post_claimed"
	KindPostCollected   EventKind = "post_collected"
	KindPostsExpired    EventKind = "posts_expired"
	KindPostUnavailable EventKind = "post_unavailable"
)

// DomainEvent - закрытый набор событий, в которые EventRouter переводит сообщения транспорта.
// Реализации есть только в этом пакете.
type DomainEvent interface {
	Kind() EventKind
	domainEvent()
}

type PostCreated struct {
	Post Post
}

type PostUpdated struct {
	Post Post
}

type PostDeleted struct {
	ID string
}

type PostClaimed struct {
	ID           string
	ClaimantID   string
	ClaimantName string
	FoodName     string
}

type PostCollected struct {
	ID string
}

type PostsExpired struct {
	IDs []string
}

type PostUnavailable struct {
	ID string
}

func (PostCreated) Kind() EventKind     { return KindPostCreated }
func (PostUpdated) Kind() EventKind     { return KindPostUpdated }
func (PostDeleted) Kind() EventKind     { return KindPostDeleted }
func (PostClaimed) Kind() EventKind     { return KindPostClaimed }
func (PostCollected) Kind() EventKind   { return KindPostCollected }
func (PostsExpired) Kind() EventKind    { return KindPostsExpired }
func (PostUnavailable) Kind() EventKind { return KindPostUnavailable }

func (PostCreated) domainEvent()     {}
func (PostUpdated) domainEvent()     {}
func (PostDeleted) domainEvent()     {}
func (PostClaimed) domainEvent()     {}
func (PostCollected) domainEvent()   {}
func (PostsExpired) domainEvent()    {}
func (PostUnavailable) domainEvent() {}

// Wire payloads, в том виде как их шлет бэкенд

// FoodRef - {"foodId": "..."} для food_unavailable, food_collected_*, post_deleted
type FoodRef struct {
	FoodID string `json:"foodId"`
}

// ClaimPayload - food_claimed_owner / food_claimed_ngo
type ClaimPayload struct {
	FoodID   string `json:"foodId"`
	NgoID    string `json:"ngoId"`
	NgoName  string `json:"ngoName"`
	FoodName string `json:"foodName"`
}

// ExpiredPayload - food_expired
type ExpiredPayload struct {
	IDs []string `json:"ids"`
}
