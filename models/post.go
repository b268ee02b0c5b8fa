package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Status - статус поста с едой
type Status string

const (
	StatusAvailable Status = "available"
	StatusClaimed   Status = "claimed"
	StatusCollected Status = "collected"
	StatusExpired   Status = "expired"
)

// Valid проверяет, что статус входит в известный набор
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusClaimed, StatusCollected, StatusExpired:
		return true
	}
	return false
}

// Terminal - collected и expired не принимают больше никаких переходов
func (s Status) Terminal() bool {
	return s == StatusCollected || s == StatusExpired
}

// Rank - порядковый номер статуса в жизненном цикле поста
func (s Status) Rank() int {
	switch s {
	case StatusAvailable:
		return 0
	case StatusClaimed:
		return 1
	case StatusCollected, StatusExpired:
		return 2
	}
	return -1
}

// Location - координаты поста, на проводе приходят как GeoJSON Point
type Location struct {
	Lng float64
	Lat float64
}

type geoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal(geoPoint{Type: "Point", Coordinates: []float64{l.Lng, l.Lat}})
}

func (l *Location) UnmarshalJSON(data []byte) error {
	var p geoPoint
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if len(p.Coordinates) != 2 {
		return fmt.Errorf("location: expected [lng, lat], got %d coordinates", len(p.Coordinates))
	}
	l.Lng, l.Lat = p.Coordinates[0], p.Coordinates[1]
	return nil
}

// Point переводит координаты в orb.Point (lng, lat)
func (l Location) Point() orb.Point {
	return orb.Point{l.Lng, l.Lat}
}

type Image struct {
	URL string `json:"url"`
}

// Post - пост ресторана с едой, которую может забрать NGO
type Post struct {
	ID          string    `json:"_id"`
	Name        string    `json:"food_name"`
	Description string    `json:"description,omitempty"`
	Quantity    string    `json:"quantity,omitempty"`
	ExpiryAt    time.Time `json:"expiry_time"`
	Status      Status    `json:"status"`
	Location    *Location `json:"location,omitempty"`
	OwnerID     string    `json:"restaurant,omitempty"`
	ClaimantID  string    `json:"claimed_by,omitempty"`
	Images      []Image   `json:"food_image,omitempty"`
}

// Clone возвращает глубокую копию поста, чтобы снаружи нельзя было изменить состояние коллекции
func (p Post) Clone() Post {
	if p.Location != nil {
		loc := *p.Location
		p.Location = &loc
	}
	if p.Images != nil {
		p.Images = append([]Image(nil), p.Images...)
	}
	return p
}

// Mapped - пост можно показать на карте
func (p Post) Mapped() bool {
	return p.Location != nil
}

// PostFields - изменяемые владельцем поля (create/edit)
type PostFields struct {
	Name        string    `json:"food_name"`
	Description string    `json:"description,omitempty"`
	Quantity    string    `json:"quantity,omitempty"`
	ExpiryAt    time.Time `json:"expiry_time"`
	Location    *Location `json:"location,omitempty"`
}
