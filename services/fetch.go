package services

import (
	"context"

	"resqfood/models"
)

// NearbyResult - ответ поиска постов в радиусе
type NearbyResult struct {
	Success bool
	Posts   []models.Post
}

// Fetcher - HTTP-коллаборатор (см. api/client). Движок его вызовы не повторяет.
type Fetcher interface {
	FetchNearby(ctx context.Context, radiusKm float64) (NearbyResult, error)
	FetchOwnerPosts(ctx context.Context, ownerID string) ([]models.Post, error)
	FetchClaimantPosts(ctx context.Context, claimantID string) ([]models.Post, error)
	Claim(ctx context.Context, id string) error
	Collect(ctx context.Context, id string) error
	Create(ctx context.Context, fields models.PostFields) (models.Post, error)
	Edit(ctx context.Context, id string, fields models.PostFields) (models.Post, error)
	Delete(ctx context.Context, id string) error
}
