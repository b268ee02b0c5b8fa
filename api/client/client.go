package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resqfood/api/middleware"
	"resqfood/models"
	"resqfood/services"
)

const (
	DEFAULT_TIMEOUT = 10 * time.Second
	SERVICE_NAME    = "resqfood"
)

// envelope - общий формат ответов бэкенда
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Foods   json.RawMessage `json:"foods,omitempty"`
}

// payload - полезная часть ответа: data, а для поисковых эндпоинтов foods
func (e *envelope) payload() json.RawMessage {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return e.Data
	}
	return e.Foods
}

// APIError - ответ бэкенда с ошибкой
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Message)
}

// HTTPStatus - код ответа, для метрик
func (e *APIError) HTTPStatus() int {
	return e.Status
}

// Client - HTTP-реализация services.Fetcher
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

var _ services.Fetcher = (*Client)(nil)

func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "api_client"),
	}
}

// do выполняет запрос и считает его в метриках вызовов бэкенда под именем op
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any) (env *envelope, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		middleware.RecordBackendCall(op, status, SERVICE_NAME, time.Since(start), err)
	}()

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.AddCookie(&http.Cookie{Name: "token", Value: c.token})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	var decoded envelope
	decodeErr := json.Unmarshal(raw, &decoded)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := decoded.Message
		if decodeErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	return &decoded, nil
}

func decodePosts(env *envelope) ([]models.Post, error) {
	var posts []models.Post
	p := env.payload()
	if len(p) == 0 || string(p) == "null" {
		return posts, nil
	}
	if err := json.Unmarshal(p, &posts); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	return posts, nil
}

func decodePost(env *envelope) (models.Post, error) {
	var post models.Post
	if err := json.Unmarshal(env.payload(), &post); err != nil {
		return models.Post{}, fmt.Errorf("failed to decode post: %w", err)
	}
	return post, nil
}

// FetchNearby - GET /food/nearby?radius=
func (c *Client) FetchNearby(ctx context.Context, radiusKm float64) (services.NearbyResult, error) {
	q := url.Values{}
	q.Set("radius", strconv.FormatFloat(radiusKm, 'f', -1, 64))
	env, err := c.do(ctx, "nearby", http.MethodGet, "/food/nearby", q, nil)
	if err != nil {
		return services.NearbyResult{}, err
	}
	if !env.Success {
		return services.NearbyResult{Success: false}, nil
	}
	posts, err := decodePosts(env)
	if err != nil {
		return services.NearbyResult{}, err
	}
	return services.NearbyResult{Success: true, Posts: posts}, nil
}

// FetchOwnerPosts - GET /food/restaurant/:id
func (c *Client) FetchOwnerPosts(ctx context.Context, ownerID string) ([]models.Post, error) {
	env, err := c.do(ctx, "owner_posts", http.MethodGet, "/food/restaurant/"+url.PathEscape(ownerID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodePosts(env)
}

// FetchClaimantPosts - GET /food/claimed; NGO определяется по токену
func (c *Client) FetchClaimantPosts(ctx context.Context, claimantID string) ([]models.Post, error) {
	env, err := c.do(ctx, "claimed_posts", http.MethodGet, "/food/claimed", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodePosts(env)
}

func (c *Client) Claim(ctx context.Context, id string) error {
	_, err := c.do(ctx, "claim", http.MethodPatch, "/food/"+url.PathEscape(id)+"/claim", nil, nil)
	return err
}

func (c *Client) Collect(ctx context.Context, id string) error {
	_, err := c.do(ctx, "collect", http.MethodPatch, "/food/"+url.PathEscape(id)+"/collect", nil, nil)
	return err
}

func (c *Client) Create(ctx context.Context, fields models.PostFields) (models.Post, error) {
	env, err := c.do(ctx, "create", http.MethodPost, "/food", nil, fields)
	if err != nil {
		return models.Post{}, err
	}
	return decodePost(env)
}

func (c *Client) Edit(ctx context.Context, id string, fields models.PostFields) (models.Post, error) {
	env, err := c.do(ctx, "edit", http.MethodPut, "/food/"+url.PathEscape(id), nil, fields)
	if err != nil {
		return models.Post{}, err
	}
	return decodePost(env)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, "/food/"+url.PathEscape(id), nil, nil)
	return err
}
