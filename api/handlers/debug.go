package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"resqfood/models"
	"resqfood/services"
)

// View - то, что отладочный сервер читает из смонтированного представления
type View interface {
	Scope() services.Scope
	Mounted() bool
	Snapshot() []models.Post
	Collection() *services.EntityCollection
}

// MapControl - управление картой NGO (реализует services.MapView)
type MapControl interface {
	Index() *services.GeospatialIndex
	Radius() float64
	NoResults() bool
	SetRadius(km float64) error
	SetCenter(loc models.Location) error
	Search(ctx context.Context) error
}

// DiagnosticsStore - чтение журнала диагностик (реализует db.Journal)
type DiagnosticsStore interface {
	Recent(ctx context.Context, kind models.DiagnosticKind, limit int) ([]models.Diagnostic, error)
	CountByKind(ctx context.Context) (map[models.DiagnosticKind]int64, error)
}

// DebugDeps - все поля опциональны, кроме View
type DebugDeps struct {
	View    View
	Map     MapControl
	Conn    *services.ConnectionManager
	Router  *services.EventRouter
	Journal DiagnosticsStore
	Toasts  *services.ToastLog
}

// DebugHandlers содержит обработчики отладочного сервера
type DebugHandlers struct {
	deps DebugDeps
}

func NewDebugHandlers(deps DebugDeps) *DebugHandlers {
	return &DebugHandlers{deps: deps}
}

// GetView - роль, состояние и содержимое коллекции
func (h *DebugHandlers) GetView(c *gin.Context) {
	scope := h.deps.View.Scope()
	posts := h.deps.View.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"role":    scope.Role,
		"self_id": scope.SelfID,
		"mounted": h.deps.View.Mounted(),
		"count":   len(posts),
		"posts":   posts,
	})
}

// GetPost - один пост коллекции
func (h *DebugHandlers) GetPost(c *gin.Context) {
	id := c.Param("id")
	p, ok := h.deps.View.Collection().Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

type markerInfo struct {
	ID       string          `json:"id"`
	Name     string          `json:"food_name"`
	Location models.Location `json:"location"`
}

// GetMarkers - маркеры карты
func (h *DebugHandlers) GetMarkers(c *gin.Context) {
	if !h.requireMap(c) {
		return
	}
	markers := h.deps.Map.Index().Markers()
	res := make([]markerInfo, 0, len(markers))
	for _, m := range markers {
		p := m.Post()
		res = append(res, markerInfo{ID: m.ID(), Name: p.Name, Location: m.Location()})
	}
	c.JSON(http.StatusOK, gin.H{
		"radius_km":  h.deps.Map.Radius(),
		"no_results": h.deps.Map.NoResults(),
		"markers":    res,
	})
}

// GetOverlay - круг радиуса как GeoJSON Feature
func (h *DebugHandlers) GetOverlay(c *gin.Context) {
	if !h.requireMap(c) {
		return
	}
	o := h.deps.Map.Index().Overlay()
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "overlay not drawn, center is unknown"})
		return
	}
	c.JSON(http.StatusOK, o.GeoJSON())
}

// GetBounds - рамка маркеров; 204 если маркеров нет
func (h *DebugHandlers) GetBounds(c *gin.Context) {
	if !h.requireMap(c) {
		return
	}
	b, ok := h.deps.Map.Index().Bounds()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"min": [2]float64{b.Min.Lon(), b.Min.Lat()},
		"max": [2]float64{b.Max.Lon(), b.Max.Lat()},
	})
}

type radiusRequest struct {
	RadiusKm float64 `json:"radius_km" binding:"required"`
}

// SetRadius меняет радиус и повторяет поиск
func (h *DebugHandlers) SetRadius(c *gin.Context) {
	if !h.requireMap(c) {
		return
	}
	var req radiusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if err := h.deps.Map.SetRadius(req.RadiusKm); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Map.Search(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"radius_km": h.deps.Map.Radius(), "markers": h.deps.Map.Index().Len()})
}

// SetCenter задает позицию NGO; тело - GeoJSON Point
func (h *DebugHandlers) SetCenter(c *gin.Context) {
	if !h.requireMap(c) {
		return
	}
	var loc models.Location
	if err := c.ShouldBindJSON(&loc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid location"})
		return
	}
	if err := h.deps.Map.SetCenter(loc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"center": loc})
}

// GetConnection - состояние push-канала
func (h *DebugHandlers) GetConnection(c *gin.Context) {
	if h.deps.Conn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "connection not configured"})
		return
	}
	state, err := h.deps.Conn.Status()
	resp := gin.H{
		"state":     state.String(),
		"listeners": h.deps.Conn.ListenerCount(),
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// GetDiagnostics - последние записи журнала, ?kind= и ?limit=
func (h *DebugHandlers) GetDiagnostics(c *gin.Context) {
	if !h.requireJournal(c) {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	records, err := h.deps.Journal.Recent(c.Request.Context(), models.DiagnosticKind(c.Query("kind")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read diagnostics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "diagnostics": records})
}

// GetDiagnosticCounts - число записей по типу
func (h *DebugHandlers) GetDiagnosticCounts(c *gin.Context) {
	if !h.requireJournal(c) {
		return
	}
	counts, err := h.deps.Journal.CountByKind(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count diagnostics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// GetToasts - последние уведомления пользователю
func (h *DebugHandlers) GetToasts(c *gin.Context) {
	var toasts []services.Toast
	if h.deps.Toasts != nil {
		toasts = h.deps.Toasts.Recent()
	}
	if toasts == nil {
		toasts = []services.Toast{}
	}
	c.JSON(http.StatusOK, gin.H{"toasts": toasts})
}

type injectRequest struct {
	Event string          `json:"event" binding:"required"`
	Data  json.RawMessage `json:"data"`
}

// InjectEvent прогоняет сообщение через роутер так, как если бы оно пришло по push-каналу
func (h *DebugHandlers) InjectEvent(c *gin.Context) {
	if h.deps.Router == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "router not configured"})
		return
	}
	var req injectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	ev, err := h.deps.Router.Route(req.Event, req.Data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	h.deps.Router.Publish(ev)
	c.JSON(http.StatusAccepted, gin.H{"kind": ev.Kind()})
}

func (h *DebugHandlers) requireMap(c *gin.Context) bool {
	if h.deps.Map == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "map view is not active"})
		return false
	}
	return true
}

func (h *DebugHandlers) requireJournal(c *gin.Context) bool {
	if h.deps.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "diagnostics journal disabled"})
		return false
	}
	return true
}

func statusFor(err error) int {
	var fe *services.FetchError
	switch {
	case errors.As(err, &fe):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrUnmounted):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
