package services

import (
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"resqfood/models"
)

const (
	DEFAULT_RADIUS_KM = 5.0
	OVERLAY_SEGMENTS  = 64
)

// Surface - внешний рендерер карты. Вызывается под блокировкой индекса:
// методы Marker вызывать можно, методы GeospatialIndex - нет.
type Surface interface {
	PlaceMarker(m *Marker)
	MoveMarker(m *Marker)
	RemoveMarker(m *Marker)
	DrawOverlay(o *Overlay)
}

// Marker - хэндл маркера поста на карте
type Marker struct {
	mu       sync.RWMutex
	id       string
	post     models.Post
	onSelect func(models.Post)
}

func (m *Marker) ID() string {
	return m.id
}

func (m *Marker) Location() models.Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.post.Location
}

// Post - последняя известная версия поста под маркером
func (m *Marker) Post() models.Post {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.post.Clone()
}

// Select вызывает колбэк выбора с полным постом (открытие карточки с деталями)
func (m *Marker) Select() {
	if m.onSelect != nil {
		m.onSelect(m.Post())
	}
}

func (m *Marker) set(p models.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.post = p.Clone()
}

// Overlay - круг радиуса поиска вокруг позиции NGO
type Overlay struct {
	Center   models.Location
	RadiusKm float64
	Polygon  orb.Polygon
}

// GeoJSON отдает оверлей как Feature для рендерера
func (o *Overlay) GeoJSON() *geojson.Feature {
	f := geojson.NewFeature(o.Polygon)
	f.Properties["radius_km"] = o.RadiusKm
	return f
}

// Contains - попадает ли точка в радиус
func (o *Overlay) Contains(loc models.Location) bool {
	return geo.Distance(o.Center.Point(), loc.Point()) <= o.RadiusKm*1000
}

// GeospatialIndex - соответствие id поста -> маркер плюс один оверлей радиуса
type GeospatialIndex struct {
	mu       sync.RWMutex
	surface  Surface
	onSelect func(models.Post)
	markers  map[string]*Marker
	overlay  *Overlay
}

func NewGeospatialIndex(surface Surface, onSelect func(models.Post)) *GeospatialIndex {
	return &GeospatialIndex{
		surface:  surface,
		onSelect: onSelect,
		markers:  make(map[string]*Marker),
	}
}

// Upsert создает или двигает маркер; пост не в available (или без координат) маркера не имеет
func (g *GeospatialIndex) Upsert(p models.Post) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p.Status != models.StatusAvailable || !p.Mapped() {
		g.removeLocked(p.ID)
		return
	}
	if m, ok := g.markers[p.ID]; ok {
		m.set(p)
		if g.surface != nil {
			g.surface.MoveMarker(m)
		}
		return
	}
	m := &Marker{id: p.ID, post: p.Clone(), onSelect: g.onSelect}
	g.markers[p.ID] = m
	if g.surface != nil {
		g.surface.PlaceMarker(m)
	}
}

// Remove идемпотентен
func (g *GeospatialIndex) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(id)
}

func (g *GeospatialIndex) removeLocked(id string) {
	m, ok := g.markers[id]
	if !ok {
		return
	}
	delete(g.markers, id)
	if g.surface != nil {
		g.surface.RemoveMarker(m)
	}
}

// ReconcileAgainstSet убирает все маркеры, которых нет в серверном наборе
func (g *GeospatialIndex) ReconcileAgainstSet(serverIDs []string) {
	keep := make(map[string]struct{}, len(serverIDs))
	for _, id := range serverIDs {
		keep[id] = struct{}{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for id := range g.markers {
		if _, ok := keep[id]; !ok {
			g.removeLocked(id)
		}
	}
}

// RecomputeOverlay заменяет геометрию оверлея. Без центра - no-op.
func (g *GeospatialIndex) RecomputeOverlay(center *models.Location, radiusKm float64) error {
	if center == nil {
		return nil
	}
	if radiusKm <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, radiusKm)
	}
	o := &Overlay{
		Center:   *center,
		RadiusKm: radiusKm,
		Polygon:  orb.Polygon{circleRing(center.Point(), radiusKm*1000)},
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.overlay = o
	if g.surface != nil {
		g.surface.DrawOverlay(o)
	}
	return nil
}

func circleRing(center orb.Point, meters float64) orb.Ring {
	ring := make(orb.Ring, 0, OVERLAY_SEGMENTS+1)
	for i := 0; i < OVERLAY_SEGMENTS; i++ {
		bearing := float64(i) * 360 / OVERLAY_SEGMENTS
		ring = append(ring, geo.PointAtBearingAndDistance(center, bearing, meters))
	}
	return append(ring, ring[0])
}

func (g *GeospatialIndex) Overlay() *Overlay {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.overlay
}

func (g *GeospatialIndex) Marker(id string) (*Marker, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.markers[id]
	return m, ok
}

func (g *GeospatialIndex) Markers() []*Marker {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := make([]*Marker, 0, len(g.markers))
	for _, m := range g.markers {
		res = append(res, m)
	}
	return res
}

func (g *GeospatialIndex) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.markers)
}

// Bounds - рамка всех маркеров, чтобы вписать их в экран; false если маркеров нет
func (g *GeospatialIndex) Bounds() (orb.Bound, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var (
		bound orb.Bound
		found bool
	)
	for _, m := range g.markers {
		p := m.Location().Point()
		if !found {
			bound = p.Bound()
			found = true
			continue
		}
		bound = bound.Extend(p)
	}
	return bound, found
}

// Observer: индекс следует потоку изменений коллекции карты

func (g *GeospatialIndex) PostChanged(p models.Post) { g.Upsert(p) }
func (g *GeospatialIndex) PostRemoved(id string)     { g.Remove(id) }
func (g *GeospatialIndex) Reconciled(ids []string)   { g.ReconcileAgainstSet(ids) }
