package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"resqfood/models"
)

type viewState int

const (
	viewIdle viewState = iota
	viewActive
	viewDetached
)

// ViewDeps - общие зависимости представлений. Conn опционален: без него нет ресинка после переподключения.
type ViewDeps struct {
	Fetcher  Fetcher
	Router   *EventRouter
	Conn     *ConnectionManager
	Notifier Notifier
	Logger   *slog.Logger
	Diag     *Diagnostics
}

// viewCore - жизненный цикл представления: подписки, фоновые рефреши, отвязка.
// Notifier вызывается под блокировкой представления и не должен вызывать Unmount.
type viewCore struct {
	scope    Scope
	fetcher  Fetcher
	router   *EventRouter
	conn     *ConnectionManager
	notifier Notifier
	logger   *slog.Logger
	diag     *Diagnostics
	coll     *EntityCollection

	mu     sync.RWMutex
	state  viewState
	subs   []*Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (v *viewCore) init(scope Scope, deps ViewDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v.notifier = deps.Notifier
	if v.notifier == nil {
		v.notifier = NopNotifier{}
	}
	v.scope = scope
	v.fetcher = deps.Fetcher
	v.router = deps.Router
	v.conn = deps.Conn
	v.logger = logger.With("component", "view", "role", scope.Role)
	v.diag = deps.Diag
	v.coll = NewEntityCollection(scope, deps.Diag)
}

// activate подписывает sink на события роли и хук переподключения
func (v *viewCore) activate(sink EventSink, resync func(context.Context) error, kinds ...models.EventKind) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.state {
	case viewDetached:
		return ErrUnmounted
	case viewActive:
		return nil
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	v.state = viewActive
	if v.router != nil {
		v.subs = append(v.subs, v.router.Subscribe(sink, kinds...))
	}
	if v.conn != nil {
		v.subs = append(v.subs, v.conn.OnReconnected(func() {
			v.logger.Info("resyncing after reconnect")
			v.spawn(resync)
		}))
	}
	return nil
}

// Unmount снимает все подписки, затем отвязывает коллекцию. Повторный вызов - no-op.
func (v *viewCore) Unmount() {
	v.mu.Lock()
	if v.state == viewDetached {
		v.mu.Unlock()
		return
	}
	subs := v.subs
	v.subs = nil
	for _, s := range subs {
		s.Close()
	}
	v.state = viewDetached
	if v.cancel != nil {
		v.cancel()
	}
	v.mu.Unlock()

	v.wg.Wait()
	v.logger.Debug("view unmounted")
}

func (v *viewCore) Mounted() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state == viewActive
}

// spawn выполняет fn в фоне, пока представление смонтировано
func (v *viewCore) spawn(fn func(context.Context) error) {
	v.mu.RLock()
	if v.state != viewActive {
		v.mu.RUnlock()
		return
	}
	ctx := v.ctx
	v.wg.Add(1)
	v.mu.RUnlock()

	go func() {
		defer v.wg.Done()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			v.logger.Warn("background refresh failed", "error", err)
		}
	}()
}

// load выдает тикет, ждет загрузку и применяет ее как seed или reconcile.
// Ошибка загрузки не трогает коллекцию.
func (v *viewCore) load(ctx context.Context, op string, fetch func(context.Context) ([]models.Post, error), diff bool) error {
	t := v.coll.Begin()
	posts, err := fetch(ctx)
	if err != nil {
		v.coll.Abandon(t)
		ferr := &FetchError{Op: op, Err: err}
		if ctx.Err() != nil {
			// отменено размонтированием или вызывающим
			return ferr
		}
		v.diag.Report(models.DiagFetchFailure, v.scope.Role, "", op, ferr)
		v.notifier.OnFetchFailed(ferr)
		return ferr
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != viewActive {
		v.coll.Abandon(t)
		return ErrUnmounted
	}
	if diff {
		v.coll.ReconcileAt(t, posts)
	} else {
		v.coll.SeedAt(t, posts)
	}
	return nil
}

// apply применяет событие, если представление еще смонтировано, и зовет хуки уведомлений
func (v *viewCore) apply(ev models.DomainEvent) (Outcome, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state != viewActive {
		return Outcome{}, false
	}
	out := v.coll.ApplyEvent(ev)
	v.notify(ev, out)
	return out, true
}

func (v *viewCore) notify(ev models.DomainEvent, out Outcome) {
	var expired []string
	for _, tr := range out.Transitions {
		actorIsSelf := tr.Post.ClaimantID != "" && tr.Post.ClaimantID == v.scope.SelfID
		switch tr.To {
		case models.StatusClaimed:
			v.notifier.OnClaimed(tr.Post, actorIsSelf)
		case models.StatusCollected:
			v.notifier.OnCollected(tr.Post, actorIsSelf)
		case models.StatusExpired:
			expired = append(expired, tr.Post.ID)
		}
	}
	if len(expired) > 0 {
		v.notifier.OnExpired(expired)
	}
	if _, ok := ev.(models.PostDeleted); ok {
		for _, id := range out.Removed {
			v.notifier.OnDeleted(id)
		}
	}
}

// requireStatus - локальная проверка перед действием, которое иначе ушло бы на сервер
func (v *viewCore) requireStatus(id string, want models.Status, next models.Status) (models.Post, error) {
	p, ok := v.coll.Get(id)
	if !ok {
		return models.Post{}, fmt.Errorf("%w: %s", ErrPostNotFound, id)
	}
	if p.Status != want {
		return p, &TransitionError{ID: id, From: p.Status, To: next}
	}
	return p, nil
}

func (v *viewCore) Snapshot() []models.Post {
	return v.coll.Snapshot()
}

func (v *viewCore) Collection() *EntityCollection {
	return v.coll
}

func (v *viewCore) Scope() Scope {
	return v.scope
}

// MapView - карта NGO: доступные посты в радиусе, маркеры и оверлей радиуса
type MapView struct {
	viewCore
	index *GeospatialIndex

	geoMu     sync.Mutex
	radiusKm  float64
	center    *models.Location
	noResults bool
}

func NewMapView(selfID string, radiusKm float64, deps ViewDeps, surface Surface, onSelect func(models.Post)) *MapView {
	if radiusKm <= 0 {
		radiusKm = DEFAULT_RADIUS_KM
	}
	v := &MapView{
		index:    NewGeospatialIndex(surface, onSelect),
		radiusKm: radiusKm,
	}
	v.init(Scope{Role: RoleMap, SelfID: selfID}, deps)
	v.coll.Observe(v.index)
	return v
}

// Mount подписывается на new/updated/deleted/unavailable и засевает коллекцию постами в радиусе
func (v *MapView) Mount(ctx context.Context) error {
	if err := v.activate(v, v.Search,
		models.KindPostCreated, models.KindPostUpdated, models.KindPostDeleted, models.KindPostUnavailable,
	); err != nil {
		return err
	}
	if err := v.fetchNearby(ctx, false); err != nil {
		v.Unmount()
		return err
	}
	return v.recomputeOverlay()
}

// Search повторяет поиск в текущем радиусе как reconcile
func (v *MapView) Search(ctx context.Context) error {
	return v.fetchNearby(ctx, true)
}

func (v *MapView) fetchNearby(ctx context.Context, diff bool) error {
	radius := v.Radius()
	return v.load(ctx, "nearby", func(ctx context.Context) ([]models.Post, error) {
		res, err := v.fetcher.FetchNearby(ctx, radius)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, fmt.Errorf("nearby search within %v km was not successful", radius)
		}
		v.geoMu.Lock()
		v.noResults = len(res.Posts) == 0
		v.geoMu.Unlock()
		return res.Posts, nil
	}, diff)
}

// SetRadius меняет радиус поиска и перестраивает оверлей; посты не перезагружаются до Search
func (v *MapView) SetRadius(km float64) error {
	if km <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRadius, km)
	}
	v.geoMu.Lock()
	v.radiusKm = km
	v.geoMu.Unlock()
	return v.recomputeOverlay()
}

// SetCenter задает позицию NGO (центр оверлея)
func (v *MapView) SetCenter(loc models.Location) error {
	v.geoMu.Lock()
	v.center = &loc
	v.geoMu.Unlock()
	return v.recomputeOverlay()
}

func (v *MapView) recomputeOverlay() error {
	v.geoMu.Lock()
	center, radius := v.center, v.radiusKm
	v.geoMu.Unlock()
	return v.index.RecomputeOverlay(center, radius)
}

func (v *MapView) Radius() float64 {
	v.geoMu.Lock()
	defer v.geoMu.Unlock()
	return v.radiusKm
}

// NoResults - последний поиск вернул пустой набор
func (v *MapView) NoResults() bool {
	v.geoMu.Lock()
	defer v.geoMu.Unlock()
	return v.noResults
}

func (v *MapView) Index() *GeospatialIndex {
	return v.index
}

// Claim забирает доступный пост. Недоступный отклоняется локально, без запроса на сервер.
func (v *MapView) Claim(ctx context.Context, id string) error {
	if _, err := v.requireStatus(id, models.StatusAvailable, models.StatusClaimed); err != nil {
		return err
	}
	if err := v.fetcher.Claim(ctx, id); err != nil {
		return &FetchError{Op: "claim", Err: err}
	}
	v.apply(models.PostClaimed{ID: id, ClaimantID: v.scope.SelfID})
	return v.Search(ctx)
}

func (v *MapView) HandleEvent(ev models.DomainEvent) {
	v.apply(ev)
}

// OwnerDashboard - посты ресторана
type OwnerDashboard struct {
	viewCore
}

func NewOwnerDashboard(ownerID string, deps ViewDeps) *OwnerDashboard {
	v := &OwnerDashboard{}
	v.init(Scope{Role: RoleOwner, SelfID: ownerID}, deps)
	return v
}

func (v *OwnerDashboard) Mount(ctx context.Context) error {
	if err := v.activate(v, v.Refresh,
		models.KindPostClaimed, models.KindPostCollected, models.KindPostsExpired, models.KindPostDeleted,
	); err != nil {
		return err
	}
	if err := v.load(ctx, "owner_posts", v.fetchOwn, false); err != nil {
		v.Unmount()
		return err
	}
	return nil
}

func (v *OwnerDashboard) Refresh(ctx context.Context) error {
	return v.load(ctx, "owner_posts", v.fetchOwn, true)
}

func (v *OwnerDashboard) fetchOwn(ctx context.Context) ([]models.Post, error) {
	return v.fetcher.FetchOwnerPosts(ctx, v.scope.SelfID)
}

// Create публикует новый пост и добавляет его в коллекцию
func (v *OwnerDashboard) Create(ctx context.Context, fields models.PostFields) (models.Post, error) {
	p, err := v.fetcher.Create(ctx, fields)
	if err != nil {
		return models.Post{}, &FetchError{Op: "create", Err: err}
	}
	if p.OwnerID == "" {
		p.OwnerID = v.scope.SelfID
	}
	if p.Status == "" {
		p.Status = models.StatusAvailable
	}
	v.apply(models.PostCreated{Post: p})
	return p, nil
}

// Edit сохраняет изменения поста и обновляет его на месте
func (v *OwnerDashboard) Edit(ctx context.Context, id string, fields models.PostFields) (models.Post, error) {
	cur, ok := v.coll.Get(id)
	if !ok {
		return models.Post{}, fmt.Errorf("%w: %s", ErrPostNotFound, id)
	}
	p, err := v.fetcher.Edit(ctx, id, fields)
	if err != nil {
		return models.Post{}, &FetchError{Op: "edit", Err: err}
	}
	if p.OwnerID == "" {
		p.OwnerID = cur.OwnerID
	}
	if p.Status == "" {
		p.Status = cur.Status
	}
	v.apply(models.PostUpdated{Post: p})
	return p, nil
}

// Delete удаляет пост на сервере, затем локально
func (v *OwnerDashboard) Delete(ctx context.Context, id string) error {
	if err := v.fetcher.Delete(ctx, id); err != nil {
		return &FetchError{Op: "delete", Err: err}
	}
	v.apply(models.PostDeleted{ID: id})
	return nil
}

func (v *OwnerDashboard) HandleEvent(ev models.DomainEvent) {
	v.apply(ev)
}

// ClaimantDashboard - посты, забранные NGO
type ClaimantDashboard struct {
	viewCore
}

func NewClaimantDashboard(claimantID string, deps ViewDeps) *ClaimantDashboard {
	v := &ClaimantDashboard{}
	v.init(Scope{Role: RoleClaimant, SelfID: claimantID}, deps)
	return v
}

func (v *ClaimantDashboard) Mount(ctx context.Context) error {
	if err := v.activate(v, v.Refresh,
		models.KindPostClaimed, models.KindPostCollected, models.KindPostsExpired,
		models.KindPostUnavailable, models.KindPostDeleted,
	); err != nil {
		return err
	}
	if err := v.load(ctx, "claimed_posts", v.fetchClaimed, false); err != nil {
		v.Unmount()
		return err
	}
	return nil
}

func (v *ClaimantDashboard) Refresh(ctx context.Context) error {
	return v.load(ctx, "claimed_posts", v.fetchClaimed, true)
}

func (v *ClaimantDashboard) fetchClaimed(ctx context.Context) ([]models.Post, error) {
	return v.fetcher.FetchClaimantPosts(ctx, v.scope.SelfID)
}

// Collect отмечает забранный пост как полученный; пост должен быть в claimed
func (v *ClaimantDashboard) Collect(ctx context.Context, id string) error {
	if _, err := v.requireStatus(id, models.StatusClaimed, models.StatusCollected); err != nil {
		return err
	}
	if err := v.fetcher.Collect(ctx, id); err != nil {
		return &FetchError{Op: "collect", Err: err}
	}
	v.apply(models.PostCollected{ID: id})
	return nil
}

// HandleEvent: claim на себя по неизвестному посту несет не весь пост, поэтому догружаем коллекцию
func (v *ClaimantDashboard) HandleEvent(ev models.DomainEvent) {
	out, ok := v.apply(ev)
	if !ok || !out.NeedsRefresh {
		return
	}
	if claim, isClaim := ev.(models.PostClaimed); isClaim {
		v.notifier.OnClaimed(models.Post{
			ID:         claim.ID,
			Name:       claim.FoodName,
			Status:     models.StatusClaimed,
			ClaimantID: claim.ClaimantID,
		}, true)
	}
	v.spawn(v.Refresh)
}
