package services

import (
	"errors"
	"fmt"
	"sync"

	"resqfood/models"
)

// Role - для какого представления коллекция
type Role string

const (
	RoleMap      Role = "map"
	RoleOwner    Role = "owner"
	RoleClaimant Role = "claimant"
)

// Scope - роль и идентичность текущего пользователя (ресторан или NGO)
type Scope struct {
	Role   Role
	SelfID string
}

// Ticket выдается в момент запроса полного рефреша и несет номер последовательности
type Ticket struct {
	seq uint64
}

func (t Ticket) Seq() uint64 { return t.seq }

// Observer получает поток изменений коллекции (например GeospatialIndex).
// Вызывается под блокировкой коллекции, поэтому не должен обращаться к ней обратно.
type Observer interface {
	PostChanged(p models.Post)
	PostRemoved(id string)
	Reconciled(ids []string)
}

// Transition - примененный переход статуса
type Transition struct {
	Post models.Post
	From models.Status
	To   models.Status
}

// Outcome - результат ApplyEvent
type Outcome struct {
	Changed     []models.Post
	Removed     []string
	Transitions []Transition
	Rejected    []error
	// NeedsRefresh - событие относится к нам, но полного поста в коллекции нет
	NeedsRefresh bool
}

// mark - след события для id: номер последовательности и то, что событие установило
type mark struct {
	seq        uint64
	removed    bool
	status     models.Status
	claimantID string
}

// EntityCollection - упорядоченное id -> Post хранилище одного представления
type EntityCollection struct {
	mu        sync.RWMutex
	scope     Scope
	machine   StateMachine
	diag      *Diagnostics
	observers []Observer

	posts map[string]*models.Post
	order []string

	clock       uint64
	marks       map[string]mark
	lastReplace uint64
	// pending - тикеты, выданные и еще не примененные; следы событий нужны только им
	pending     map[uint64]struct{}
}

func NewEntityCollection(scope Scope, diag *Diagnostics) *EntityCollection {
	return &EntityCollection{
		scope:   scope,
		diag:    diag,
		posts:   make(map[string]*models.Post),
		marks:   make(map[string]mark),
		pending: make(map[uint64]struct{}),
	}
}

func (c *EntityCollection) Scope() Scope {
	return c.scope
}

// Observe подписывает наблюдателя на изменения
func (c *EntityCollection) Observe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Begin фиксирует момент выдачи полного рефреша
func (c *EntityCollection) Begin() Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock++
	c.pending[c.clock] = struct{}{}
	return Ticket{seq: c.clock}
}

// Abandon снимает тикет, загрузка по которому не состоялась
func (c *EntityCollection) Abandon(t Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release(t)
}

// release снимает тикет и забывает следы, которые не может увидеть ни один оставшийся тикет
func (c *EntityCollection) release(t Ticket) {
	delete(c.pending, t.seq)
	if len(c.pending) == 0 {
		clear(c.marks)
		return
	}
	oldest := t.seq
	first := true
	for seq := range c.pending {
		if first || seq < oldest {
			oldest, first = seq, false
		}
	}
	for id, m := range c.marks {
		if m.seq <= oldest {
			delete(c.marks, id)
		}
	}
}

// setMark запоминает след события, если его может увидеть выданный тикет
func (c *EntityCollection) setMark(id string, m mark) {
	if len(c.pending) == 0 {
		return
	}
	c.marks[id] = m
}

// Seed заменяет всю коллекцию
func (c *EntityCollection) Seed(posts []models.Post) {
	c.SeedAt(c.Begin(), posts)
}

// SeedAt заменяет коллекцию результатом загрузки, выданной в момент t.
// Возвращает false, если уже применен более новый рефреш.
func (c *EntityCollection) SeedAt(t Ticket, posts []models.Post) bool {
	return c.replace(t, posts, false)
}

// Reconcile - рефреш по разнице: обновляет все серверные посты и удаляет отсутствующие
func (c *EntityCollection) Reconcile(posts []models.Post) {
	c.ReconcileAt(c.Begin(), posts)
}

func (c *EntityCollection) ReconcileAt(t Ticket, posts []models.Post) bool {
	return c.replace(t, posts, true)
}

func (c *EntityCollection) replace(t Ticket, serverPosts []models.Post, diff bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer c.release(t)

	if t.seq < c.lastReplace {
		c.diag.Report(models.DiagStaleOverwrite, c.scope.Role, "", "",
			fmt.Errorf("%w: refresh #%d older than applied #%d", ErrStaleOverwrite, t.seq, c.lastReplace))
		return false
	}

	next := make(map[string]*models.Post, len(serverPosts))
	order := make([]string, 0, len(serverPosts))

	for _, sp := range serverPosts {
		if sp.ID == "" {
			continue
		}
		if _, dup := next[sp.ID]; dup {
			continue
		}
		cur := c.posts[sp.ID]

		if m, ok := c.marks[sp.ID]; ok && m.seq > t.seq {
			switch {
			case m.removed:
				c.diag.Report(models.DiagStaleOverwrite, c.scope.Role, sp.ID, "", ErrStaleOverwrite)
				continue
			case cur != nil:
				c.diag.Report(models.DiagStaleOverwrite, c.scope.Role, sp.ID, "", ErrStaleOverwrite)
				next[sp.ID] = cur
				order = append(order, sp.ID)
				continue
			default:
				sp = raiseToMark(sp, m)
			}
		}

		if diff && cur != nil && !c.machine.Reconciles(cur.Status, sp.Status) {
			c.diag.Report(models.DiagStaleOverwrite, c.scope.Role, sp.ID, "",
				fmt.Errorf("%w: server status %s behind local %s", ErrStaleOverwrite, sp.Status, cur.Status))
			next[sp.ID] = cur
			order = append(order, sp.ID)
			continue
		}

		if c.scope.Role == RoleMap && sp.Status != models.StatusAvailable {
			continue
		}

		p := sp.Clone()
		if diff && cur != nil && p.ClaimantID == "" {
			p.ClaimantID = cur.ClaimantID
		}
		next[p.ID] = &p
		order = append(order, p.ID)
	}

	// посты, добавленные событиями после выдачи тикета, не удаляются по отсутствию
	for _, id := range c.order {
		if _, ok := next[id]; ok {
			continue
		}
		if m, ok := c.marks[id]; ok && m.seq > t.seq && !m.removed {
			next[id] = c.posts[id]
			order = append(order, id)
		}
	}

	var removed []string
	for _, id := range c.order {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}

	c.posts = next
	c.order = order
	c.lastReplace = t.seq

	for _, o := range c.observers {
		for _, id := range removed {
			o.PostRemoved(id)
		}
		for _, id := range order {
			o.PostChanged(next[id].Clone())
		}
		o.Reconciled(append([]string(nil), order...))
	}
	return true
}

// raiseToMark не дает загрузке вернуть статус, который поток событий уже продвинул
func raiseToMark(sp models.Post, m mark) models.Post {
	if m.status != "" && m.status.Rank() > sp.Status.Rank() {
		sp.Status = m.status
	}
	if sp.ClaimantID == "" {
		sp.ClaimantID = m.claimantID
	}
	return sp
}

// ApplyEvent применяет одно доменное событие в порядке получения
func (c *EntityCollection) ApplyEvent(ev models.DomainEvent) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	seq := c.clock
	var out Outcome

	switch e := ev.(type) {
	case models.PostCreated:
		c.upsert(e.Post, e.Kind(), seq, &out)
	case models.PostUpdated:
		c.upsert(e.Post, e.Kind(), seq, &out)
	case models.PostClaimed:
		c.patchStatus(e.ID, e, seq, &out)
	case models.PostCollected:
		c.patchStatus(e.ID, e, seq, &out)
	case models.PostsExpired:
		for _, id := range e.IDs {
			c.patchStatus(id, e, seq, &out)
		}
	case models.PostDeleted:
		c.remove(e.ID, seq, &out)
	case models.PostUnavailable:
		c.remove(e.ID, seq, &out)
	}

	for _, o := range c.observers {
		for _, p := range out.Changed {
			o.PostChanged(p)
		}
		for _, id := range out.Removed {
			o.PostRemoved(id)
		}
	}
	return out
}

// admits - должен ли новый пост из события попасть в коллекцию этой роли
func (c *EntityCollection) admits(p models.Post, kind models.EventKind) bool {
	switch c.scope.Role {
	case RoleMap:
		return p.Status == models.StatusAvailable
	case RoleOwner:
		return p.OwnerID != "" && p.OwnerID == c.scope.SelfID
	case RoleClaimant:
		return kind == models.KindPostUpdated && p.ClaimantID != "" && p.ClaimantID == c.scope.SelfID
	}
	return false
}

func (c *EntityCollection) upsert(p models.Post, kind models.EventKind, seq uint64, out *Outcome) {
	if p.ID == "" {
		return
	}
	cur, exists := c.posts[p.ID]
	if !exists {
		if !c.admits(p, kind) {
			if c.scope.Role == RoleMap {
				c.setMark(p.ID, mark{seq: seq, removed: true})
			}
			return
		}
		np := p.Clone()
		c.posts[np.ID] = &np
		c.order = append(c.order, np.ID)
		c.setMark(np.ID, mark{seq: seq, status: np.Status, claimantID: np.ClaimantID})
		out.Changed = append(out.Changed, np.Clone())
		return
	}

	if err := c.machine.Advance(cur.Status, p.Status); err != nil {
		c.reject(p.ID, kind, err, out)
		return
	}
	np := p.Clone()
	if np.ClaimantID == "" {
		np.ClaimantID = cur.ClaimantID
	}
	if np.Status != cur.Status {
		out.Transitions = append(out.Transitions, Transition{Post: np.Clone(), From: cur.Status, To: np.Status})
	}
	if c.scope.Role == RoleMap && np.Status != models.StatusAvailable {
		c.drop(np.ID, seq, out)
		return
	}
	*cur = np
	c.setMark(np.ID, mark{seq: seq, status: np.Status, claimantID: np.ClaimantID})
	out.Changed = append(out.Changed, np.Clone())
}

func (c *EntityCollection) patchStatus(id string, ev models.DomainEvent, seq uint64, out *Outcome) {
	cur, exists := c.posts[id]
	if !exists {
		switch {
		case c.scope.Role == RoleMap:
			// карта все равно не показывает пост, ушедший из available
			c.setMark(id, mark{seq: seq, removed: true})
		case c.scope.Role == RoleClaimant:
			if claim, ok := ev.(models.PostClaimed); ok && claim.ClaimantID != "" && claim.ClaimantID == c.scope.SelfID {
				c.setMark(id, mark{seq: seq, status: models.StatusClaimed, claimantID: claim.ClaimantID})
				out.NeedsRefresh = true
			}
		}
		return
	}

	next, err := c.machine.Apply(cur.Status, ev)
	if err != nil {
		c.reject(id, ev.Kind(), err, out)
		return
	}
	from := cur.Status
	np := cur.Clone()
	np.Status = next
	if claim, ok := ev.(models.PostClaimed); ok && claim.ClaimantID != "" {
		np.ClaimantID = claim.ClaimantID
	}
	out.Transitions = append(out.Transitions, Transition{Post: np.Clone(), From: from, To: next})

	if c.scope.Role == RoleMap {
		c.drop(id, seq, out)
		return
	}
	*cur = np
	c.setMark(id, mark{seq: seq, status: np.Status, claimantID: np.ClaimantID})
	out.Changed = append(out.Changed, np.Clone())
}

func (c *EntityCollection) remove(id string, seq uint64, out *Outcome) {
	if id == "" {
		return
	}
	if _, exists := c.posts[id]; !exists {
		c.setMark(id, mark{seq: seq, removed: true})
		return
	}
	c.drop(id, seq, out)
}

func (c *EntityCollection) drop(id string, seq uint64, out *Outcome) {
	c.setMark(id, mark{seq: seq, removed: true})
	if _, exists := c.posts[id]; !exists {
		return
	}
	delete(c.posts, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	out.Removed = append(out.Removed, id)
}

func (c *EntityCollection) reject(id string, kind models.EventKind, err error, out *Outcome) {
	var te *TransitionError
	if errors.As(err, &te) && te.ID == "" {
		te.ID = id
	}
	c.diag.Report(models.DiagIllegalTransition, c.scope.Role, id, string(kind), err)
	out.Rejected = append(out.Rejected, err)
}

// Snapshot возвращает упорядоченную копию постов для отрисовки
func (c *EntityCollection) Snapshot() []models.Post {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]models.Post, 0, len(c.order))
	for _, id := range c.order {
		res = append(res, c.posts[id].Clone())
	}
	return res
}

func (c *EntityCollection) Get(id string) (models.Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.posts[id]
	if !ok {
		return models.Post{}, false
	}
	return p.Clone(), true
}

func (c *EntityCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}
