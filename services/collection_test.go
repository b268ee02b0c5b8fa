package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resqfood/models"
)

func newCollection(role Role, self string) *EntityCollection {
	return NewEntityCollection(Scope{Role: role, SelfID: self}, NewDiagnostics(quietLogger(), nil))
}

func TestSeedReplacesAndCopies(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	first := []models.Post{fakePost("a", models.StatusAvailable), fakePost("b", models.StatusClaimed)}
	c.Seed(first)

	// изменение входного слайса не должно влиять на коллекцию
	first[0].Name = "mutated"
	first[0].Location.Lng = 999

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.NotEqual(t, "mutated", got.Name)
	assert.NotEqual(t, 999.0, got.Location.Lng)

	c.Seed([]models.Post{fakePost("c", models.StatusAvailable)})
	assert.Equal(t, []string{"c"}, ids(c.Snapshot()))
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{fakePost("a", models.StatusAvailable)})

	snap := c.Snapshot()
	snap[0].Status = models.StatusCollected
	snap[0].Location.Lat = -1

	got, _ := c.Get("a")
	assert.Equal(t, models.StatusAvailable, got.Status)
	assert.NotEqual(t, -1.0, got.Location.Lat)
}

func TestReconcileConvergesToServerSet(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{fakePost("a", models.StatusAvailable), fakePost("b", models.StatusAvailable), fakePost("x", models.StatusClaimed)})
	c.ApplyEvent(models.PostCreated{Post: fakePost("late", models.StatusAvailable)})

	server := []models.Post{fakePost("b", models.StatusAvailable), fakePost("c", models.StatusAvailable), fakePost("a", models.StatusAvailable)}
	c.Reconcile(server)
	assert.Equal(t, []string{"b", "c", "a"}, ids(c.Snapshot()))

	// повторно - тот же результат
	c.Reconcile(server)
	assert.Equal(t, []string{"b", "c", "a"}, ids(c.Snapshot()))

	c.Reconcile(nil)
	assert.Empty(t, c.Snapshot())
}

func TestReconcilePicksUpAttributeEdits(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	p := fakePost("a", models.StatusAvailable)
	c.Seed([]models.Post{p})

	edited := p.Clone()
	edited.Name = "Vegetable biryani"
	edited.Quantity = "40 portions"
	c.Reconcile([]models.Post{edited})

	got, _ := c.Get("a")
	assert.Equal(t, "Vegetable biryani", got.Name)
	assert.Equal(t, "40 portions", got.Quantity)
}

func TestReconcileDeduplicatesServerIDs(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Reconcile([]models.Post{fakePost("a", models.StatusAvailable), fakePost("a", models.StatusAvailable), fakePost("b", models.StatusAvailable)})
	assert.Equal(t, []string{"a", "b"}, ids(c.Snapshot()))
}

func TestReconcileRejectsStatusRegression(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{fakePost("a", models.StatusCollected)})

	c.Reconcile([]models.Post{fakePost("a", models.StatusClaimed)})
	got, _ := c.Get("a")
	assert.Equal(t, models.StatusCollected, got.Status)
}

func TestReconcileBridgesMissedEvents(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{fakePost("a", models.StatusAvailable)})

	c.Reconcile([]models.Post{fakePost("a", models.StatusCollected)})
	got, _ := c.Get("a")
	assert.Equal(t, models.StatusCollected, got.Status)
}

// Медленная загрузка не должна вернуть статус, который поток событий уже продвинул
func TestSlowRefreshDoesNotResurrectAvailable(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{{ID: "1", Status: models.StatusAvailable, OwnerID: "rest1"}})

	ticket := c.Begin()
	out := c.ApplyEvent(models.PostClaimed{ID: "1", ClaimantID: "ngo1", ClaimantName: "NGO One", FoodName: "Rice"})
	require.Len(t, out.Transitions, 1)

	applied := c.ReconcileAt(ticket, []models.Post{{ID: "1", Status: models.StatusAvailable, OwnerID: "rest1"}})
	assert.True(t, applied)

	got, ok := c.Get("1")
	require.True(t, ok)
	assert.Equal(t, models.StatusClaimed, got.Status)
	assert.Equal(t, "ngo1", got.ClaimantID)
}

func TestSlowRefreshDoesNotResurrectDeleted(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{fakePost("a", models.StatusAvailable), fakePost("b", models.StatusAvailable)})

	ticket := c.Begin()
	c.ApplyEvent(models.PostDeleted{ID: "a"})
	c.ReconcileAt(ticket, []models.Post{fakePost("a", models.StatusAvailable), fakePost("b", models.StatusAvailable)})

	assert.Equal(t, []string{"b"}, ids(c.Snapshot()))
}

func TestSlowRefreshKeepsPostCreatedAfterIssue(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{fakePost("a", models.StatusAvailable)})

	ticket := c.Begin()
	c.ApplyEvent(models.PostCreated{Post: fakePost("new", models.StatusAvailable)})
	c.ReconcileAt(ticket, []models.Post{fakePost("a", models.StatusAvailable)})

	assert.ElementsMatch(t, []string{"a", "new"}, ids(c.Snapshot()))
}

func TestSlowRefreshRaisesAbsentPostToEventStatus(t *testing.T) {
	c := newCollection(RoleClaimant, "ngo1")
	c.Seed(nil)

	ticket := c.Begin()
	out := c.ApplyEvent(models.PostClaimed{ID: "a", ClaimantID: "ngo1"})
	assert.True(t, out.NeedsRefresh)

	stale := fakePost("a", models.StatusAvailable)
	stale.ClaimantID = ""
	c.ReconcileAt(ticket, []models.Post{stale})

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, models.StatusClaimed, got.Status)
	assert.Equal(t, "ngo1", got.ClaimantID)
}

func TestEventTracesDroppedWithoutRefreshInFlight(t *testing.T) {
	c := newCollection(RoleMap, "ngo1")
	c.Seed(nil)

	for i := 0; i < 1000; i++ {
		p := fakePost(fmt.Sprintf("p%d", i), models.StatusAvailable)
		c.ApplyEvent(models.PostCreated{Post: p})
		c.ApplyEvent(models.PostUnavailable{ID: p.ID})
		c.ApplyEvent(models.PostDeleted{ID: "gone" + p.ID})
	}
	assert.Zero(t, c.Len())
	assert.Empty(t, c.marks)
	assert.Empty(t, c.pending)
}

func TestAbandonedRefreshReleasesTraces(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{fakePost("a", models.StatusAvailable)})

	failed := c.Begin()
	c.ApplyEvent(models.PostDeleted{ID: "a"})
	live := c.Begin()
	c.ApplyEvent(models.PostCreated{Post: fakePost("b", models.StatusAvailable)})
	require.Len(t, c.marks, 2)

	// след удаления "a" виден только снятому тикету
	c.Abandon(failed)
	assert.Len(t, c.marks, 1)

	c.ReconcileAt(live, nil)
	assert.Equal(t, []string{"b"}, ids(c.Snapshot()))
	assert.Empty(t, c.marks)
	assert.Empty(t, c.pending)
}

func TestOlderRefreshDiscardedWholesale(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	older := c.Begin()
	newer := c.Begin()

	assert.True(t, c.ReconcileAt(newer, []models.Post{fakePost("n", models.StatusAvailable)}))
	assert.False(t, c.ReconcileAt(older, []models.Post{fakePost("o", models.StatusAvailable)}))
	assert.Equal(t, []string{"n"}, ids(c.Snapshot()))
}

func TestCollectedTwiceIsNoop(t *testing.T) {
	c := newCollection(RoleClaimant, "ngo1")
	c.Seed([]models.Post{fakePost("a", models.StatusClaimed)})

	first := c.ApplyEvent(models.PostCollected{ID: "a"})
	require.Len(t, first.Transitions, 1)
	before, _ := c.Get("a")

	second := c.ApplyEvent(models.PostCollected{ID: "a"})
	assert.Empty(t, second.Changed)
	require.Len(t, second.Rejected, 1)
	assert.ErrorIs(t, second.Rejected[0], ErrIllegalTransition)

	after, _ := c.Get("a")
	assert.Equal(t, before, after)
}

func TestIllegalTransitionLeavesEntityUntouched(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	p := fakePost("a", models.StatusAvailable)
	c.Seed([]models.Post{p})

	out := c.ApplyEvent(models.PostCollected{ID: "a"})
	require.Len(t, out.Rejected, 1)

	got, _ := c.Get("a")
	assert.Equal(t, models.StatusAvailable, got.Status)
	assert.Equal(t, p.Name, got.Name)
}

func TestUpdateWithRegressedStatusIgnored(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{fakePost("a", models.StatusCollected)})

	regressed := fakePost("a", models.StatusClaimed)
	regressed.Name = "should not apply"
	out := c.ApplyEvent(models.PostUpdated{Post: regressed})
	require.Len(t, out.Rejected, 1)

	got, _ := c.Get("a")
	assert.Equal(t, models.StatusCollected, got.Status)
	assert.NotEqual(t, "should not apply", got.Name)
}

func TestClaimantIDNeverRevertsToNull(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{fakePost("a", models.StatusAvailable)})
	c.ApplyEvent(models.PostClaimed{ID: "a", ClaimantID: "ngo7"})

	upd := fakePost("a", models.StatusClaimed)
	upd.ClaimantID = ""
	c.ApplyEvent(models.PostUpdated{Post: upd})

	got, _ := c.Get("a")
	assert.Equal(t, "ngo7", got.ClaimantID)
}

func TestExpiredAppliesPerID(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	c.Seed([]models.Post{
		fakePost("a", models.StatusAvailable),
		fakePost("b", models.StatusClaimed),
		fakePost("c", models.StatusCollected),
	})

	out := c.ApplyEvent(models.PostsExpired{IDs: []string{"a", "b", "c", "missing"}})
	assert.Len(t, out.Transitions, 2)
	assert.Len(t, out.Rejected, 1)

	statuses := map[string]models.Status{}
	for _, p := range c.Snapshot() {
		statuses[p.ID] = p.Status
	}
	assert.Equal(t, models.StatusExpired, statuses["a"])
	assert.Equal(t, models.StatusExpired, statuses["b"])
	assert.Equal(t, models.StatusCollected, statuses["c"])
}

func TestMapRoleDropsPostsLeavingAvailable(t *testing.T) {
	c := newCollection(RoleMap, "ngo1")
	c.Seed([]models.Post{fakePost("a", models.StatusAvailable), fakePost("b", models.StatusAvailable), fakePost("z", models.StatusClaimed)})
	assert.Equal(t, []string{"a", "b"}, ids(c.Snapshot()))

	out := c.ApplyEvent(models.PostClaimed{ID: "a", ClaimantID: "ngo2"})
	assert.Equal(t, []string{"a"}, out.Removed)

	claimed := fakePost("b", models.StatusClaimed)
	out = c.ApplyEvent(models.PostUpdated{Post: claimed})
	assert.Equal(t, []string{"b"}, out.Removed)
	assert.Empty(t, c.Snapshot())

	out = c.ApplyEvent(models.PostCreated{Post: fakePost("gone", models.StatusExpired)})
	assert.Empty(t, out.Changed)
	assert.Equal(t, 0, c.Len())
}

func TestMapRoleKeepsPostWithoutLocation(t *testing.T) {
	c := newCollection(RoleMap, "ngo1")
	p := fakePost("a", models.StatusAvailable)
	p.Location = nil
	c.Seed([]models.Post{p})
	assert.Equal(t, 1, c.Len())
}

func TestOwnerRoleFiltersForeignPosts(t *testing.T) {
	c := newCollection(RoleOwner, "rest1")
	mine := fakePost("mine", models.StatusAvailable)
	theirs := fakePost("theirs", models.StatusAvailable)
	theirs.OwnerID = "rest2"

	c.ApplyEvent(models.PostCreated{Post: mine})
	c.ApplyEvent(models.PostCreated{Post: theirs})
	assert.Equal(t, []string{"mine"}, ids(c.Snapshot()))

	// claim на чужой пост не затрагивает коллекцию
	out := c.ApplyEvent(models.PostClaimed{ID: "theirs", ClaimantID: "ngo1"})
	assert.Empty(t, out.Transitions)
	assert.False(t, out.NeedsRefresh)
}

func TestClaimantRoleUnknownClaimNeedsRefresh(t *testing.T) {
	c := newCollection(RoleClaimant, "ngo1")
	c.Seed(nil)

	out := c.ApplyEvent(models.PostClaimed{ID: "a", ClaimantID: "ngo1"})
	assert.True(t, out.NeedsRefresh)

	out = c.ApplyEvent(models.PostClaimed{ID: "b", ClaimantID: "ngo2"})
	assert.False(t, out.NeedsRefresh)
	assert.Equal(t, 0, c.Len())
}

func TestUnavailableRemovesPost(t *testing.T) {
	c := newCollection(RoleClaimant, "ngo1")
	c.Seed([]models.Post{fakePost("a", models.StatusClaimed)})

	out := c.ApplyEvent(models.PostUnavailable{ID: "a"})
	assert.Equal(t, []string{"a"}, out.Removed)

	// повторное удаление - no-op
	out = c.ApplyEvent(models.PostUnavailable{ID: "a"})
	assert.Empty(t, out.Removed)
}

type recordingObserver struct {
	changed    []string
	removed    []string
	reconciled [][]string
}

func (o *recordingObserver) PostChanged(p models.Post) { o.changed = append(o.changed, p.ID) }
func (o *recordingObserver) PostRemoved(id string)     { o.removed = append(o.removed, id) }
func (o *recordingObserver) Reconciled(ids []string)   { o.reconciled = append(o.reconciled, ids) }

func TestObserverSeesMutationStream(t *testing.T) {
	c := newCollection(RoleMap, "ngo1")
	obs := &recordingObserver{}
	c.Observe(obs)

	c.Seed([]models.Post{fakePost("a", models.StatusAvailable), fakePost("b", models.StatusAvailable)})
	assert.Equal(t, []string{"a", "b"}, obs.changed)
	require.Len(t, obs.reconciled, 1)

	c.ApplyEvent(models.PostUnavailable{ID: "a"})
	assert.Equal(t, []string{"a"}, obs.removed)

	c.Reconcile([]models.Post{fakePost("c", models.StatusAvailable)})
	assert.Equal(t, []string{"a", "b"}, obs.removed)
	assert.Equal(t, []string{"c"}, obs.reconciled[1])
}
