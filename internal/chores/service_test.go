package chores

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/choresyncd/internal/events"
	"github.com/fyrsmithlabs/choresyncd/internal/model"
)

var (
	parent = Actor{ID: "p1", Name: "Alex", Role: model.RoleParent}
	kid    = Actor{ID: "kid-1", Name: "Sam", Role: model.RoleChild}
)

type fakeRemote struct {
	gatewayOnly bool

	templates model.TemplatesDoc
	instances model.InstancesDoc
	members   model.MembersDoc
	settings  model.SettingsDoc
	activity  model.ActivityDoc
	ledger    model.LedgerDoc

	instanceSaves int
	memberSaves   int
}

func (f *fakeRemote) GatewayOnly() bool { return f.gatewayOnly }

func (f *fakeRemote) LoadTemplates(ctx context.Context) (*model.TemplatesDoc, error) {
	doc := f.templates
	doc.Templates = append([]model.Template(nil), f.templates.Templates...)
	return &doc, nil
}

func (f *fakeRemote) SaveTemplates(ctx context.Context, doc *model.TemplatesDoc) error {
	f.templates.Templates = append([]model.Template(nil), doc.Templates...)
	return nil
}

func (f *fakeRemote) LoadInstances(ctx context.Context) (*model.InstancesDoc, error) {
	doc := f.instances
	doc.Chores = append([]model.Instance(nil), f.instances.Chores...)
	return &doc, nil
}

func (f *fakeRemote) SaveInstances(ctx context.Context, doc *model.InstancesDoc) error {
	f.instances.Chores = append([]model.Instance(nil), doc.Chores...)
	f.instanceSaves++
	return nil
}

func (f *fakeRemote) LoadMembers(ctx context.Context) (*model.MembersDoc, error) {
	doc := f.members
	doc.Members = append([]model.Member(nil), f.members.Members...)
	return &doc, nil
}

func (f *fakeRemote) SaveMembers(ctx context.Context, doc *model.MembersDoc) error {
	f.members.Members = append([]model.Member(nil), doc.Members...)
	f.memberSaves++
	return nil
}

func (f *fakeRemote) LoadSettings(ctx context.Context) (*model.SettingsDoc, error) {
	return &f.settings, nil
}

func (f *fakeRemote) LoadActivity(ctx context.Context) (*model.ActivityDoc, error) {
	doc := f.activity
	doc.Entries = append([]model.ActivityEntry(nil), f.activity.Entries...)
	return &doc, nil
}

func (f *fakeRemote) SaveActivity(ctx context.Context, doc *model.ActivityDoc) error {
	f.activity.Entries = append([]model.ActivityEntry(nil), doc.Entries...)
	return nil
}

func (f *fakeRemote) LoadLedger(ctx context.Context) (*model.LedgerDoc, error) {
	doc := f.ledger
	doc.Entries = append([]model.PointEntry(nil), f.ledger.Entries...)
	return &doc, nil
}

func (f *fakeRemote) SaveLedger(ctx context.Context, doc *model.LedgerDoc) error {
	f.ledger.Entries = append([]model.PointEntry(nil), doc.Entries...)
	return nil
}

func (f *fakeRemote) actions() []string {
	var out []string
	for _, e := range f.activity.Entries {
		out = append(out, e.ActionType)
	}
	return out
}

type fakeGateway struct {
	calls []string
}

func (g *fakeGateway) record(verb string) error {
	g.calls = append(g.calls, verb)
	return nil
}

func (g *fakeGateway) CreateChore(ctx context.Context, payload any) error {
	return g.record("createChore")
}
func (g *fakeGateway) UpdateChore(ctx context.Context, payload any) error {
	return g.record("updateChore")
}
func (g *fakeGateway) DeleteChore(ctx context.Context, payload any) error {
	return g.record("deleteChore")
}
func (g *fakeGateway) CompleteChore(ctx context.Context, payload any) error {
	return g.record("completeChore")
}
func (g *fakeGateway) VerifyChore(ctx context.Context, payload any) error {
	return g.record("verifyChore")
}
func (g *fakeGateway) DeleteTemplate(ctx context.Context, payload any) error {
	return g.record("deleteTemplate")
}

type fakeCache struct {
	byID      map[string]model.Instance
	templates []model.Template
}

func newFakeCache() *fakeCache {
	return &fakeCache{byID: map[string]model.Instance{}}
}

func (c *fakeCache) ByID(ctx context.Context, id string) (*model.Instance, error) {
	inst, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("not cached: %s", id)
	}
	return &inst, nil
}

func (c *fakeCache) Upsert(ctx context.Context, inst *model.Instance) error {
	c.byID[inst.ID] = *inst
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, id string) error {
	delete(c.byID, id)
	return nil
}

func (c *fakeCache) ReplaceTemplates(ctx context.Context, templates []model.Template) error {
	c.templates = append([]model.Template(nil), templates...)
	return nil
}

type fakeSink struct {
	kinds []string
}

func (f *fakeSink) Instance(kind string, inst model.Instance) {
	f.kinds = append(f.kinds, kind)
}

type fixture struct {
	svc     Service
	remote  *fakeRemote
	gateway *fakeGateway
	cache   *fakeCache
	sink    *fakeSink
	nudges  int
}

func newFixture(t *testing.T, rem *fakeRemote) *fixture {
	t.Helper()
	f := &fixture{
		remote:  rem,
		gateway: &fakeGateway{},
		cache:   newFakeCache(),
		sink:    &fakeSink{},
	}
	svc, err := NewService(rem, f.gateway, f.cache, f.sink,
		func() { f.nudges++ }, zaptest.NewLogger(t))
	require.NoError(t, err)
	svc.(*service).now = func() time.Time {
		return time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	}
	f.svc = svc
	return f
}

func pendingChore(id string, assignees ...string) model.Instance {
	return model.Instance{
		ID:          id,
		Title:       "Dishes",
		AssigneeIDs: assignees,
		Points:      5,
		DueDate:     model.MustDate("2025-06-03"),
		Status:      model.StatusPending,
	}
}

func TestCreateChore(t *testing.T) {
	f := newFixture(t, &fakeRemote{})

	inst, err := f.svc.CreateChore(context.Background(), parent, ChoreInput{
		Title:       "Water plants",
		AssigneeIDs: []string{"kid-1"},
		Points:      3,
		DueDate:     model.MustDate("2025-06-04"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, model.StatusPending, inst.Status)
	assert.Empty(t, inst.TemplateID, "one-off chores carry no template reference")

	require.Len(t, f.remote.instances.Chores, 1)
	assert.Contains(t, f.cache.byID, inst.ID)
	assert.Equal(t, []string{events.KindCreated}, f.sink.kinds)
	assert.Contains(t, f.remote.actions(), model.ActionChoreCreated)
	assert.Equal(t, 1, f.nudges, "a confirmed mutation nudges the reconciler")
}

func TestCreateChoreRequiresParent(t *testing.T) {
	f := newFixture(t, &fakeRemote{})

	_, err := f.svc.CreateChore(context.Background(), kid, ChoreInput{Title: "Nope"})
	assert.ErrorIs(t, err, ErrPermission)
	assert.Empty(t, f.remote.instances.Chores)
	assert.Zero(t, f.nudges)
}

func TestCompleteChore(t *testing.T) {
	rem := &fakeRemote{}
	rem.instances.Chores = []model.Instance{pendingChore("c1", "kid-1")}
	f := newFixture(t, rem)

	inst, err := f.svc.CompleteChore(context.Background(), kid, "c1", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, inst.Status)
	assert.Equal(t, "kid-1", inst.CompletedBy)
	require.NotNil(t, inst.CompletedAt)

	assert.Equal(t, model.StatusCompleted, rem.instances.Chores[0].Status)
	assert.Equal(t, inst.Status, f.cache.byID["c1"].Status)
	assert.Equal(t, []string{events.KindCompleted}, f.sink.kinds)
}

func TestCompleteChoreUnassignedChildDenied(t *testing.T) {
	rem := &fakeRemote{}
	rem.instances.Chores = []model.Instance{pendingChore("c1", "kid-2")}
	f := newFixture(t, rem)

	_, err := f.svc.CompleteChore(context.Background(), kid, "c1", "")
	assert.ErrorIs(t, err, ErrPermission)
	assert.Zero(t, rem.instanceSaves, "rejected mutation must not write")
	assert.Equal(t, model.StatusPending, rem.instances.Chores[0].Status)
	assert.Zero(t, f.nudges, "denied mutations leave the reconciler alone")
}

func TestCompleteChorePhotoRequired(t *testing.T) {
	rem := &fakeRemote{}
	c := pendingChore("c1", "kid-1")
	c.RequiresPhoto = true
	rem.instances.Chores = []model.Instance{c}
	f := newFixture(t, rem)

	_, err := f.svc.CompleteChore(context.Background(), kid, "c1", "")
	assert.ErrorIs(t, err, ErrPhotoRequired)

	inst, err := f.svc.CompleteChore(context.Background(), kid, "c1", "photos/abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, "photos/abc.jpg", inst.PhotoRef)
}

func TestCompleteChoreAlreadyDone(t *testing.T) {
	rem := &fakeRemote{}
	c := pendingChore("c1", "kid-1")
	c.Status = model.StatusCompleted
	rem.instances.Chores = []model.Instance{c}
	f := newFixture(t, rem)

	_, err := f.svc.CompleteChore(context.Background(), kid, "c1", "")
	assert.ErrorIs(t, err, ErrNotCompletable)
}

func TestVerifyChoreApproveAwardsPoints(t *testing.T) {
	rem := &fakeRemote{}
	c := pendingChore("c1", "kid-1")
	c.Status = model.StatusCompleted
	c.CompletedBy = "kid-1"
	rem.instances.Chores = []model.Instance{c}
	rem.members.Members = []model.Member{{ID: "kid-1", Name: "Sam", Role: model.RoleChild, PointBalance: 10}}
	rem.settings.Settings.PointMultiplier = 1.5
	f := newFixture(t, rem)

	inst, err := f.svc.VerifyChore(context.Background(), parent, "c1", true, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, inst.Status)
	assert.Equal(t, "p1", inst.VerifiedBy)

	// 5 points x 1.5 rounds half away from zero to 8.
	m := rem.members.Members[0]
	assert.Equal(t, 18, m.PointBalance)
	assert.Equal(t, 1, m.LifetimeCompleted)

	require.Len(t, rem.ledger.Entries, 1)
	assert.Equal(t, 8, rem.ledger.Entries[0].Points)
	assert.Equal(t, "earn", rem.ledger.Entries[0].Kind)
	assert.Equal(t, "kid-1", rem.ledger.Entries[0].MemberID)
	assert.Equal(t, "c1", rem.ledger.Entries[0].InstanceID)

	assert.Contains(t, rem.actions(), model.ActionChoreVerified)
	assert.Contains(t, rem.actions(), model.ActionPointsAwarded)
	assert.Equal(t, []string{events.KindVerified}, f.sink.kinds)
}

func TestVerifyChoreReject(t *testing.T) {
	rem := &fakeRemote{}
	c := pendingChore("c1", "kid-1")
	now := time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)
	c.Status = model.StatusCompleted
	c.CompletedBy = "kid-1"
	c.CompletedAt = &now
	c.PhotoRef = "photos/blurry.jpg"
	rem.instances.Chores = []model.Instance{c}
	f := newFixture(t, rem)

	inst, err := f.svc.VerifyChore(context.Background(), parent, "c1", false, "photo is blurry")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, inst.Status)
	assert.Empty(t, inst.CompletedBy)
	assert.Nil(t, inst.CompletedAt)
	assert.Empty(t, inst.PhotoRef)
	assert.Empty(t, inst.VerifiedBy)

	assert.Zero(t, rem.memberSaves, "rejection never moves points")
	assert.Empty(t, rem.ledger.Entries)
	assert.Contains(t, rem.actions(), model.ActionChoreRejected)
	assert.Equal(t, []string{events.KindRejected}, f.sink.kinds)
}

func TestInstanceMutationsNudgeReconciler(t *testing.T) {
	rem := &fakeRemote{}
	rem.instances.Chores = []model.Instance{pendingChore("c1", "kid-1")}
	f := newFixture(t, rem)

	_, err := f.svc.CompleteChore(context.Background(), kid, "c1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.nudges)

	_, err = f.svc.VerifyChore(context.Background(), parent, "c1", true, "")
	require.NoError(t, err)
	assert.Equal(t, 2, f.nudges)
}

func TestVerifyChoreRequiresCompleted(t *testing.T) {
	rem := &fakeRemote{}
	rem.instances.Chores = []model.Instance{pendingChore("c1", "kid-1")}
	f := newFixture(t, rem)

	_, err := f.svc.VerifyChore(context.Background(), parent, "c1", true, "")
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestVerifyChoreRequiresParent(t *testing.T) {
	rem := &fakeRemote{}
	f := newFixture(t, rem)

	_, err := f.svc.VerifyChore(context.Background(), kid, "c1", true, "")
	assert.ErrorIs(t, err, ErrPermission)
}

func TestUpdateChore(t *testing.T) {
	rem := &fakeRemote{}
	rem.instances.Chores = []model.Instance{pendingChore("c1", "kid-1")}
	f := newFixture(t, rem)

	title := "Dishes and counters"
	points := 8
	inst, err := f.svc.UpdateChore(context.Background(), parent, "c1", ChoreUpdate{
		Title:  &title,
		Points: &points,
	})
	require.NoError(t, err)
	assert.Equal(t, title, inst.Title)
	assert.Equal(t, 8, inst.Points)
	assert.Equal(t, []string{"kid-1"}, inst.AssigneeIDs, "omitted fields keep their value")
	assert.Equal(t, title, rem.instances.Chores[0].Title)
	assert.Equal(t, 1, f.nudges)
}

func TestDeleteChore(t *testing.T) {
	rem := &fakeRemote{}
	rem.instances.Chores = []model.Instance{pendingChore("c1", "kid-1")}
	f := newFixture(t, rem)
	require.NoError(t, f.cache.Upsert(context.Background(), &rem.instances.Chores[0]))

	require.NoError(t, f.svc.DeleteChore(context.Background(), parent, "c1"))
	assert.Empty(t, rem.instances.Chores)
	assert.NotContains(t, f.cache.byID, "c1")
	assert.Equal(t, []string{events.KindDeleted}, f.sink.kinds)
	assert.Equal(t, 1, f.nudges)

	err := f.svc.DeleteChore(context.Background(), parent, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.nudges, "a failed delete does not nudge again")
}

func TestCreateTemplateMaterializesFirstInstance(t *testing.T) {
	f := newFixture(t, &fakeRemote{})

	tpl, err := f.svc.CreateTemplate(context.Background(), parent, TemplateInput{
		Title:       "Feed the cat",
		AssigneeIDs: []string{"kid-1"},
		Points:      5,
		Recurrence:  model.Recurrence{Frequency: model.FrequencyDaily},
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-03", tpl.LastCycleID)
	assert.Equal(t, "p1", tpl.CreatedBy)

	require.Len(t, f.remote.templates.Templates, 1)
	require.Len(t, f.remote.instances.Chores, 1)
	inst := f.remote.instances.Chores[0]
	assert.Equal(t, tpl.ID, inst.TemplateID)
	assert.Equal(t, "2025-06-03", inst.CycleID)
	assert.Equal(t, model.StatusPending, inst.Status)

	assert.Len(t, f.cache.templates, 1)
	assert.Contains(t, f.cache.byID, inst.ID)
	assert.Equal(t, 1, f.nudges, "template mutations nudge the reconciler")
}

func TestUpdateTemplateKeepsBookkeeping(t *testing.T) {
	rem := &fakeRemote{}
	rem.templates.Templates = []model.Template{{
		ID:          "t1",
		Title:       "Feed the cat",
		Recurrence:  &model.Recurrence{Frequency: model.FrequencyDaily},
		LastCycleID: "2025-06-02",
		LastDueDate: model.MustDate("2025-06-02"),
	}}
	f := newFixture(t, rem)

	tpl, err := f.svc.UpdateTemplate(context.Background(), parent, model.Template{
		ID:         "t1",
		Title:      "Feed the cat twice",
		Points:     2,
		Recurrence: &model.Recurrence{Frequency: model.FrequencyWeekly},
	})
	require.NoError(t, err)
	assert.Equal(t, "Feed the cat twice", tpl.Title)
	assert.Equal(t, "2025-06-02", tpl.LastCycleID, "bookkeeping survives edits")
	assert.Equal(t, "2025-06-02", rem.templates.Templates[0].LastCycleID)
	assert.Equal(t, 1, f.nudges)
}

func TestDeleteTemplateRemovesLiveInstances(t *testing.T) {
	rem := &fakeRemote{}
	rem.templates.Templates = []model.Template{{ID: "t1", Title: "Feed the cat"}}
	live := pendingChore("c1", "kid-1")
	live.TemplateID = "t1"
	done := pendingChore("c2", "kid-1")
	done.TemplateID = "t1"
	done.Status = model.StatusVerified
	other := pendingChore("c3", "kid-2")
	rem.instances.Chores = []model.Instance{live, done, other}
	f := newFixture(t, rem)

	require.NoError(t, f.svc.DeleteTemplate(context.Background(), parent, "t1", true))
	assert.Empty(t, rem.templates.Templates)

	ids := map[string]bool{}
	for _, inst := range rem.instances.Chores {
		ids[inst.ID] = true
	}
	assert.False(t, ids["c1"], "live instance removed")
	assert.True(t, ids["c2"], "finished history survives")
	assert.True(t, ids["c3"], "unrelated chores untouched")
	assert.Equal(t, []string{events.KindDeleted}, f.sink.kinds)
}

func TestGatewayOnlyComplete(t *testing.T) {
	rem := &fakeRemote{gatewayOnly: true}
	f := newFixture(t, rem)
	c := pendingChore("c1", "kid-1")
	require.NoError(t, f.cache.Upsert(context.Background(), &c))

	inst, err := f.svc.CompleteChore(context.Background(), kid, "c1", "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, inst.Status)

	assert.Equal(t, []string{"completeChore"}, f.gateway.calls)
	assert.Zero(t, rem.instanceSaves, "no document write on the gateway path")
	assert.Equal(t, model.StatusCompleted, f.cache.byID["c1"].Status)
}

func TestGatewayOnlyVerifySkipsLocalAward(t *testing.T) {
	rem := &fakeRemote{gatewayOnly: true}
	rem.members.Members = []model.Member{{ID: "kid-1", Role: model.RoleChild}}
	f := newFixture(t, rem)
	c := pendingChore("c1", "kid-1")
	c.Status = model.StatusCompleted
	c.CompletedBy = "kid-1"
	require.NoError(t, f.cache.Upsert(context.Background(), &c))

	_, err := f.svc.VerifyChore(context.Background(), parent, "c1", true, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"verifyChore"}, f.gateway.calls)
	assert.Zero(t, rem.memberSaves, "the gateway script owns the point award")
	assert.Empty(t, rem.ledger.Entries)
}

func TestGatewayOnlyCreateChore(t *testing.T) {
	rem := &fakeRemote{gatewayOnly: true}
	f := newFixture(t, rem)

	inst, err := f.svc.CreateChore(context.Background(), parent, ChoreInput{Title: "Water plants"})
	require.NoError(t, err)
	assert.Equal(t, []string{"createChore"}, f.gateway.calls)
	assert.Zero(t, rem.instanceSaves)
	assert.Contains(t, f.cache.byID, inst.ID)
}
