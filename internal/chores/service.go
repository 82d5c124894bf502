// Package chores is the mutation facade: every user-initiated change
// to chore state goes through here. Each mutation is written to the
// remote store first (whole-document read/modify/write over the
// failover client, or a single coarse gateway verb when no direct
// credential exists) and applied to the local cache only after the
// remote write is confirmed.
package chores

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/choresyncd/internal/cycle"
	"github.com/fyrsmithlabs/choresyncd/internal/events"
	"github.com/fyrsmithlabs/choresyncd/internal/model"
)

const instrumentationName = "github.com/fyrsmithlabs/choresyncd/internal/chores"

var (
	// ErrNotFound is returned when the chore or template does not exist.
	ErrNotFound = errors.New("chores: not found")
	// ErrPermission is returned when the actor's role does not allow
	// the operation.
	ErrPermission = errors.New("chores: permission denied")
	// ErrNotCompletable is returned when completing a chore that is
	// already done.
	ErrNotCompletable = errors.New("chores: chore is already done")
	// ErrNotCompleted is returned when verifying a chore that has not
	// been completed.
	ErrNotCompleted = errors.New("chores: chore is not completed")
	// ErrPhotoRequired is returned when completing a chore that
	// requires photo proof without one.
	ErrPhotoRequired = errors.New("chores: photo proof required")
)

// Actor identifies who performs a mutation.
type Actor struct {
	ID   string
	Name string
	Role model.Role
}

func (a Actor) isParent() bool {
	return a.Role == model.RoleParent
}

// ChoreInput is the caller-supplied portion of a new one-off chore.
type ChoreInput struct {
	Title         string
	Description   string
	AssigneeIDs   []string
	Points        int
	DueDate       model.Date
	Subtasks      []model.Subtask
	RequiresPhoto bool
}

// ChoreUpdate carries the editable fields of an instance. Nil fields
// are left unchanged.
type ChoreUpdate struct {
	Title       *string
	Description *string
	AssigneeIDs []string
	Points      *int
	DueDate     *model.Date
	Subtasks    []model.Subtask
}

// TemplateInput is the caller-supplied portion of a new recurring
// template.
type TemplateInput struct {
	Title         string
	Description   string
	AssigneeIDs   []string
	Points        int
	FirstDueDate  model.Date
	Recurrence    model.Recurrence
	Subtasks      []model.Subtask
	RequiresPhoto bool
}

// Remote is the slice of the failover client the facade needs.
// Satisfied by *remote.Client.
type Remote interface {
	GatewayOnly() bool
	LoadTemplates(ctx context.Context) (*model.TemplatesDoc, error)
	SaveTemplates(ctx context.Context, doc *model.TemplatesDoc) error
	LoadInstances(ctx context.Context) (*model.InstancesDoc, error)
	SaveInstances(ctx context.Context, doc *model.InstancesDoc) error
	LoadMembers(ctx context.Context) (*model.MembersDoc, error)
	SaveMembers(ctx context.Context, doc *model.MembersDoc) error
	LoadSettings(ctx context.Context) (*model.SettingsDoc, error)
	LoadActivity(ctx context.Context) (*model.ActivityDoc, error)
	SaveActivity(ctx context.Context, doc *model.ActivityDoc) error
	LoadLedger(ctx context.Context) (*model.LedgerDoc, error)
	SaveLedger(ctx context.Context, doc *model.LedgerDoc) error
}

// GatewayVerbs is the coarse mutation surface used when the remote
// client is gateway-only. Satisfied by *remote.Gateway.
type GatewayVerbs interface {
	CreateChore(ctx context.Context, payload any) error
	UpdateChore(ctx context.Context, payload any) error
	DeleteChore(ctx context.Context, payload any) error
	CompleteChore(ctx context.Context, payload any) error
	VerifyChore(ctx context.Context, payload any) error
	DeleteTemplate(ctx context.Context, payload any) error
}

// Cache is the slice of the local cache the facade updates after
// confirmed writes. Satisfied by *cache.Store.
type Cache interface {
	ByID(ctx context.Context, id string) (*model.Instance, error)
	Upsert(ctx context.Context, inst *model.Instance) error
	Delete(ctx context.Context, id string) error
	ReplaceTemplates(ctx context.Context, templates []model.Template) error
}

// EventSink receives instance transitions. Satisfied by
// *events.Publisher.
type EventSink interface {
	Instance(kind string, inst model.Instance)
}

// Service is the mutation facade.
type Service interface {
	CreateChore(ctx context.Context, actor Actor, in ChoreInput) (*model.Instance, error)
	UpdateChore(ctx context.Context, actor Actor, id string, upd ChoreUpdate) (*model.Instance, error)
	DeleteChore(ctx context.Context, actor Actor, id string) error
	CompleteChore(ctx context.Context, actor Actor, id, photoRef string) (*model.Instance, error)
	VerifyChore(ctx context.Context, actor Actor, id string, approve bool, note string) (*model.Instance, error)

	CreateTemplate(ctx context.Context, actor Actor, in TemplateInput) (*model.Template, error)
	UpdateTemplate(ctx context.Context, actor Actor, tpl model.Template) (*model.Template, error)
	DeleteTemplate(ctx context.Context, actor Actor, id string, removeInstances bool) error
}

type service struct {
	remote  Remote
	gateway GatewayVerbs
	cache   Cache
	sink    EventSink
	logger  *zap.Logger
	now     func() time.Time

	// onMutate is invoked after every confirmed mutation so the
	// reconciliation loop can run promptly. Never blocks.
	onMutate func()

	mutations metric.Int64Counter
}

// NewService builds the facade. gateway may be nil when the deployment
// always has a direct credential; onMutate may be nil.
func NewService(rem Remote, gateway GatewayVerbs, c Cache, sink EventSink, onMutate func(), logger *zap.Logger) (Service, error) {
	if rem == nil {
		return nil, fmt.Errorf("remote client is required")
	}
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = events.NewPublisher(nil, "", logger)
	}
	if onMutate == nil {
		onMutate = func() {}
	}

	s := &service{
		remote:   rem,
		gateway:  gateway,
		cache:    c,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		onMutate: onMutate,
	}

	var err error
	s.mutations, err = otel.Meter(instrumentationName).Int64Counter(
		"choresyncd.chores.mutations_total",
		metric.WithDescription("Chore mutations by operation and transport path"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		logger.Warn("failed to create mutation counter", zap.Error(err))
	}

	return s, nil
}

func (s *service) count(ctx context.Context, op string) {
	if s.mutations == nil {
		return
	}
	path := "direct"
	if s.gatewayOnly() {
		path = "gateway"
	}
	s.mutations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op), attribute.String("path", path)))
}

func (s *service) gatewayOnly() bool {
	return s.gateway != nil && s.remote.GatewayOnly()
}

// CreateChore creates a one-off chore instance.
func (s *service) CreateChore(ctx context.Context, actor Actor, in ChoreInput) (*model.Instance, error) {
	if !actor.isParent() {
		return nil, fmt.Errorf("%w: only parents create chores", ErrPermission)
	}
	if in.Title == "" {
		return nil, fmt.Errorf("chore title is required")
	}

	now := s.now()
	inst := model.Instance{
		ID:            uuid.NewString(),
		Title:         in.Title,
		Description:   in.Description,
		AssigneeIDs:   in.AssigneeIDs,
		Points:        in.Points,
		DueDate:       in.DueDate,
		Subtasks:      in.Subtasks,
		Status:        model.StatusPending,
		RequiresPhoto: in.RequiresPhoto,
		CreatedAt:     now,
	}

	if s.gatewayOnly() {
		if err := s.gateway.CreateChore(ctx, &inst); err != nil {
			return nil, err
		}
	} else {
		err := s.modifyInstances(ctx, func(doc *model.InstancesDoc) error {
			doc.Chores = append(doc.Chores, inst)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	s.confirm(ctx, &inst, events.KindCreated)
	s.count(ctx, "create")
	s.appendActivity(ctx, s.entry(actor, model.ActionChoreCreated, inst.ID,
		fmt.Sprintf("Created chore %q, due %s", inst.Title, inst.DueDate)))
	s.onMutate()
	return &inst, nil
}

// UpdateChore edits an instance's definition fields. Lifecycle fields
// are owned by Complete/Verify and never touched here.
func (s *service) UpdateChore(ctx context.Context, actor Actor, id string, upd ChoreUpdate) (*model.Instance, error) {
	if !actor.isParent() {
		return nil, fmt.Errorf("%w: only parents edit chores", ErrPermission)
	}

	apply := func(inst *model.Instance) error {
		if upd.Title != nil {
			inst.Title = *upd.Title
		}
		if upd.Description != nil {
			inst.Description = *upd.Description
		}
		if upd.AssigneeIDs != nil {
			inst.AssigneeIDs = upd.AssigneeIDs
		}
		if upd.Points != nil {
			inst.Points = *upd.Points
		}
		if upd.DueDate != nil {
			inst.DueDate = *upd.DueDate
		}
		if upd.Subtasks != nil {
			inst.Subtasks = upd.Subtasks
		}
		return nil
	}

	gatewayCall := func(ctx context.Context, payload any) error {
		return s.gateway.UpdateChore(ctx, payload)
	}

	inst, err := s.mutateInstance(ctx, id, gatewayCall, apply)
	if err != nil {
		return nil, err
	}

	s.count(ctx, "update")
	s.appendActivity(ctx, s.entry(actor, model.ActionChoreUpdated, inst.ID,
		fmt.Sprintf("Updated chore %q", inst.Title)))
	s.onMutate()
	return inst, nil
}

// DeleteChore removes an instance.
func (s *service) DeleteChore(ctx context.Context, actor Actor, id string) error {
	if !actor.isParent() {
		return fmt.Errorf("%w: only parents delete chores", ErrPermission)
	}

	var deleted model.Instance
	if s.gatewayOnly() {
		cached, err := s.cache.ByID(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		deleted = *cached
		if err := s.gateway.DeleteChore(ctx, map[string]string{"choreId": id}); err != nil {
			return err
		}
	} else {
		err := s.modifyInstances(ctx, func(doc *model.InstancesDoc) error {
			i := doc.FindChore(id)
			if i < 0 {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			deleted = doc.Chores[i]
			doc.Chores = append(doc.Chores[:i], doc.Chores[i+1:]...)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.Warn("cache delete failed", zap.String("chore_id", id), zap.Error(err))
	}
	s.sink.Instance(events.KindDeleted, deleted)
	s.count(ctx, "delete")
	s.appendActivity(ctx, s.entry(actor, model.ActionChoreDeleted, id,
		fmt.Sprintf("Deleted chore %q", deleted.Title)))
	s.onMutate()
	return nil
}

// CompleteChore marks an instance completed by the actor. Children may
// only complete chores assigned to them.
func (s *service) CompleteChore(ctx context.Context, actor Actor, id, photoRef string) (*model.Instance, error) {
	now := s.now()
	apply := func(inst *model.Instance) error {
		if !actor.isParent() && !inst.AssignedTo(actor.ID) {
			return fmt.Errorf("%w: chore is not assigned to %s", ErrPermission, actor.ID)
		}
		if inst.Status.Done() {
			return fmt.Errorf("%w: %s", ErrNotCompletable, inst.Status)
		}
		if inst.RequiresPhoto && photoRef == "" {
			return ErrPhotoRequired
		}
		inst.Status = model.StatusCompleted
		inst.CompletedBy = actor.ID
		inst.CompletedAt = &now
		inst.PhotoRef = photoRef
		return nil
	}

	gatewayCall := func(ctx context.Context, payload any) error {
		return s.gateway.CompleteChore(ctx, map[string]string{
			"choreId":  id,
			"userId":   actor.ID,
			"photoRef": photoRef,
		})
	}

	inst, err := s.mutateInstance(ctx, id, gatewayCall, apply)
	if err != nil {
		return nil, err
	}

	s.sink.Instance(events.KindCompleted, *inst)
	s.count(ctx, "complete")
	s.appendActivity(ctx, s.entry(actor, model.ActionChoreCompleted, inst.ID,
		fmt.Sprintf("Completed chore %q", inst.Title)))
	s.onMutate()
	return inst, nil
}

// VerifyChore approves or rejects a completed chore. Approval awards
// points; rejection resets the instance to pending with its completion
// evidence cleared.
func (s *service) VerifyChore(ctx context.Context, actor Actor, id string, approve bool, note string) (*model.Instance, error) {
	if !actor.isParent() {
		return nil, fmt.Errorf("%w: only parents verify chores", ErrPermission)
	}

	now := s.now()
	var completedBy string
	apply := func(inst *model.Instance) error {
		if inst.Status != model.StatusCompleted {
			return fmt.Errorf("%w: %s", ErrNotCompleted, inst.Status)
		}
		completedBy = inst.CompletedBy
		if approve {
			inst.Status = model.StatusVerified
			inst.VerifiedBy = actor.ID
			inst.VerifiedAt = &now
			return nil
		}
		inst.Status = model.StatusPending
		inst.CompletedBy = ""
		inst.CompletedAt = nil
		inst.PhotoRef = ""
		inst.VerifiedBy = ""
		inst.VerifiedAt = nil
		return nil
	}

	gatewayCall := func(ctx context.Context, payload any) error {
		return s.gateway.VerifyChore(ctx, map[string]any{
			"choreId":  id,
			"userId":   actor.ID,
			"approved": approve,
			"note":     note,
		})
	}

	inst, err := s.mutateInstance(ctx, id, gatewayCall, apply)
	if err != nil {
		return nil, err
	}

	if approve {
		s.sink.Instance(events.KindVerified, *inst)
		s.count(ctx, "verify")
		s.appendActivity(ctx, s.entry(actor, model.ActionChoreVerified, inst.ID,
			fmt.Sprintf("Verified chore %q", inst.Title)))
		// Points move only on the direct path; the gateway script
		// applies its own award when it handles verifyChore.
		if !s.gatewayOnly() && completedBy != "" {
			s.awardPoints(ctx, actor, inst, completedBy)
		}
	} else {
		s.sink.Instance(events.KindRejected, *inst)
		s.count(ctx, "reject")
		details := fmt.Sprintf("Rejected chore %q", inst.Title)
		if note != "" {
			details += ": " + note
		}
		s.appendActivity(ctx, s.entry(actor, model.ActionChoreRejected, inst.ID, details))
	}
	s.onMutate()
	return inst, nil
}

// awardPoints credits the completing member for a verified chore:
// round(points x family multiplier), half away from zero. The award is
// best-effort bookkeeping; a failure is logged and the verification
// stands.
func (s *service) awardPoints(ctx context.Context, actor Actor, inst *model.Instance, memberID string) {
	settings, err := s.remote.LoadSettings(ctx)
	if err != nil {
		s.logger.Warn("load settings for point award failed", zap.Error(err))
		settings = &model.SettingsDoc{}
	}
	award := int(math.Round(float64(inst.Points) * settings.Settings.Multiplier()))

	members, err := s.remote.LoadMembers(ctx)
	if err != nil {
		s.logger.Warn("point award skipped: load members failed", zap.Error(err))
		return
	}
	i := members.FindMember(memberID)
	if i < 0 {
		s.logger.Warn("point award skipped: unknown member", zap.String("member_id", memberID))
		return
	}
	members.Members[i].PointBalance += award
	members.Members[i].LifetimeCompleted++
	if err := s.remote.SaveMembers(ctx, members); err != nil {
		s.logger.Warn("point award failed: save members", zap.Error(err))
		return
	}

	ledger, err := s.remote.LoadLedger(ctx)
	if err == nil {
		ledger.Entries = append(ledger.Entries, model.PointEntry{
			ID:         uuid.NewString(),
			Timestamp:  s.now(),
			MemberID:   memberID,
			Points:     award,
			Kind:       "earn",
			InstanceID: inst.ID,
			Note:       inst.Title,
		})
		err = s.remote.SaveLedger(ctx, ledger)
	}
	if err != nil {
		s.logger.Warn("ledger entry failed", zap.Error(err))
	}

	e := s.entry(actor, model.ActionPointsAwarded, inst.ID,
		fmt.Sprintf("Awarded %d points for %q", award, inst.Title))
	e.TargetUserID = memberID
	s.appendActivity(ctx, e)
}

// CreateTemplate creates a recurring template and materializes its
// first instance immediately. Reconciliation never backfills a
// template that has no LastCycleID, so the first instance must come
// from here.
func (s *service) CreateTemplate(ctx context.Context, actor Actor, in TemplateInput) (*model.Template, error) {
	if !actor.isParent() {
		return nil, fmt.Errorf("%w: only parents create templates", ErrPermission)
	}
	if in.Title == "" {
		return nil, fmt.Errorf("template title is required")
	}

	now := s.now()
	rec := in.Recurrence
	tpl := model.Template{
		ID:            uuid.NewString(),
		Title:         in.Title,
		Description:   in.Description,
		AssigneeIDs:   in.AssigneeIDs,
		CreatedBy:     actor.ID,
		Points:        in.Points,
		DueDate:       in.FirstDueDate,
		Recurrence:    &rec,
		Subtasks:      in.Subtasks,
		RequiresPhoto: in.RequiresPhoto,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	inst, ok := cycle.NewInstance(&tpl, now)
	if ok {
		tpl.LastCycleID = inst.CycleID
		tpl.LastDueDate = inst.DueDate
	}

	if s.gatewayOnly() {
		// The gateway's createChore action handles recurring definitions
		// itself when given a recurrence.
		if err := s.gateway.CreateChore(ctx, &tpl); err != nil {
			return nil, err
		}
	} else {
		templates, err := s.remote.LoadTemplates(ctx)
		if err != nil {
			return nil, err
		}
		templates.Templates = append(templates.Templates, tpl)
		if err := s.remote.SaveTemplates(ctx, templates); err != nil {
			return nil, err
		}
		if inst != nil {
			err := s.modifyInstances(ctx, func(doc *model.InstancesDoc) error {
				doc.Chores = append(doc.Chores, *inst)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		s.mirrorTemplates(ctx, templates.Templates)
	}

	if inst != nil {
		s.confirm(ctx, inst, events.KindCreated)
	}
	s.count(ctx, "create_template")
	s.appendActivity(ctx, s.entry(actor, model.ActionChoreCreated, tpl.ID,
		fmt.Sprintf("Created recurring chore %q (%s)", tpl.Title, rec.Frequency)))
	s.onMutate()
	return &tpl, nil
}

// UpdateTemplate replaces a template's definition. Live instances keep
// their cycle id; the new rule applies from the next materialization.
func (s *service) UpdateTemplate(ctx context.Context, actor Actor, tpl model.Template) (*model.Template, error) {
	if !actor.isParent() {
		return nil, fmt.Errorf("%w: only parents edit templates", ErrPermission)
	}

	if s.gatewayOnly() {
		if err := s.gateway.UpdateChore(ctx, &tpl); err != nil {
			return nil, err
		}
		s.count(ctx, "update_template")
		s.onMutate()
		return &tpl, nil
	}

	templates, err := s.remote.LoadTemplates(ctx)
	if err != nil {
		return nil, err
	}
	found := -1
	for i := range templates.Templates {
		if templates.Templates[i].ID == tpl.ID {
			found = i
			break
		}
	}
	if found < 0 {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, tpl.ID)
	}

	// Bookkeeping stays with the stored record.
	tpl.LastCycleID = templates.Templates[found].LastCycleID
	tpl.LastDueDate = templates.Templates[found].LastDueDate
	tpl.CreatedAt = templates.Templates[found].CreatedAt
	tpl.UpdatedAt = s.now()
	templates.Templates[found] = tpl

	if err := s.remote.SaveTemplates(ctx, templates); err != nil {
		return nil, err
	}
	s.mirrorTemplates(ctx, templates.Templates)

	s.count(ctx, "update_template")
	s.appendActivity(ctx, s.entry(actor, model.ActionChoreUpdated, tpl.ID,
		fmt.Sprintf("Updated recurring chore %q", tpl.Title)))
	s.onMutate()
	return &tpl, nil
}

// DeleteTemplate removes a template and, when removeInstances is set,
// its live (not yet done) instances.
func (s *service) DeleteTemplate(ctx context.Context, actor Actor, id string, removeInstances bool) error {
	if !actor.isParent() {
		return fmt.Errorf("%w: only parents delete templates", ErrPermission)
	}

	if s.gatewayOnly() {
		err := s.gateway.DeleteTemplate(ctx, map[string]any{
			"templateId":      id,
			"removeInstances": removeInstances,
		})
		if err != nil {
			return err
		}
		s.count(ctx, "delete_template")
		s.onMutate()
		return nil
	}

	templates, err := s.remote.LoadTemplates(ctx)
	if err != nil {
		return err
	}
	found := -1
	for i := range templates.Templates {
		if templates.Templates[i].ID == id {
			found = i
			break
		}
	}
	if found < 0 {
		return fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	title := templates.Templates[found].Title
	templates.Templates = append(templates.Templates[:found], templates.Templates[found+1:]...)
	if err := s.remote.SaveTemplates(ctx, templates); err != nil {
		return err
	}

	var removed []model.Instance
	if removeInstances {
		err := s.modifyInstances(ctx, func(doc *model.InstancesDoc) error {
			kept := doc.Chores[:0]
			for _, inst := range doc.Chores {
				if inst.TemplateID == id && !inst.Status.Done() {
					removed = append(removed, inst)
					continue
				}
				kept = append(kept, inst)
			}
			doc.Chores = kept
			return nil
		})
		if err != nil {
			return err
		}
	}

	s.mirrorTemplates(ctx, templates.Templates)
	for _, inst := range removed {
		if err := s.cache.Delete(ctx, inst.ID); err != nil {
			s.logger.Warn("cache delete failed", zap.String("chore_id", inst.ID), zap.Error(err))
		}
		s.sink.Instance(events.KindDeleted, inst)
	}

	s.count(ctx, "delete_template")
	s.appendActivity(ctx, s.entry(actor, model.ActionChoreDeleted, id,
		fmt.Sprintf("Deleted recurring chore %q (%d open instances removed)", title, len(removed))))
	s.onMutate()
	return nil
}

// mutateInstance applies one edit to a single instance: the gateway
// verb on the coarse path, otherwise read/modify/write of the whole
// instances document. apply runs on the gateway path too, against the
// cached copy, so validation and the returned instance stay identical
// on both paths.
func (s *service) mutateInstance(ctx context.Context, id string, gatewayCall func(context.Context, any) error, apply func(*model.Instance) error) (*model.Instance, error) {
	if s.gatewayOnly() {
		cached, err := s.cache.ByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := apply(cached); err != nil {
			return nil, err
		}
		if err := gatewayCall(ctx, cached); err != nil {
			return nil, err
		}
		if err := s.cache.Upsert(ctx, cached); err != nil {
			s.logger.Warn("cache update failed", zap.String("chore_id", id), zap.Error(err))
		}
		return cached, nil
	}

	var out model.Instance
	err := s.modifyInstances(ctx, func(doc *model.InstancesDoc) error {
		i := doc.FindChore(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := apply(&doc.Chores[i]); err != nil {
			return err
		}
		out = doc.Chores[i]
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Upsert(ctx, &out); err != nil {
		s.logger.Warn("cache update failed", zap.String("chore_id", id), zap.Error(err))
	}
	return &out, nil
}

// modifyInstances is the whole-document read/modify/write primitive.
func (s *service) modifyInstances(ctx context.Context, fn func(*model.InstancesDoc) error) error {
	doc, err := s.remote.LoadInstances(ctx)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.remote.SaveInstances(ctx, doc)
}

// confirm updates the cache and publishes after a confirmed write.
func (s *service) confirm(ctx context.Context, inst *model.Instance, kind string) {
	if err := s.cache.Upsert(ctx, inst); err != nil {
		s.logger.Warn("cache update failed", zap.String("chore_id", inst.ID), zap.Error(err))
	}
	s.sink.Instance(kind, *inst)
}

func (s *service) mirrorTemplates(ctx context.Context, templates []model.Template) {
	if err := s.cache.ReplaceTemplates(ctx, templates); err != nil {
		s.logger.Warn("template cache mirror failed", zap.Error(err))
	}
}

// appendActivity records one log entry, best-effort.
func (s *service) appendActivity(ctx context.Context, e model.ActivityEntry) {
	doc, err := s.remote.LoadActivity(ctx)
	if err == nil {
		doc.Append(e)
		err = s.remote.SaveActivity(ctx, doc)
	}
	if err != nil {
		s.logger.Warn("activity log update failed", zap.Error(err))
	}
}

func (s *service) entry(actor Actor, action, refID, details string) model.ActivityEntry {
	return model.ActivityEntry{
		ID:            uuid.NewString(),
		Timestamp:     s.now(),
		ActorID:       actor.ID,
		ActorName:     actor.Name,
		ActorRole:     actor.Role,
		ActionType:    action,
		Details:       details,
		ReferenceID:   refID,
		ReferenceType: "chore",
	}
}
