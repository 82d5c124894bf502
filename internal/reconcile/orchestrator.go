// Package reconcile brings the remote instance set into agreement with
// the template definitions for "today": stale instances are retired,
// missing current-cycle instances are materialized exactly once per
// cycle, and the local cache is mirrored from the result.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/choresyncd/internal/cache"
	"github.com/fyrsmithlabs/choresyncd/internal/cycle"
	"github.com/fyrsmithlabs/choresyncd/internal/events"
	"github.com/fyrsmithlabs/choresyncd/internal/model"
	"github.com/fyrsmithlabs/choresyncd/internal/remote"
)

// RemoteClient is the slice of the failover client the orchestrator
// needs. Satisfied by *remote.Client.
type RemoteClient interface {
	LoadTemplates(ctx context.Context) (*model.TemplatesDoc, error)
	SaveTemplates(ctx context.Context, doc *model.TemplatesDoc) error
	LoadInstances(ctx context.Context) (*model.InstancesDoc, error)
	SaveInstances(ctx context.Context, doc *model.InstancesDoc) error
	LoadMembers(ctx context.Context) (*model.MembersDoc, error)
	LoadActivity(ctx context.Context) (*model.ActivityDoc, error)
	SaveActivity(ctx context.Context, doc *model.ActivityDoc) error
	FallbackRefresh(ctx context.Context) error
}

// Cache is the slice of the local cache the orchestrator mirrors into.
// Satisfied by *cache.Store.
type Cache interface {
	ReplaceAll(ctx context.Context, instances []model.Instance) error
	ReplaceTemplates(ctx context.Context, templates []model.Template) error
}

// EventSink receives instance transitions. Satisfied by
// *events.Publisher.
type EventSink interface {
	Instance(kind string, inst model.Instance)
}

// System actor used for activity records written by the pass.
const (
	systemActorID   = "system"
	systemActorName = "choresyncd"
)

// Report summarizes one reconciliation pass.
type Report struct {
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Templates  int           `json:"templates"`
	Created    int           `json:"created"`
	Expired    int           `json:"expired"`
	Orphaned   int           `json:"orphaned"`
	Redirected bool          `json:"redirected,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// Orchestrator runs the "ensure up to date" routine behind a
// single-flight guard: a trigger arriving while a pass is in flight is
// dropped, not queued. A later periodic trigger re-runs the full pass
// and, with no elapsed time, produces the same result; the pass is
// idempotent per call.
type Orchestrator struct {
	remote RemoteClient
	cache  Cache
	sink   EventSink
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex // TryLock only; never held across calls
	last atomic.Pointer[Report]
}

// New creates the orchestrator.
func New(rc RemoteClient, c Cache, sink EventSink, logger *zap.Logger) (*Orchestrator, error) {
	if rc == nil {
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
	return &Orchestrator{
		remote: rc,
		cache:  c,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}, nil
}

// LastReport returns the most recent completed pass, or nil.
func (o *Orchestrator) LastReport() *Report {
	return o.last.Load()
}

// EnsureUpToDate runs one reconciliation pass. A concurrent invocation
// while one is in flight is a no-op returning (nil, nil). Failures on
// one template never abort processing of the others; a pass that
// cannot authenticate at all is redirected to the gateway's coarse
// refresh and returns.
func (o *Orchestrator) EnsureUpToDate(ctx context.Context) (*Report, error) {
	if !o.mu.TryLock() {
		o.logger.Debug("reconciliation already in flight, dropping trigger")
		PassesTotal.WithLabelValues("dropped").Inc()
		return nil, nil
	}
	defer o.mu.Unlock()

	report, err := o.run(ctx)
	if report != nil {
		o.last.Store(report)
		PassDuration.Observe(report.Duration.Seconds())
		switch {
		case report.Redirected:
			PassesTotal.WithLabelValues("redirected").Inc()
		case err != nil:
			PassesTotal.WithLabelValues("error").Inc()
		default:
			PassesTotal.WithLabelValues("ok").Inc()
		}
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context) (*Report, error) {
	now := o.now()
	today := model.DateOf(now)
	report := &Report{StartedAt: now}
	defer func() { report.Duration = o.now().Sub(report.StartedAt) }()

	templates, err := o.remote.LoadTemplates(ctx)
	if err != nil {
		return o.failed(ctx, report, "load templates", err)
	}
	instances, err := o.remote.LoadInstances(ctx)
	if err != nil {
		return o.failed(ctx, report, "load instances", err)
	}
	// Snapshot before any mutation; the rebuild below reuses the
	// backing array.
	before := append([]model.Instance(nil), instances.Chores...)
	members, err := o.remote.LoadMembers(ctx)
	if err != nil {
		// Members are only used for log detail; a failed read does not
		// stop the pass.
		o.logger.Warn("load members failed, continuing", zap.Error(err))
		members = &model.MembersDoc{}
	}

	removed := map[string]bool{}
	var created []model.Instance
	var expired []model.Instance
	var entries []model.ActivityEntry
	templatesDirty := false

	for i := range templates.Templates {
		tpl := &templates.Templates[i]
		if tpl.Recurrence == nil {
			continue
		}
		report.Templates++

		inst, exp := o.processTemplate(tpl, instances, removed, today, now)
		if inst != nil {
			created = append(created, *inst)
			templatesDirty = true
			entries = append(entries, o.systemEntry(now, model.ActionChoreCreated, inst,
				fmt.Sprintf("Materialized %q for cycle %s, due %s (%s)",
					inst.Title, inst.CycleID, inst.DueDate, assigneeNames(members, inst))))
		}
		expired = append(expired, exp...)
		for _, e := range exp {
			entries = append(entries, o.systemEntry(now, model.ActionChoreExpired, &e,
				fmt.Sprintf("Expired %q: due %s passed without completion (cycle %s)",
					e.Title, e.DueDate, e.CycleID)))
		}
	}

	// Orphaned expired instances: no template reference (written before
	// the field existed, or it was lost). Match by title for the log
	// only; delete regardless of match.
	for i := range instances.Chores {
		inst := &instances.Chores[i]
		if inst.TemplateID != "" || removed[inst.ID] {
			continue
		}
		if !inst.DueDate.Before(today) || inst.Status.Done() {
			continue
		}
		removed[inst.ID] = true
		report.Orphaned++
		expired = append(expired, *inst)

		match := matchTemplateByTitle(templates, inst.Title)
		o.logger.Info("removing orphaned expired instance",
			zap.String("instance_id", inst.ID),
			zap.String("title", inst.Title),
			zap.String("matched_template", match))
		entries = append(entries, o.systemEntry(now, model.ActionChoreExpired, inst,
			fmt.Sprintf("Expired orphaned chore %q, due %s", inst.Title, inst.DueDate)))
	}

	if len(removed) > 0 || len(created) > 0 {
		kept := instances.Chores[:0]
		for _, inst := range instances.Chores {
			if !removed[inst.ID] {
				kept = append(kept, inst)
			}
		}
		instances.Chores = append(kept, created...)

		if err := o.remote.SaveInstances(ctx, instances); err != nil {
			return o.failed(ctx, report, "save instances", err)
		}
	}
	if templatesDirty {
		if err := o.remote.SaveTemplates(ctx, templates); err != nil {
			return o.failed(ctx, report, "save templates", err)
		}
	}

	report.Created = len(created)
	report.Expired = len(expired) - report.Orphaned

	// Activity log is best-effort bookkeeping; never fails the pass.
	if len(entries) > 0 {
		if err := o.appendActivity(ctx, entries); err != nil {
			o.logger.Warn("activity log update failed", zap.Error(err))
		}
	}

	// Mirror the cache to exactly the persisted state so removed
	// instances disappear from readers.
	if err := o.cache.ReplaceAll(ctx, instances.Chores); err != nil {
		o.logger.Error("cache mirror failed", zap.Error(err))
	}
	if err := o.cache.ReplaceTemplates(ctx, templates.Templates); err != nil {
		o.logger.Error("template cache mirror failed", zap.Error(err))
	}

	// Events come from diffing the persisted set against the snapshot,
	// so published changes always match what was actually written.
	changes := cache.Diff(before, instances.Chores)
	for _, inst := range changes.Added {
		o.sink.Instance(events.KindCreated, inst)
	}
	for _, inst := range changes.Removed {
		o.sink.Instance(events.KindExpired, inst)
	}
	InstancesCreated.Add(float64(len(changes.Added)))
	InstancesExpired.Add(float64(len(changes.Removed)))

	o.logger.Info("reconciliation pass complete",
		zap.Int("templates", report.Templates),
		zap.Int("created", report.Created),
		zap.Int("expired", report.Expired),
		zap.Int("orphaned", report.Orphaned))
	return report, nil
}

// processTemplate applies the expiry and materialization rules for one
// template. It marks expired instances in removed and returns the
// newly materialized instance, if any. Pure in-memory; the caller
// persists.
//
// A template whose recurrence rule changed while a live instance
// exists keeps that instance under its original cycle id; the new rule
// only applies from the next materialization.
func (o *Orchestrator) processTemplate(tpl *model.Template, doc *model.InstancesDoc, removed map[string]bool, today model.Date, now time.Time) (*model.Instance, []model.Instance) {
	current := cycle.CurrentCycleID(tpl.Recurrence.Frequency, now)

	var expired []model.Instance
	removedCurrentCycle := false
	hasLiveCurrent := false
	hasDoneCurrent := false

	for i := range doc.Chores {
		inst := &doc.Chores[i]
		if inst.TemplateID != tpl.ID || removed[inst.ID] {
			continue
		}
		if inst.DueDate.Before(today) && !inst.Status.Done() {
			removed[inst.ID] = true
			expired = append(expired, *inst)
			if inst.CycleID == current {
				removedCurrentCycle = true
			}
			continue
		}
		if inst.CycleID == current {
			if inst.Status.Done() {
				hasDoneCurrent = true
			} else {
				hasLiveCurrent = true
			}
		}
	}

	// A template that has never been materialized is not backfilled:
	// only template creation or an explicit action produces the first
	// instance. One that fell behind a genuinely past cycle catches up.
	fellBehind := tpl.LastCycleID != "" && tpl.LastCycleID < current

	if hasLiveCurrent || hasDoneCurrent {
		return nil, expired
	}
	if !removedCurrentCycle && !fellBehind {
		return nil, expired
	}

	inst, ok := cycle.NewInstance(tpl, now)
	if !ok {
		// End date reached; the template stays but materializes nothing.
		return nil, expired
	}

	tpl.LastCycleID = inst.CycleID
	tpl.LastDueDate = inst.DueDate
	tpl.UpdatedAt = now
	return inst, expired
}

// failed classifies a terminal pass error. Cancellation propagates
// untouched; an authorization dead end redirects the pass to the
// gateway's coarse refresh.
func (o *Orchestrator) failed(ctx context.Context, report *Report, step string, err error) (*Report, error) {
	if ctx.Err() != nil {
		return report, err
	}
	report.Err = err.Error()

	if remote.IsUnauthorized(err) || remote.IsAuthRequired(err) {
		o.logger.Warn("authorization failed, redirecting pass to gateway refresh",
			zap.String("step", step),
			zap.Error(err))
		report.Redirected = true
		if rerr := o.remote.FallbackRefresh(ctx); rerr != nil {
			o.logger.Warn("gateway refresh failed", zap.Error(rerr))
		}
		return report, err
	}

	o.logger.Error("reconciliation pass failed",
		zap.String("step", step),
		zap.Error(err))
	return report, fmt.Errorf("%s: %w", step, err)
}

func (o *Orchestrator) appendActivity(ctx context.Context, entries []model.ActivityEntry) error {
	doc, err := o.remote.LoadActivity(ctx)
	if err != nil {
		return err
	}
	doc.Append(entries...)
	return o.remote.SaveActivity(ctx, doc)
}

func (o *Orchestrator) systemEntry(now time.Time, action string, inst *model.Instance, details string) model.ActivityEntry {
	return model.ActivityEntry{
		ID:            uuid.NewString(),
		Timestamp:     now,
		ActorID:       systemActorID,
		ActorName:     systemActorName,
		ActorRole:     model.RoleSystem,
		ActionType:    action,
		Details:       details,
		ReferenceID:   inst.ID,
		ReferenceType: "chore",
		Metadata: map[string]string{
			"cycleId": inst.CycleID,
			"dueDate": inst.DueDate.String(),
		},
	}
}

// assigneeNames renders the assignee list for log details, falling
// back to raw ids for unknown members.
func assigneeNames(members *model.MembersDoc, inst *model.Instance) string {
	if len(inst.AssigneeIDs) == 0 {
		return "unassigned"
	}
	out := ""
	for i, id := range inst.AssigneeIDs {
		name := id
		if idx := members.FindMember(id); idx >= 0 {
			name = members.Members[idx].Name
		}
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}

func matchTemplateByTitle(doc *model.TemplatesDoc, title string) string {
	for i := range doc.Templates {
		if doc.Templates[i].Title == title {
			return doc.Templates[i].ID
		}
	}
	return ""
}
