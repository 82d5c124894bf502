// Package model defines the chore-tracking domain types and the wire
// shapes of the family's remote documents.
package model

import "time"

// Role identifies a family member's role.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
	// RoleSystem attributes activity generated by the reconciliation
	// pass rather than a person.
	RoleSystem Role = "system"
)

// Status is the lifecycle state of a chore instance.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusVerified   Status = "verified"
	StatusOverdue    Status = "overdue"
)

// Done reports whether the status counts as finished work. Finished
// instances are never expired by reconciliation.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusVerified
}

// Frequency is the recurrence frequency of a template.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Recurrence describes how often a template materializes.
type Recurrence struct {
	Frequency Frequency `json:"frequency"`

	// Weekdays restricts WEEKLY templates to a day-of-week set,
	// 1=Monday..7=Sunday. Empty means any day.
	Weekdays []int `json:"weekdays,omitempty"`

	// DayOfMonth is the target day for MONTHLY templates. Zero means
	// the last day of the month. Values past the end of a month are
	// clamped to its last day.
	DayOfMonth int `json:"dayOfMonth,omitempty"`

	// EndDate, when set, stops materialization: no instance is created
	// whose due date would fall after it.
	EndDate Date `json:"endDate,omitempty"`
}

// Subtask is one checklist item inside a template or instance.
type Subtask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Template is a declarative recurring-chore definition. Bookkeeping
// fields (LastCycleID, LastDueDate) are written only by the
// reconciliation pass.
type Template struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	AssigneeIDs   []string    `json:"assigneeIds"`
	CreatedBy     string      `json:"createdBy"`
	Points        int         `json:"points"`
	DueDate       Date        `json:"dueDate,omitempty"` // used once, for the very first instance
	Recurrence    *Recurrence `json:"recurrence,omitempty"`
	Subtasks      []Subtask   `json:"subtasks,omitempty"`
	RequiresPhoto bool        `json:"requiresPhoto,omitempty"`

	// LastCycleID and LastDueDate record the most recent cycle for
	// which an instance was materialized. Empty LastCycleID means the
	// template has never been materialized.
	LastCycleID string `json:"lastCycleId,omitempty"`
	LastDueDate Date   `json:"lastDueDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Instance is one concrete, dated occurrence of a template, or a
// one-off chore when TemplateID is empty.
//
// Invariant: at most one live instance exists per (TemplateID, CycleID)
// pair. The reconciliation pass enforces this.
type Instance struct {
	ID          string    `json:"id"`
	TemplateID  string    `json:"templateId,omitempty"`
	CycleID     string    `json:"cycleId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AssigneeIDs []string  `json:"assigneeIds"`
	Points      int       `json:"points"`
	DueDate     Date      `json:"dueDate"`
	Subtasks    []Subtask `json:"subtasks,omitempty"`
	Status      Status    `json:"status"`

	CompletedBy string     `json:"completedBy,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	VerifiedBy  string     `json:"verifiedBy,omitempty"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	PhotoRef    string     `json:"photoRef,omitempty"`

	RequiresPhoto bool      `json:"requiresPhoto,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AssignedTo reports whether the instance is assigned to the member.
func (i *Instance) AssignedTo(memberID string) bool {
	for _, id := range i.AssigneeIDs {
		if id == memberID {
			return true
		}
	}
	return false
}

// Member is one family member with their running point balance.
type Member struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Role              Role   `json:"role"`
	PointBalance      int    `json:"pointBalance"`
	LifetimeCompleted int    `json:"lifetimeCompleted"`
}

// FamilySettings holds family-wide tunables.
type FamilySettings struct {
	// PointMultiplier scales the base point value on verification.
	// Zero is treated as 1.0.
	PointMultiplier float64 `json:"pointMultiplier,omitempty"`
}

// Multiplier returns the effective point multiplier.
func (s FamilySettings) Multiplier() float64 {
	if s.PointMultiplier <= 0 {
		return 1.0
	}
	return s.PointMultiplier
}

// SyncMetadata tracks document versions for observability. The version
// counter is never compared on write; last writer wins.
type SyncMetadata struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Touch bumps the version and records the write time.
func (m *SyncMetadata) Touch(now time.Time) {
	m.Version++
	m.UpdatedAt = now
}
