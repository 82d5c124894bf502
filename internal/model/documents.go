package model

import "time"

// Remote document wire shapes. Every document is a complete,
// replace-on-write JSON object; the store has no patch primitive, so
// all mutations are whole-document read/modify/write. A reader that
// races a writer can clobber the writer's change; this is an accepted
// limitation (last writer wins), not a solved problem.

// TemplatesDoc is the "templates" document.
type TemplatesDoc struct {
	Templates []Template   `json:"templates"`
	Metadata  SyncMetadata `json:"metadata"`
}

// InstancesDoc is the "instances" document. The field name "chores" is
// retained for compatibility with documents written by older clients.
type InstancesDoc struct {
	Chores   []Instance   `json:"chores"`
	Metadata SyncMetadata `json:"metadata"`
}

// FindChore returns the index of the instance with the given id, or -1.
func (d *InstancesDoc) FindChore(id string) int {
	for i := range d.Chores {
		if d.Chores[i].ID == id {
			return i
		}
	}
	return -1
}

// MembersDoc is the "members" document.
type MembersDoc struct {
	Members  []Member     `json:"members"`
	Metadata SyncMetadata `json:"metadata"`
}

// FindMember returns the index of the member with the given id, or -1.
func (d *MembersDoc) FindMember(id string) int {
	for i := range d.Members {
		if d.Members[i].ID == id {
			return i
		}
	}
	return -1
}

// SettingsDoc is the "settings" document.
type SettingsDoc struct {
	Settings FamilySettings `json:"settings"`
	Metadata SyncMetadata   `json:"metadata"`
}

// ActivityEntry is one record in the family's activity log.
type ActivityEntry struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	ActorID       string            `json:"actorId"`
	ActorName     string            `json:"actorName"`
	ActorRole     Role              `json:"actorRole"`
	ActionType    string            `json:"actionType"`
	TargetUserID  string            `json:"targetUserId,omitempty"`
	Details       string            `json:"details"`
	ReferenceID   string            `json:"referenceId,omitempty"`
	ReferenceType string            `json:"referenceType,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Activity action types.
const (
	ActionChoreCreated   = "chore_created"
	ActionChoreUpdated   = "chore_updated"
	ActionChoreDeleted   = "chore_deleted"
	ActionChoreExpired   = "chore_expired"
	ActionChoreCompleted = "chore_completed"
	ActionChoreVerified  = "chore_verified"
	ActionChoreRejected  = "chore_rejected"
	ActionPointsAwarded  = "points_awarded"
)

// maxActivityEntries caps the activity document; oldest entries drop.
const maxActivityEntries = 1000

// ActivityDoc is the append-only "activity" document.
type ActivityDoc struct {
	Entries  []ActivityEntry `json:"entries"`
	Metadata SyncMetadata    `json:"metadata"`
}

// Append adds entries to the log, dropping the oldest beyond the cap.
func (d *ActivityDoc) Append(entries ...ActivityEntry) {
	d.Entries = append(d.Entries, entries...)
	if over := len(d.Entries) - maxActivityEntries; over > 0 {
		d.Entries = d.Entries[over:]
	}
}

// PointEntry is one immutable ledger transaction.
type PointEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	MemberID   string    `json:"memberId"`
	Points     int       `json:"points"`
	Kind       string    `json:"kind"` // "earn" or "spend"
	InstanceID string    `json:"instanceId,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// LedgerDoc is the "ledger" document of point transactions.
type LedgerDoc struct {
	Entries  []PointEntry `json:"entries"`
	Metadata SyncMetadata `json:"metadata"`
}
