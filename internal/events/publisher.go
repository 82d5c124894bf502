// Package events publishes chore state transitions for out-of-process
// consumers (the notification service subscribes to these). Publishing
// is strictly best-effort: a lost event is recovered by the next cache
// refresh, so failures are logged and never surfaced to mutations.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/choresyncd/internal/model"
)

// Event kinds, used as subject suffixes.
const (
	KindCreated   = "created"
	KindCompleted = "completed"
	KindVerified  = "verified"
	KindRejected  = "rejected"
	KindExpired   = "expired"
	KindDeleted   = "deleted"
)

// subjectPrefix namespaces subjects per family:
// chores.<familyID>.instance.<kind>.
const subjectPrefix = "chores"

// Envelope is the published message body.
type Envelope struct {
	Kind      string         `json:"kind"`
	FamilyID  string         `json:"familyId"`
	Timestamp time.Time      `json:"timestamp"`
	Instance  model.Instance `json:"instance"`
}

// Publisher emits instance transitions to NATS. A nil connection
// disables publishing entirely; all methods stay safe to call.
type Publisher struct {
	nc       *nats.Conn
	familyID string
	logger   *zap.Logger
}

// NewPublisher creates a publisher. nc may be nil to disable.
func NewPublisher(nc *nats.Conn, familyID string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, familyID: familyID, logger: logger}
}

// Enabled reports whether a broker connection is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.nc != nil
}

// Instance publishes one transition for an instance.
func (p *Publisher) Instance(kind string, inst model.Instance) {
	if !p.Enabled() {
		return
	}

	env := Envelope{
		Kind:      kind,
		FamilyID:  p.familyID,
		Timestamp: time.Now().UTC(),
		Instance:  inst,
	}
	body, err := json.Marshal(env)
	if err != nil {
		p.logger.Warn("encode event", zap.String("kind", kind), zap.Error(err))
		return
	}

	subject := subjectPrefix + "." + p.familyID + ".instance." + kind
	if err := p.nc.Publish(subject, body); err != nil {
		p.logger.Warn("publish event",
			zap.String("subject", subject),
			zap.String("instance_id", inst.ID),
			zap.Error(err))
	}
}
