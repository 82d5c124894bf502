package remote

import "context"

// Document names within a family's namespace.
const (
	DocTemplates = "templates"
	DocInstances = "instances"
	DocMembers   = "members"
	DocSettings  = "settings"
	DocActivity  = "activity"
	DocLedger    = "ledger"
)

// Store is one transport to the family-scoped remote document store.
// Documents are complete JSON objects replaced wholesale on write; the
// store has no partial-update primitive. Reads that race writes can
// observe and re-write stale state (last writer wins); an accepted
// limitation, not enforced against.
//
// Implementations: the direct bearer-token transport and the gateway
// proxy. The failover Client coordinates the two.
type Store interface {
	// GetDocument reads a named document. Returns ErrNotFound when the
	// document does not exist yet.
	GetDocument(ctx context.Context, name string) ([]byte, error)

	// PutDocument replaces a named document.
	PutDocument(ctx context.Context, name string, payload []byte) error
}
