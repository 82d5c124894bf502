package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/choresyncd/internal/model"
)

const instrumentationName = "github.com/fyrsmithlabs/choresyncd/internal/remote"

// FallbackStore is the gateway side of the failover pair: a Store plus
// the coarse server-side refresh action.
type FallbackStore interface {
	Store
	Refresh(ctx context.Context) error
}

// Client coordinates the two transports. Every operation follows the
// same policy:
//
//  1. Attempt the direct transport if a credential is obtainable.
//  2. On an unauthorized failure, force one credential refresh and
//     retry the operation once.
//  3. If the retry is also unauthorized, or no credential was ever
//     obtainable, fall back to the gateway for this one operation.
//  4. Any other direct-transport error: log and fall back without a
//     refresh attempt.
//  5. A gateway failure is terminal and surfaces to the caller.
//
// Caller cancellation short-circuits at every step and propagates
// unmodified. Each read/write is wrapped independently; a pass made of
// many calls may serve some from each transport.
type Client struct {
	direct   Store // nil when no direct transport is configured
	fallback FallbackStore
	creds    *Credentials
	logger   *zap.Logger
	now      func() time.Time

	fallbackCounter metric.Int64Counter
	refreshCounter  metric.Int64Counter
}

// NewClient builds the failover client. direct may be nil, in which
// case every operation goes straight to the gateway.
func NewClient(direct Store, fallback FallbackStore, creds *Credentials, logger *zap.Logger) (*Client, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback store is required")
	}
	if creds == nil {
		creds = NewCredentials(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		direct:   direct,
		fallback: fallback,
		creds:    creds,
		logger:   logger,
		now:      time.Now,
	}

	meter := otel.Meter(instrumentationName)
	var err error
	c.fallbackCounter, err = meter.Int64Counter(
		"choresyncd.remote.fallbacks_total",
		metric.WithDescription("Operations served by the gateway after a direct-transport failure"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		logger.Warn("failed to create fallback counter", zap.Error(err))
	}
	c.refreshCounter, err = meter.Int64Counter(
		"choresyncd.remote.credential_refreshes_total",
		metric.WithDescription("Forced credential refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		logger.Warn("failed to create refresh counter", zap.Error(err))
	}

	return c, nil
}

// GatewayOnly reports whether no direct transport is usable and every
// mutation should run as a single coarse gateway call.
func (c *Client) GatewayOnly() bool {
	return c.direct == nil || !c.creds.Available()
}

// FallbackRefresh runs the gateway's coarse refresh action. Used by
// the reconciliation pass when the direct path is unusable.
func (c *Client) FallbackRefresh(ctx context.Context) error {
	return c.fallback.Refresh(ctx)
}

// GetDocument reads a named document under the failover policy.
func (c *Client) GetDocument(ctx context.Context, name string) ([]byte, error) {
	var out []byte
	err := c.withFailover(ctx, "get", name, func(s Store) error {
		var opErr error
		out, opErr = s.GetDocument(ctx, name)
		return opErr
	})
	return out, err
}

// PutDocument writes a named document under the failover policy.
func (c *Client) PutDocument(ctx context.Context, name string, payload []byte) error {
	return c.withFailover(ctx, "put", name, func(s Store) error {
		return s.PutDocument(ctx, name, payload)
	})
}

// withFailover implements the transport policy for one operation.
func (c *Client) withFailover(ctx context.Context, op, doc string, fn func(Store) error) error {
	if c.GatewayOnly() {
		return fn(c.fallback)
	}

	err := fn(c.direct)
	if err == nil {
		return nil
	}
	if isCancellation(err) {
		return err
	}

	if IsUnauthorized(err) {
		c.addCount(ctx, c.refreshCounter, op, doc)
		if _, refreshErr := c.creds.ForceRefresh(ctx); refreshErr == nil {
			err = fn(c.direct)
			if err == nil {
				return nil
			}
			if isCancellation(err) {
				return err
			}
		} else {
			c.logger.Warn("credential refresh failed",
				zap.String("op", op),
				zap.String("doc", doc),
				zap.Error(refreshErr))
		}
	}

	// ErrNotFound from a healthy direct transport is a real answer,
	// not a transport failure; asking the gateway would just repeat it.
	if !IsUnauthorized(err) && isNotFound(err) {
		return err
	}

	c.logger.Warn("direct transport failed, falling back to gateway",
		zap.String("op", op),
		zap.String("doc", doc),
		zap.Error(err))
	c.addCount(ctx, c.fallbackCounter, op, doc)

	return fn(c.fallback)
}

func (c *Client) addCount(ctx context.Context, counter metric.Int64Counter, op, doc string) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op), attribute.String("doc", doc)))
}

// Typed document helpers. Loads treat a missing or malformed document
// as an empty collection so a reconciliation pass never crashes on
// data shape; the condition is logged.

// LoadTemplates reads the templates document.
func (c *Client) LoadTemplates(ctx context.Context) (*model.TemplatesDoc, error) {
	var doc model.TemplatesDoc
	if err := c.loadDoc(ctx, DocTemplates, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveTemplates writes the templates document back, bumping metadata.
func (c *Client) SaveTemplates(ctx context.Context, doc *model.TemplatesDoc) error {
	doc.Metadata.Touch(c.now())
	return c.saveDoc(ctx, DocTemplates, doc)
}

// LoadInstances reads the instances document.
func (c *Client) LoadInstances(ctx context.Context) (*model.InstancesDoc, error) {
	var doc model.InstancesDoc
	if err := c.loadDoc(ctx, DocInstances, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveInstances writes the instances document back, bumping metadata.
func (c *Client) SaveInstances(ctx context.Context, doc *model.InstancesDoc) error {
	doc.Metadata.Touch(c.now())
	return c.saveDoc(ctx, DocInstances, doc)
}

// LoadMembers reads the members document.
func (c *Client) LoadMembers(ctx context.Context) (*model.MembersDoc, error) {
	var doc model.MembersDoc
	if err := c.loadDoc(ctx, DocMembers, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveMembers writes the members document back, bumping metadata.
func (c *Client) SaveMembers(ctx context.Context, doc *model.MembersDoc) error {
	doc.Metadata.Touch(c.now())
	return c.saveDoc(ctx, DocMembers, doc)
}

// LoadSettings reads the settings document.
func (c *Client) LoadSettings(ctx context.Context) (*model.SettingsDoc, error) {
	var doc model.SettingsDoc
	if err := c.loadDoc(ctx, DocSettings, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadActivity reads the activity log document.
func (c *Client) LoadActivity(ctx context.Context) (*model.ActivityDoc, error) {
	var doc model.ActivityDoc
	if err := c.loadDoc(ctx, DocActivity, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveActivity writes the activity log document back.
func (c *Client) SaveActivity(ctx context.Context, doc *model.ActivityDoc) error {
	doc.Metadata.Touch(c.now())
	return c.saveDoc(ctx, DocActivity, doc)
}

// LoadLedger reads the point ledger document.
func (c *Client) LoadLedger(ctx context.Context) (*model.LedgerDoc, error) {
	var doc model.LedgerDoc
	if err := c.loadDoc(ctx, DocLedger, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SaveLedger writes the point ledger document back.
func (c *Client) SaveLedger(ctx context.Context, doc *model.LedgerDoc) error {
	doc.Metadata.Touch(c.now())
	return c.saveDoc(ctx, DocLedger, doc)
}

func (c *Client) loadDoc(ctx context.Context, name string, out any) error {
	raw, err := c.GetDocument(ctx, name)
	if err != nil {
		if isNotFound(err) {
			c.logger.Debug("document missing, treating as empty", zap.String("doc", name))
			return nil
		}
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Warn("malformed document, treating as empty",
			zap.String("doc", name),
			zap.Error(err))
		return nil
	}
	return nil
}

func (c *Client) saveDoc(ctx context.Context, name string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return c.PutDocument(ctx, name, payload)
}
