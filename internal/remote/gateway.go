package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Gateway is the fallback transport: a single coarse-grained endpoint
// (a server-side script in front of the family's store) that performs
// the equivalent operation with its own credentials. Used when no
// valid bearer token is obtainable or when the direct transport fails.
//
// The endpoint is shared across the family's devices, so calls are
// rate-limited client-side.
type Gateway struct {
	endpoint string
	familyID string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Gateway wire actions.
const (
	actionGetData        = "getData"
	actionSaveData       = "saveData"
	actionCreateChore    = "createChore"
	actionUpdateChore    = "updateChore"
	actionDeleteChore    = "deleteChore"
	actionCompleteChore  = "completeChore"
	actionVerifyChore    = "verifyChore"
	actionDeleteTemplate = "deleteTemplate"
	actionRefresh        = "refresh"
)

// gatewayRequest is the envelope for every gateway call.
type gatewayRequest struct {
	Action   string          `json:"action"`
	FamilyID string          `json:"familyId"`
	Type     string          `json:"type,omitempty"` // document name for getData/saveData
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// gatewayResponse is the envelope for every gateway reply.
type gatewayResponse struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	AuthURL string          `json:"authUrl,omitempty"`
}

// NewGateway creates the gateway transport.
func NewGateway(endpoint, familyID string, logger *zap.Logger) (*Gateway, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}
	if familyID == "" {
		return nil, fmt.Errorf("family ID is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		endpoint: endpoint,
		familyID: familyID,
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
		logger:   logger,
	}, nil
}

// GetDocument implements Store via the getData action.
func (g *Gateway) GetDocument(ctx context.Context, name string) ([]byte, error) {
	resp, err := g.call(ctx, gatewayRequest{Action: actionGetData, Type: name})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return resp.Data, nil
}

// PutDocument implements Store via the saveData action.
func (g *Gateway) PutDocument(ctx context.Context, name string, payload []byte) error {
	_, err := g.call(ctx, gatewayRequest{Action: actionSaveData, Type: name, Payload: payload})
	return err
}

// Refresh asks the gateway to run its coarse server-side refresh: the
// script re-materializes recurring chores itself. Used when the direct
// path is unusable and a reconciliation pass bails out.
func (g *Gateway) Refresh(ctx context.Context) error {
	_, err := g.call(ctx, gatewayRequest{Action: actionRefresh})
	return err
}

// CreateChore creates an instance server-side.
func (g *Gateway) CreateChore(ctx context.Context, payload any) error {
	return g.verb(ctx, actionCreateChore, payload)
}

// UpdateChore updates an instance server-side.
func (g *Gateway) UpdateChore(ctx context.Context, payload any) error {
	return g.verb(ctx, actionUpdateChore, payload)
}

// DeleteChore deletes an instance server-side.
func (g *Gateway) DeleteChore(ctx context.Context, payload any) error {
	return g.verb(ctx, actionDeleteChore, payload)
}

// CompleteChore marks an instance completed server-side.
func (g *Gateway) CompleteChore(ctx context.Context, payload any) error {
	return g.verb(ctx, actionCompleteChore, payload)
}

// VerifyChore verifies or rejects a completion server-side.
func (g *Gateway) VerifyChore(ctx context.Context, payload any) error {
	return g.verb(ctx, actionVerifyChore, payload)
}

// DeleteTemplate deletes a template and its live instances server-side.
func (g *Gateway) DeleteTemplate(ctx context.Context, payload any) error {
	return g.verb(ctx, actionDeleteTemplate, payload)
}

func (g *Gateway) verb(ctx context.Context, action string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", action, err)
	}
	_, err = g.call(ctx, gatewayRequest{Action: action, Payload: raw})
	return err
}

// call posts one request envelope and decodes the reply. Gateway
// failures are terminal for the operation: there is no further
// transport to fall back to.
func (g *Gateway) call(ctx context.Context, req gatewayRequest) (*gatewayResponse, error) {
	req.FamilyID = g.familyID

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("gateway %s: %w", req.Action, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("gateway %s: read response: %w", req.Action, err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway %s: status %d", req.Action, httpResp.StatusCode)
	}

	var resp gatewayResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("gateway %s: decode response: %w", req.Action, err)
	}

	if !resp.OK {
		if are := parseAuthRequired(resp.Error); are != nil {
			if are.URL == "" {
				are.URL = resp.AuthURL
			}
			return nil, are
		}
		return nil, fmt.Errorf("gateway %s: %s", req.Action, resp.Error)
	}
	return &resp, nil
}
