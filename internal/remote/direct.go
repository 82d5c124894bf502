package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// maxDocumentSize bounds document reads; family documents are small.
const maxDocumentSize = 4 << 20 // 4MB

// Direct is the direct-to-store transport. It addresses documents by
// name inside the family's container and authenticates with a bearer
// token from the shared Credentials manager.
type Direct struct {
	baseURL  string
	familyID string
	creds    *Credentials
	client   *http.Client
	logger   *zap.Logger
}

// NewDirect creates the direct transport.
func NewDirect(baseURL, familyID string, creds *Credentials, logger *zap.Logger) (*Direct, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if familyID == "" {
		return nil, fmt.Errorf("family ID is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credentials manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Direct{
		baseURL:  baseURL,
		familyID: familyID,
		creds:    creds,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}, nil
}

// docURL builds the endpoint for a named document.
func (d *Direct) docURL(name string) string {
	return fmt.Sprintf("%s/families/%s/docs/%s",
		d.baseURL, url.PathEscape(d.familyID), url.PathEscape(name))
}

// GetDocument implements Store.
func (d *Direct) GetDocument(ctx context.Context, name string) ([]byte, error) {
	resp, err := d.do(ctx, http.MethodGet, name, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, name); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", name, err)
	}
	return body, nil
}

// PutDocument implements Store.
func (d *Direct) PutDocument(ctx context.Context, name string, payload []byte) error {
	resp, err := d.do(ctx, http.MethodPut, name, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize)) //nolint:errcheck // drain for connection reuse

	return classifyStatus(resp.StatusCode, name)
}

func (d *Direct) do(ctx context.Context, method, name string, payload []byte) (*http.Response, error) {
	token, err := d.creds.Token(ctx)
	if err != nil {
		// A token the manager cannot mint counts as unauthorized so
		// the failover policy kicks in.
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.docURL(name), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Caller cancellation surfaces as the plain context error,
			// not a transport failure.
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s %s: %w", method, name, err)
	}
	return resp, nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
func classifyStatus(status int, name string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: document %s, status %d", ErrUnauthorized, name, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	default:
		return fmt.Errorf("document %s: unexpected status %d", name, status)
	}
}
