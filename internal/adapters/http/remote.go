// Package http implements the backend ports over HTTP: a REST RemoteStore
// per entity type and a latency/throughput Prober.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
)

const entitiesEndpoint = "/v1/entities/"

// Metadata is sent with every backend request.
type Metadata struct {
	ServiceURL string
	AuthKey    string
	Hostname   string
	DeviceID   string
	UserAgent  string
}

// Resolver hands out a Remote per entity type sharing one client.
type Resolver struct {
	client   ports.HTTPClient
	metadata Metadata
	logger   ports.Logger
}

// NewResolver creates a Resolver.
func NewResolver(client ports.HTTPClient, metadata Metadata, logger ports.Logger) *Resolver {
	return &Resolver{client: client, metadata: metadata, logger: logger}
}

// Remote returns the RemoteStore of entityType.
func (r *Resolver) Remote(entityType string) (ports.RemoteStore, error) {
	if strings.TrimSpace(entityType) == "" || strings.Contains(entityType, "/") {
		return nil, fmt.Errorf("%w: bad entity type %q", domain.ErrInvalidOperation, entityType)
	}
	return &Remote{
		client:     r.client,
		metadata:   r.metadata,
		entityType: entityType,
		logger:     r.logger,
	}, nil
}

// Remote implements ports.RemoteStore against /v1/entities/{type}.
type Remote struct {
	client     ports.HTTPClient
	metadata   Metadata
	entityType string
	logger     ports.Logger
}

// Insert creates a record and returns the server's version of it.
func (r *Remote) Insert(ctx context.Context, payload domain.Payload) (domain.Payload, error) {
	var out domain.Payload
	if err := r.do(ctx, http.MethodPost, r.path(""), payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update patches the record with id and returns the server's version of it.
func (r *Remote) Update(ctx context.Context, id string, patch domain.Payload) (domain.Payload, error) {
	var out domain.Payload
	if err := r.do(ctx, http.MethodPatch, r.path(id), patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the record with id.
func (r *Remote) Delete(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, r.path(id), nil, nil)
}

func (r *Remote) path(id string) string {
	p := r.metadata.ServiceURL + entitiesEndpoint + url.PathEscape(r.entityType)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func (r *Remote) do(ctx context.Context, method, target string, in domain.Payload, out *domain.Payload) error {
	opts := ports.CallOptionsFrom(ctx)

	var body io.Reader
	compressed := false
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		if opts.Compress {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(data); err != nil {
				return fmt.Errorf("compress payload: %w", err)
			}
			if err := zw.Close(); err != nil {
				return fmt.Errorf("compress payload: %w", err)
			}
			data = buf.Bytes()
			compressed = true
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+r.metadata.AuthKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Fieldsync-Hostname", r.metadata.Hostname)
	req.Header.Set("X-Fieldsync-Device-Id", r.metadata.DeviceID)
	req.Header.Set("X-Fieldsync-OSArch", runtime.GOOS+"/"+runtime.GOARCH)
	if r.metadata.UserAgent != "" {
		req.Header.Set("User-Agent", r.metadata.UserAgent)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return decodeRemoteError(resp.StatusCode, respBody)
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	r.logger.Debug("remote call",
		ports.String("method", method),
		ports.String("entity", r.entityType),
		ports.Int("status", resp.StatusCode),
		ports.Bool("gzip", compressed),
	)
	return nil
}

// decodeRemoteError builds a RemoteError from a non-2xx response. The body is
// expected to be {"code": "...", "message": "..."} but any text is accepted.
func decodeRemoteError(status int, body []byte) error {
	var shape struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	remote := &domain.RemoteError{Status: status}
	if err := json.Unmarshal(body, &shape); err == nil && (shape.Code != "" || shape.Message != "") {
		remote.Code = shape.Code
		remote.Message = shape.Message
	} else {
		remote.Message = strings.TrimSpace(string(body))
	}
	if remote.Message == "" {
		remote.Message = http.StatusText(status)
	}
	return remote
}
