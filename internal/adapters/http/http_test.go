package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/fieldsync/internal/domain"
	"github.com/bft-labs/fieldsync/internal/ports"
	"github.com/bft-labs/fieldsync/pkg/log"
)

func newTestResolver(url string) *Resolver {
	return NewResolver(http.DefaultClient, Metadata{
		ServiceURL: url,
		AuthKey:    "secret",
		Hostname:   "tablet-7",
		DeviceID:   "dev-1",
	}, log.NewNoopLogger())
}

func TestRemote_Insert(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/entities/job", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "dev-1", r.Header.Get("X-Fieldsync-Device-Id"))
		assert.Empty(t, r.Header.Get("Content-Encoding"))

		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		in["id"] = "srv-1"
		in["updated_at"] = "2024-01-01T00:00:00Z"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(in)
	}))
	defer server.Close()

	remote, err := newTestResolver(server.URL).Remote("job")
	require.NoError(t, err)

	out, err := remote.Insert(context.Background(), domain.Payload{"title": "Fix boiler"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", out.ID())
	assert.Equal(t, "Fix boiler", out["title"])
}

func TestRemote_UpdateCompressed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/entities/inventory/item 1", r.URL.Path)
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))

		zr, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		data, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.JSONEq(t, `{"qty":4}`, string(data))

		w.Write([]byte(`{"id":"item 1","qty":4}`))
	}))
	defer server.Close()

	remote, err := newTestResolver(server.URL).Remote("inventory")
	require.NoError(t, err)

	ctx := ports.WithCallOptions(context.Background(), ports.CallOptions{Compress: true})
	out, err := remote.Update(ctx, "item 1", domain.Payload{"qty": 4})
	require.NoError(t, err)
	assert.EqualValues(t, 4, out["qty"])
}

func TestRemote_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   domain.ErrorKind
		code   string
	}{
		{"auth", http.StatusUnauthorized, `{"code":"PGRST301","message":"JWT expired"}`, domain.ErrorKindAuth, "PGRST301"},
		{"validation", http.StatusUnprocessableEntity, `{"message":"qty must be positive"}`, domain.ErrorKindValidation, ""},
		{"server", http.StatusBadGateway, `upstream down`, domain.ErrorKindServer, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			remote, err := newTestResolver(server.URL).Remote("job")
			require.NoError(t, err)

			err = remote.Delete(context.Background(), "1")
			var remoteErr *domain.RemoteError
			require.ErrorAs(t, err, &remoteErr)
			assert.Equal(t, tt.status, remoteErr.Status)
			assert.Equal(t, tt.code, remoteErr.Code)
			assert.Equal(t, tt.kind, domain.Classify(err))
		})
	}
}

func TestRemote_TransportErrorIsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	remote, err := newTestResolver(url).Remote("job")
	require.NoError(t, err)

	_, err = remote.Insert(context.Background(), domain.Payload{"title": "x"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindNetwork, domain.Classify(err))
}

func TestResolver_RejectsBadEntityType(t *testing.T) {
	_, err := newTestResolver("http://localhost").Remote("a/b")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pingEndpoint:
			assert.Equal(t, http.MethodHead, r.Method)
		case downloadEndpoint:
			assert.Equal(t, "1024", r.URL.Query().Get("bytes"))
			w.Write([]byte(strings.Repeat("x", 1024)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	p := NewProber(http.DefaultClient, server.URL, 1024)

	latency, err := p.Ping(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(latency), int64(0))

	n, elapsed, err := p.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)
	assert.GreaterOrEqual(t, int64(elapsed), int64(0))
}

func TestProber_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewProber(http.DefaultClient, server.URL, 0)
	_, err := p.Ping(context.Background())
	assert.Error(t, err)
	_, _, err = p.Download(context.Background())
	assert.Error(t, err)
}
