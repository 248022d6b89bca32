package dataplane

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.DataPlaneConfig{BaseURL: srv.URL})
}

func TestClient_ListFilesPaginates(t *testing.T) {
	total := FilePageSize + 20
	var calls int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/datasets/ds-1/files", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("Authorization"))
		assert.Equal(t, "role-1", r.Header.Get("role_id"))

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		var files []File
		for i := offset; i < offset+FilePageSize && i <= total; i++ {
			files = append(files, File{Key: "f" + strconv.Itoa(i)})
		}
		next := "no"
		if offset+FilePageSize <= total {
			next = "yes"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"files": files, "next_available": next})
	}))

	files, err := client.ListFiles(context.Background(), Credential{Token: "tok", RoleID: "role-1"}, "ds-1")
	require.NoError(t, err)
	assert.Len(t, files, total)
	assert.Equal(t, 2, calls)
}

func TestClient_AuthorizedFiles(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body struct {
			FileNames []string `json:"FileNames"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b", "c"}, body.FileNames)
		_ = json.NewEncoder(w).Encode(map[string]any{"AuthorizedFiles": []string{"b"}})
	}))

	allowed, err := client.AuthorizedFiles(context.Background(), Credential{Token: "tok"}, "ds", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, allowed)

	none, err := client.AuthorizedFiles(context.Background(), Credential{Token: "tok"}, "ds", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   domain.Kind
	}{
		{http.StatusUnauthorized, domain.KindUnauthorized},
		{http.StatusForbidden, domain.KindUnauthorized},
		{http.StatusNotFound, domain.KindNotFound},
		{http.StatusBadRequest, domain.KindInvalidInput},
		{http.StatusBadGateway, domain.KindUpstreamFailed},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"Message":"nope"}`))
			}))
			_, err := client.GetDataset(context.Background(), Credential{Token: "tok"}, "ds")
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			assert.Contains(t, domain.MessageOf(err), "nope")
		})
	}
}

func TestClient_UploadFile(t *testing.T) {
	var uploaded string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/datasets/ds/upload-url", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"PresignedURL": srv.URL + "/put/object",
			"FileName":     "domain/ds/website_1.txt",
		})
	})
	mux.HandleFunc("/put/object", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		b, _ := io.ReadAll(r.Body)
		uploaded = string(b)
	})

	client := NewClient(config.DataPlaneConfig{BaseURL: srv.URL})
	key, err := client.UploadFile(context.Background(), Credential{Token: "tok"}, "ds", "website_1.txt", strings.NewReader("page text"))
	require.NoError(t, err)
	assert.Equal(t, "domain/ds/website_1.txt", key)
	assert.Equal(t, "page text", uploaded)
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient(config.DataPlaneConfig{})
	_, err := client.ListDomains(context.Background(), Credential{})
	assert.Equal(t, domain.KindUpstreamFailed, domain.KindOf(err))
}
