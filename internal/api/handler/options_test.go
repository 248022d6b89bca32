package handler

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Rrens/genai-platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		opts, err := listOptions(httptest.NewRequest("GET", "/workspaces", nil))
		require.NoError(t, err)

		assert.Equal(t, domain.ListOptions{Offset: 1, Limit: 100, SortBy: "LastModifiedTime", SortOrder: "desc"}, opts)
	})

	t.Run("explicit values", func(t *testing.T) {
		opts, err := listOptions(httptest.NewRequest("GET", "/workspaces?offset=11&limit=10&sortby=WorkspaceName&sortorder=ASC", nil))
		require.NoError(t, err)

		assert.Equal(t, domain.ListOptions{Offset: 11, Limit: 10, SortBy: "WorkspaceName", SortOrder: "asc"}, opts)
	})

	t.Run("limit above max", func(t *testing.T) {
		_, err := listOptions(httptest.NewRequest("GET", "/workspaces?limit=5000", nil))

		assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
	})
}

func TestDecode(t *testing.T) {
	type input struct {
		Name string `json:"Name" validate:"required"`
		Mode string `json:"Mode" validate:"omitempty,oneof=a b"`
	}

	t.Run("valid", func(t *testing.T) {
		rec := httptest.NewRecorder()
		var in input
		ok := decode(rec, httptest.NewRequest("POST", "/", strings.NewReader(`{"Name":"x","Mode":"a"}`)), &in)

		assert.True(t, ok)
		assert.Equal(t, "x", in.Name)
	})

	t.Run("tag violations are reported per field", func(t *testing.T) {
		rec := httptest.NewRecorder()
		var in input
		ok := decode(rec, httptest.NewRequest("POST", "/", strings.NewReader(`{"Mode":"c"}`)), &in)

		assert.False(t, ok)
		assert.Equal(t, 400, rec.Code)
		assert.Contains(t, rec.Body.String(), `"Name":"field is required"`)
		assert.Contains(t, rec.Body.String(), `"Mode":"must be one of a b"`)
	})

	t.Run("maps carry no tags", func(t *testing.T) {
		rec := httptest.NewRecorder()
		prefs := map[string]string{}
		ok := decode(rec, httptest.NewRequest("POST", "/", strings.NewReader(`{"theme":"dark"}`)), &prefs)

		assert.True(t, ok)
		assert.Equal(t, "dark", prefs["theme"])
	})
}
