package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"0.2.0", "0.2.0", 0},
		{"v0.2.0", "0.2.0", 0},
		{"0.2.0", "0.10.0", -1},
		{"1.0.0", "0.9.9", 1},
		{"1.0.0-beta", "1.0.0", 0},
		{"1.2", "1.2.1", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareVersions(tt.v1, tt.v2), "%s vs %s", tt.v1, tt.v2)
	}
}

func TestCheckForUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "vmdebug-mcp/"+Version, r.Header.Get("User-Agent"))
		w.Write([]byte(`{"tag_name":"v99.0.0","html_url":"https://example.invalid/r","body":"` + strings.Repeat("x", 600) + `"}`))
	}))
	defer srv.Close()

	c := &Checker{releaseURL: srv.URL}
	info := c.CheckForUpdates(context.Background())
	require.Empty(t, info.Error)
	assert.True(t, info.UpdateAvailable)
	assert.Equal(t, "99.0.0", info.LatestVersion)
	assert.Len(t, info.ReleaseNotes, 500)
	assert.Contains(t, info.UpdateMessage(), "v99.0.0")
	assert.Same(t, info, c.GetUpdateInfo())
}

func TestCheckForUpdatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := &Checker{releaseURL: srv.URL}
	info := c.CheckForUpdates(context.Background())
	assert.Contains(t, info.Error, "status 403")
	assert.False(t, info.UpdateAvailable)
	assert.Empty(t, info.UpdateMessage())
}
