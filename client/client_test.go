package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateCodeSendsBearerTokenAndDecodesResponse(t *testing.T) {
	var gotAuth, gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"updated": true})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	updated, err := c.UpdateCode(context.Background(), "print()", "Bot")
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/update_code", gotPath)
}

func TestParticipantInfoPropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "bad-token")
	_, err := c.ParticipantInfo(context.Background(), time.Time{})
	assert.Error(t, err)
}

func TestLatestVersionsInfoDecodesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest_versions_info/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"created_at": "2024-01-01T00:00:00Z", "loc": 10, "stats": map[string]int{"victories": 1, "losses": 0, "ties": 0}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	versions, err := c.LatestVersionsInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.NotNil(t, versions[0].Stats)
	assert.Equal(t, 1, versions[0].Stats.Victories)
}
