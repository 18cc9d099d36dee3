package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitecheck/internal/audit/models"
	"sitecheck/pkg/platform/sentinel"
)

func TestClient_AuditReturnsFindings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audit", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.CategoryLanguage, req.Category)
		assert.Contains(t, req.Excluded, "old typo on homepage")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]any{
				{
					"category":    "Language",
					"description": "typo in headline",
					"severity":    "medium",
					"locations":   []map[string]string{{"url": "https://example.com", "snippet": "teh product"}},
				},
			},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "test-key")
	findings, err := client.Audit(context.Background(), Request{
		Domain:   "example.com",
		Category: models.CategoryLanguage,
		Pages:    []Page{{URL: "https://example.com", Markdown: "# Hi"}},
		Excluded: []string{"old typo on homepage"},
	})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, models.CategoryLanguage, findings[0].Category)
	assert.Equal(t, "typo in headline", findings[0].Description)
}

func TestClient_AuditBlockedSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "blocked"})
	}))
	defer srv.Close()

	client := New(srv.URL, "")
	_, err := client.Audit(context.Background(), Request{Domain: "example.com"})
	assert.ErrorIs(t, err, sentinel.ErrBlocked)
}

func TestClient_AuditEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"issues": nil})
	}))
	defer srv.Close()

	client := New(srv.URL, "")
	findings, err := client.Audit(context.Background(), Request{Domain: "example.com"})
	require.NoError(t, err)
	assert.Empty(t, findings)
}
