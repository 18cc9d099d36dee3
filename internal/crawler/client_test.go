package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Map(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/map", r.URL.Path)
		assert.Equal(t, "example.com", r.URL.Query().Get("domain"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pages": []map[string]string{
				{"url": "https://example.com", "title": "Home"},
				{"url": "https://example.com/pricing"},
			},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, WithRetryPause(0))
	pages, err := client.Map(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "https://example.com", pages[0].URL)
	assert.Equal(t, "Home", pages[0].Title)
}

func TestClient_ScrapeRetriesThreeTimes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"markdown": "# Hello"})
	}))
	defer srv.Close()

	client := New(srv.URL, WithRetryPause(0))
	content, err := client.Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "# Hello", content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ScrapeGivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.URL, WithRetryPause(0))
	_, err := client.Scrape(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}
