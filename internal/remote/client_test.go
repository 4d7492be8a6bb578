package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/nutrisync/internal/model"
	"github.com/lewisedginton/nutrisync/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
}

func TestListSendsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/sync/daily_logs", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]SyncRecord{
			{Key: "2026-08-30", OwnerID: "u1", Data: json.RawMessage(`{"weight":82.5}`), LastModified: 1700000000000},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "token-1"}, testLogger())
	records, err := c.List(context.Background(), model.CollectionDailyLogs)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "2026-08-30", records[0].Key)
	assert.Equal(t, model.Timestamp(1700000000000), records[0].LastModified)
}

func TestUnauthorizedIsDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "stale"}, testLogger())
	_, err := c.List(context.Background(), model.CollectionMemories)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = c.PushPatches(context.Background(), model.CollectionMemories, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidationErrorDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "invalid_patch", "message": "dataPatch must be an object"})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "t"}, testLogger())
	err := c.PushPatches(context.Background(), model.CollectionDailyLogs, []PushItem{{Key: "x"}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_patch", apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestPushPatchesBody(t *testing.T) {
	var got []PushItem
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "t"}, testLogger())
	items := []PushItem{{
		Key:          "2026-08-30",
		DataPatch:    json.RawMessage(`{"weight":81}`),
		LastModified: 200,
		BasedOn:      100,
	}}
	require.NoError(t, c.PushPatches(context.Background(), model.CollectionDailyLogs, items))
	require.Len(t, got, 1)
	assert.Equal(t, model.Timestamp(100), got[0].BasedOn)
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "t", Timeout: 50 * time.Millisecond}, testLogger())
	_, err := c.List(context.Background(), model.CollectionProfile)
	assert.Error(t, err)
}

func TestAuthenticated(t *testing.T) {
	assert.False(t, NewClient(Config{BaseURL: "http://x"}, testLogger()).Authenticated())
	assert.True(t, NewClient(Config{BaseURL: "http://x", Token: "t"}, testLogger()).Authenticated())
}
