package syncserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/nutrisync/internal/model"
	"github.com/lewisedginton/nutrisync/internal/remote"
	"github.com/lewisedginton/nutrisync/pkg/logger"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Service: "test"})
	srv := NewServer(NewMemoryStore(), map[string]string{"token-alice": "alice", "token-bob": "bob"}, log)
	r := chi.NewRouter()
	srv.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func doPush(t *testing.T, ts *httptest.Server, token, collection string, items []remote.PushItem) *http.Response {
	t.Helper()
	body, err := json.Marshal(items)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/sync/"+collection, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func doList(t *testing.T, ts *httptest.Server, token, collection string) []remote.SyncRecord {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/sync/"+collection, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var records []remote.SyncRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	return records
}

func TestUnauthenticatedRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/sync/daily_logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownCollection(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/sync/secrets", nil)
	req.Header.Set("Authorization", "Bearer token-alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPushThenList(t *testing.T) {
	ts := newTestServer(t)
	resp := doPush(t, ts, "token-alice", model.CollectionDailyLogs, []remote.PushItem{{
		Key:          "2026-08-30",
		DataPatch:    json.RawMessage(`{"weight":82.5}`),
		LastModified: 100,
	}})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	records := doList(t, ts, "token-alice", model.CollectionDailyLogs)
	require.Len(t, records, 1)
	assert.Equal(t, "2026-08-30", records[0].Key)
	assert.Equal(t, "alice", records[0].OwnerID)
	assert.Equal(t, model.Timestamp(100), records[0].LastModified)
	assert.JSONEq(t, `{"weight":82.5}`, string(records[0].Data))
}

func TestOwnersAreIsolated(t *testing.T) {
	ts := newTestServer(t)
	resp := doPush(t, ts, "token-alice", model.CollectionMemories, []remote.PushItem{{
		Key: "training", DataPatch: json.RawMessage(`{"content":"zone 2"}`), LastModified: 1,
	}})
	resp.Body.Close()

	assert.Empty(t, doList(t, ts, "token-bob", model.CollectionMemories))
	assert.Len(t, doList(t, ts, "token-alice", model.CollectionMemories), 1)
}

func TestNewerWriteShallowMerges(t *testing.T) {
	ts := newTestServer(t)
	resp := doPush(t, ts, "token-alice", model.CollectionDailyLogs, []remote.PushItem{{
		Key: "2026-08-30", DataPatch: json.RawMessage(`{"weight":82.5,"dailyStatus":"ok"}`), LastModified: 100,
	}})
	resp.Body.Close()

	resp = doPush(t, ts, "token-alice", model.CollectionDailyLogs, []remote.PushItem{{
		Key: "2026-08-30", DataPatch: json.RawMessage(`{"weight":81.9}`), LastModified: 200, BasedOn: 100,
	}})
	resp.Body.Close()

	records := doList(t, ts, "token-alice", model.CollectionDailyLogs)
	require.Len(t, records, 1)
	assert.Equal(t, model.Timestamp(200), records[0].LastModified)
	assert.JSONEq(t, `{"weight":81.9,"dailyStatus":"ok"}`, string(records[0].Data))
}

func TestStaleWriteKeepsStored(t *testing.T) {
	ts := newTestServer(t)
	resp := doPush(t, ts, "token-alice", model.CollectionDailyLogs, []remote.PushItem{{
		Key: "2026-08-30", DataPatch: json.RawMessage(`{"weight":82.5}`), LastModified: 200,
	}})
	resp.Body.Close()

	// An older writer loses; an equal timestamp also keeps the stored value.
	for _, stale := range []model.Timestamp{150, 200} {
		resp = doPush(t, ts, "token-alice", model.CollectionDailyLogs, []remote.PushItem{{
			Key: "2026-08-30", DataPatch: json.RawMessage(`{"weight":99}`), LastModified: stale,
		}})
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	records := doList(t, ts, "token-alice", model.CollectionDailyLogs)
	require.Len(t, records, 1)
	assert.Equal(t, model.Timestamp(200), records[0].LastModified)
	assert.JSONEq(t, `{"weight":82.5}`, string(records[0].Data))
}

func TestInvalidPatchRejected(t *testing.T) {
	ts := newTestServer(t)
	resp := doPush(t, ts, "token-alice", model.CollectionDailyLogs, []remote.PushItem{{
		Key: "2026-08-30", DataPatch: json.RawMessage(`[1,2,3]`), LastModified: 1,
	}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var apiErr remote.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	assert.Equal(t, "invalid_patch", apiErr.Code)
}

func TestMissingKeyRejected(t *testing.T) {
	ts := newTestServer(t)
	resp := doPush(t, ts, "token-alice", model.CollectionDailyLogs, []remote.PushItem{{
		DataPatch: json.RawMessage(`{}`), LastModified: 1,
	}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
