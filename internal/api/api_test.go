package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/state"
)

func setupTestServer(t *testing.T, opts ...Option) (*Server, *state.Store) {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "sync-state.json"))
	require.NoError(t, err)
	return NewServer(st, opts...), st
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) models.Snapshot {
	t.Helper()
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	return snap
}

func TestGetState_Empty(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv.Router(), "GET", SyncPath, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	snap := decodeSnapshot(t, w)
	assert.Empty(t, snap.Targets)
	assert.Nil(t, snap.Lock)
}

func TestOptions_AnyPath(t *testing.T) {
	srv, _ := setupTestServer(t, WithToken("secret"))
	for _, path := range []string{SyncPath, "/elsewhere"} {
		w := do(t, srv.Router(), "OPTIONS", path, "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestUnknownPath(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv.Router(), "GET", "/targets", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv.Router(), "DELETE", SyncPath, "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthz_NoAuth(t *testing.T) {
	srv, _ := setupTestServer(t, WithToken("secret"))
	w := do(t, srv.Router(), "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAuth(t *testing.T) {
	srv, st := setupTestServer(t, WithToken("secret"))
	router := srv.Router()
	body := `{"targets":{"id:1":{"displayName":"A"}}}`

	w := do(t, router, "PUT", SyncPath, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, st.Snapshot(false).Targets, "no state change on auth failure")

	w = do(t, router, "PUT", SyncPath, body, "X-Sync-Token", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, router, "PUT", SyncPath, body, "X-Sync-Token", "secret")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", SyncPath, "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPut_BadRequests(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	w := do(t, router, "PUT", SyncPath, "{nope")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "PUT", SyncPath, "[1,2]")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "PUT", SyncPath, `{"unrelated":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPut_BodyTooLarge(t *testing.T) {
	srv, _ := setupTestServer(t, WithMaxBodyBytes(64))
	body := `{"targets":{"name:` + strings.Repeat("x", 128) + `":true}}`
	w := do(t, srv.Router(), "PUT", SyncPath, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestGet_IncludeLogAliases(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()
	obs := `{"activityBatch":[{"subjectKey":"id:1","coordinate":"1:2:3","seenAt":1000}]}`
	require.Equal(t, http.StatusOK, do(t, router, "PUT", SyncPath, obs).Code)

	assert.Nil(t, decodeSnapshot(t, do(t, router, "GET", SyncPath, "")).ActivityLog)
	assert.NotNil(t, decodeSnapshot(t, do(t, router, "GET", SyncPath+"?includeLog=1", "")).ActivityLog)
	assert.NotNil(t, decodeSnapshot(t, do(t, router, "GET", SyncPath+"?includeActivity=true", "")).ActivityLog)
}

func TestPut_LockTokenNeverReturned(t *testing.T) {
	srv, _ := setupTestServer(t)
	w := do(t, srv.Router(), "PUT", SyncPath, `{"lockCommand":{"action":"acquire","ownerId":"h1","token":"t-secret"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "t-secret")
}

func TestEndToEnd(t *testing.T) {
	srv, _ := setupTestServer(t)
	router := srv.Router()

	// Target list round trip.
	w := do(t, router, "PUT", SyncPath, `{"targets":{"id:42":{"displayName":"Foo"}},"updatedAt":1000}`)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeSnapshot(t, do(t, router, "GET", SyncPath, ""))
	assert.Equal(t, models.Targets{"id:42": {DisplayName: "Foo"}}, snap.Targets)
	assert.Equal(t, int64(1000), snap.UpdatedAt)

	// Older observation in the same bucket is ignored.
	w = do(t, router, "PUT", SyncPath, `{"activityBatch":[
		{"subjectKey":"id:42","coordinate":"1:2:3","seenAt":100,"planetActivity":"*"},
		{"subjectKey":"id:42","coordinate":"1:2:3","seenAt":50,"planetActivity":"15"}
	]}`)
	require.Equal(t, http.StatusOK, w.Code)
	snap = decodeSnapshot(t, do(t, router, "GET", SyncPath+"?includeLog=1", ""))
	require.NotNil(t, snap.ActivityLog)
	require.Len(t, snap.ActivityLog.Buckets, 1)
	for _, b := range snap.ActivityLog.Buckets {
		assert.Equal(t, int64(100), b.Entry.SeenAt)
		assert.Equal(t, "*", b.Entry.Planet)
	}

	lock := func(body string) models.LockResult {
		w := do(t, router, "PUT", SyncPath, body)
		require.Equal(t, http.StatusOK, w.Code)
		s := decodeSnapshot(t, w)
		require.NotNil(t, s.LockResult)
		return *s.LockResult
	}

	res := lock(`{"lockCommand":{"action":"acquire","ownerId":"h1","token":"t1","ttlMs":60000}}`)
	assert.True(t, res.OK)
	assert.Equal(t, models.LockGranted, res.Code)

	res = lock(`{"lockCommand":{"action":"acquire","ownerId":"h2","token":"t2","ttlMs":60000}}`)
	assert.False(t, res.OK)
	assert.Equal(t, models.LockOccupied, res.Code)
	require.NotNil(t, res.Lock)
	assert.Equal(t, "h1", res.Lock.OwnerID)

	res = lock(`{"lockCommand":{"action":"release","ownerId":"h1","token":"t1"}}`)
	assert.True(t, res.OK)

	res = lock(`{"lockCommand":{"action":"acquire","ownerId":"h2","token":"t2","ttlMs":60000}}`)
	assert.True(t, res.OK)
	assert.Equal(t, models.LockGranted, res.Code)
}
