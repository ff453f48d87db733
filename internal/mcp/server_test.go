package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scoutsync/internal/agent"
	"github.com/joescharf/scoutsync/internal/api"
	"github.com/joescharf/scoutsync/internal/client"
	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/state"
)

// ---------------------------------------------------------------------------
// Test fixtures
// ---------------------------------------------------------------------------

type memStore struct {
	mu      sync.Mutex
	targets models.Targets
	values  map[string]string
}

func newMemStore() *memStore {
	return &memStore{targets: models.Targets{}, values: map[string]string{}}
}

func (m *memStore) LoadTargets(context.Context) (models.Targets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.targets.Clone(), nil
}

func (m *memStore) SaveTargets(_ context.Context, t models.Targets) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = t.Clone()
	return nil
}

func (m *memStore) GetValue(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memStore) SetValue(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type fixture struct {
	client *client.Client
	server *Server
	host   *agent.Host
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setup starts a relay and returns a host-backed MCP server talking to it.
func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := state.Open("")
	require.NoError(t, err)
	ts := httptest.NewServer(api.NewServer(st, api.WithToken("secret"), api.WithLogger(quietLogger())).Router())
	t.Cleanup(ts.Close)

	c, err := client.New(ts.URL, "secret")
	require.NoError(t, err)

	return &fixture{client: c, server: newHostServer(t, c, "host-1")}
}

func newHostServer(t *testing.T, c *client.Client, id string) *Server {
	t.Helper()
	h := agent.NewHost(agent.Config{AgentID: id, PushDebounce: time.Hour}, c, newMemStore(),
		agent.WithHostLogger(quietLogger()))
	t.Cleanup(h.Stop)
	return NewServer(h, c, "test")
}

func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMCPIntegration_ListTools(t *testing.T) {
	f := setup(t)
	mcpSrv := f.server.MCPServer()
	require.NotNil(t, mcpSrv)

	respMsg := mcpSrv.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	require.NotNil(t, respMsg)
	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpcResp))

	toolNames := make(map[string]bool)
	for _, tool := range rpcResp.Result.Tools {
		toolNames[tool.Name] = true
	}
	for _, name := range []string{
		"sync_state", "sync_list_targets", "sync_add_target", "sync_remove_target",
		"sync_send_scan", "sync_send_stop", "sync_lock",
	} {
		assert.True(t, toolNames[name], "expected tool %q to be registered", name)
	}
}

func TestMCPIntegration_CallTool(t *testing.T) {
	f := setup(t)
	mcpSrv := f.server.MCPServer()

	respMsg := mcpSrv.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"sync_add_target","arguments":{"name":"Delta"}}}`))
	respBytes, err := json.Marshal(respMsg)
	require.NoError(t, err)
	assert.Contains(t, string(respBytes), "name:Delta")

	snap, err := f.client.State(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, snap.Targets, "name:Delta")
}

func TestAddTarget_PushesToRelay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	result, err := f.server.handleAddTarget(ctx, callToolReq("sync_add_target", map[string]any{
		"id":   float64(42),
		"name": "Alpha",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "id:42")

	snap, err := f.client.State(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, models.Targets{"id:42": {DisplayName: "Alpha"}}, snap.Targets)

	result, err = f.server.handleListTargets(ctx, callToolReq("sync_list_targets", nil))
	require.NoError(t, err)
	var targets models.Targets
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &targets))
	assert.Contains(t, targets, "id:42")
}

func TestAddTarget_ByName(t *testing.T) {
	f := setup(t)
	result, err := f.server.handleAddTarget(context.Background(), callToolReq("sync_add_target", map[string]any{
		"name": "Bravo",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "name:Bravo")
}

func TestAddTarget_RequiresIDOrName(t *testing.T) {
	f := setup(t)
	result, err := f.server.handleAddTarget(context.Background(), callToolReq("sync_add_target", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRemoveTarget(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.server.handleAddTarget(ctx, callToolReq("sync_add_target", map[string]any{"id": float64(7)}))
	require.NoError(t, err)

	result, err := f.server.handleRemoveTarget(ctx, callToolReq("sync_remove_target", map[string]any{"key": "id:7"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	snap, err := f.client.State(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, snap.Targets)

	result, err = f.server.handleRemoveTarget(ctx, callToolReq("sync_remove_target", map[string]any{"key": "id:7"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")

	result, err = f.server.handleRemoveTarget(ctx, callToolReq("sync_remove_target", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSendScan(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	result, err := f.server.handleSendScan(ctx, callToolReq("sync_send_scan", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError, "no targets yet")

	_, err = f.server.handleAddTarget(ctx, callToolReq("sync_add_target", map[string]any{"id": float64(1)}))
	require.NoError(t, err)

	result, err = f.server.handleSendScan(ctx, callToolReq("sync_send_scan", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError, "no coordinates yet")

	_, err = f.client.Push(ctx, &models.PutRequest{CoordsBatch: models.SharedCoords{
		"id:1": {"1:10:3", "1:2:3"},
	}})
	require.NoError(t, err)

	result, err = f.server.handleSendScan(ctx, callToolReq("sync_send_scan", map[string]any{"continuous": true}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var cmd models.ControlCommand
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &cmd))
	assert.Equal(t, models.ControlStart, cmd.Action)
	assert.True(t, cmd.Continuous)
	assert.Equal(t, []string{"1:2:3", "1:10:3"}, cmd.Queue)

	result, err = f.server.handleState(ctx, callToolReq("sync_state", nil))
	require.NoError(t, err)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &snap))
	require.NotNil(t, snap.Control)
	assert.Equal(t, cmd.CommandID, snap.Control.CommandID)
}

func TestSendStop(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	result, err := f.server.handleSendStop(ctx, callToolReq("sync_send_stop", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	snap, err := f.client.State(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, snap.Control)
	assert.Equal(t, models.ControlStop, snap.Control.Action)
	assert.Empty(t, snap.Control.Queue)
}

func TestLock_Lifecycle(t *testing.T) {
	f := setup(t)
	other := newHostServer(t, f.client, "host-2")
	ctx := context.Background()

	result, err := f.server.handleLock(ctx, callToolReq("sync_lock", map[string]any{"action": "acquire"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), `"code":"granted"`)

	result, err = other.handleLock(ctx, callToolReq("sync_lock", map[string]any{"action": "acquire"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"code":"occupied"`)

	result, err = f.server.handleLock(ctx, callToolReq("sync_lock", map[string]any{"action": "heartbeat"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"code":"renewed"`)

	result, err = other.handleLock(ctx, callToolReq("sync_lock", map[string]any{"action": "acquire", "force": true}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), `"code":"takeover"`)

	result, err = other.handleLock(ctx, callToolReq("sync_lock", map[string]any{"action": "release"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"code":"released"`)

	result, err = f.server.handleLock(ctx, callToolReq("sync_lock", map[string]any{"action": "last"}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), `"code":"renewed"`)

	snap, err := f.client.State(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, snap.Lock)
}

func TestLock_Errors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	result, err := f.server.handleLock(ctx, callToolReq("sync_lock", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = f.server.handleLock(ctx, callToolReq("sync_lock", map[string]any{"action": "last"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no lock command sent yet")

	result, err = f.server.handleLock(ctx, callToolReq("sync_lock", map[string]any{"action": "steal"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unknown lock action")

	result, err = f.server.handleLock(ctx, callToolReq("sync_lock", map[string]any{"action": "release"}))
	require.NoError(t, err)
	assert.True(t, result.IsError, "release without holding the lock")
}

func TestState_IncludeLog(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.client.Push(ctx, &models.PutRequest{ActivityBatch: []models.Observation{{
		SubjectKey:      "id:1",
		SubjectName:     "Alpha",
		Coordinate:      "1:2:3",
		SeenAt:          1_700_000_000_000,
		BucketTimestamp: 1_700_000_000_000,
		PlanetActivity:  models.ActivityActive,
		MoonActivity:    models.ActivityUnknown,
		DebrisPresent:   models.DebrisNo,
	}}})
	require.NoError(t, err)

	result, err := f.server.handleState(ctx, callToolReq("sync_state", nil))
	require.NoError(t, err)
	assert.NotContains(t, resultText(t, result), "activityLog")

	result, err = f.server.handleState(ctx, callToolReq("sync_state", map[string]any{"include_log": true}))
	require.NoError(t, err)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &snap))
	require.NotNil(t, snap.ActivityLog)
	assert.Len(t, snap.ActivityLog.Buckets, 1)
	assert.Equal(t, 1, snap.ActivitySummary.BucketCount)
}

// Compile-time interface checks.
var (
	_ Controller  = (*agent.Host)(nil)
	_ StateReader = (*client.Client)(nil)
)
