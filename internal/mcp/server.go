package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/scoutsync/internal/agent"
	"github.com/joescharf/scoutsync/internal/models"
)

// Controller is the host-side surface the tools drive. *agent.Host
// implements it.
type Controller interface {
	Targets(ctx context.Context) (models.Targets, error)
	AddTarget(ctx context.Context, key, displayName string) error
	RemoveTarget(ctx context.Context, key string) (bool, error)
	FlushTargets() bool
	SendScan(ctx context.Context, continuous bool) (*models.ControlCommand, error)
	SendStop(ctx context.Context) (*models.ControlCommand, error)
	AcquireLock(ctx context.Context, force bool) (models.LockResult, error)
	HeartbeatLock(ctx context.Context) (models.LockResult, error)
	ReleaseLock(ctx context.Context) (models.LockResult, error)
	LastLockResult() (models.LockResult, bool)
}

// StateReader fetches the relay snapshot. *client.Client implements it.
type StateReader interface {
	State(ctx context.Context, includeLog bool) (*models.Snapshot, error)
}

// Server exposes the host role as MCP tools.
type Server struct {
	host    Controller
	state   StateReader
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(host Controller, state StateReader, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{host: host, state: state, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("scoutsync", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.stateTool())
	srv.AddTool(s.listTargetsTool())
	srv.AddTool(s.addTargetTool())
	srv.AddTool(s.removeTargetTool())
	srv.AddTool(s.sendScanTool())
	srv.AddTool(s.sendStopTool())
	srv.AddTool(s.lockTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// sync_state
func (s *Server) stateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sync_state",
		mcp.WithDescription("Fetch the relay snapshot: targets, current control command, edit lock holder, activity summary and shared coordinates."),
		mcp.WithBoolean("include_log", mcp.Description("Include the full activity log (per-bucket entries)")),
	)
	return tool, s.handleState
}

func (s *Server) handleState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.state.State(ctx, request.GetBool("include_log", false))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch state: %v", err)), nil
	}
	return jsonResult(snap)
}

// sync_list_targets
func (s *Server) listTargetsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sync_list_targets",
		mcp.WithDescription("List the host's local target list as a JSON object keyed by target key (id:<n> or name:<display name>)."),
	)
	return tool, s.handleListTargets
}

func (s *Server) handleListTargets(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	targets, err := s.host.Targets(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load targets: %v", err)), nil
	}
	return jsonResult(targets)
}

// sync_add_target
func (s *Server) addTargetTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sync_add_target",
		mcp.WithDescription("Add or rename a target and push the list to the relay. Provide either a numeric id or a name."),
		mcp.WithNumber("id", mcp.Description("Numeric subject id; takes precedence over name for the key")),
		mcp.WithString("name", mcp.Description("Display name; used for the key when no id is given")),
	)
	return tool, s.handleAddTarget
}

func (s *Server) handleAddTarget(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(request.GetFloat("id", 0))
	name := strings.TrimSpace(request.GetString("name", ""))
	if id <= 0 && name == "" {
		return mcp.NewToolResultError("provide an id or a name"), nil
	}
	key := models.TargetKey(id, name)
	if err := s.host.AddTarget(ctx, key, name); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add target: %v", err)), nil
	}
	s.host.FlushTargets()
	return mcp.NewToolResultText(fmt.Sprintf("target %s added", key)), nil
}

// sync_remove_target
func (s *Server) removeTargetTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sync_remove_target",
		mcp.WithDescription("Remove a target by key and push the list to the relay."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Target key, e.g. id:42 or name:Foo")),
	)
	return tool, s.handleRemoveTarget
}

func (s *Server) handleRemoveTarget(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: key"), nil
	}
	removed, err := s.host.RemoveTarget(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to remove target: %v", err)), nil
	}
	if !removed {
		return mcp.NewToolResultError(fmt.Sprintf("target not found: %s", key)), nil
	}
	s.host.FlushTargets()
	return mcp.NewToolResultText(fmt.Sprintf("target %s removed", key)), nil
}

// sync_send_scan
func (s *Server) sendScanTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sync_send_scan",
		mcp.WithDescription("Send a start command to the slaves. The queue is built from the shared coordinates of every target."),
		mcp.WithBoolean("continuous", mcp.Description("Repeat the scan after the repeat interval until stopped")),
	)
	return tool, s.handleSendScan
}

func (s *Server) handleSendScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmd, err := s.host.SendScan(ctx, request.GetBool("continuous", false))
	switch {
	case errors.Is(err, agent.ErrNoTargets), errors.Is(err, agent.ErrNoCoordinates):
		return mcp.NewToolResultError(err.Error()), nil
	case err != nil:
		return mcp.NewToolResultError(fmt.Sprintf("failed to send scan: %v", err)), nil
	}
	return jsonResult(cmd)
}

// sync_send_stop
func (s *Server) sendStopTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sync_send_stop",
		mcp.WithDescription("Send a stop command: slaves abort the current scan and any pending repeat."),
	)
	return tool, s.handleSendStop
}

func (s *Server) handleSendStop(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cmd, err := s.host.SendStop(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to send stop: %v", err)), nil
	}
	return jsonResult(cmd)
}

// sync_lock
func (s *Server) lockTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sync_lock",
		mcp.WithDescription("Acquire, heartbeat or release the shared edit lock for this host, or show the last lock result."),
		mcp.WithString("action", mcp.Required(), mcp.Description("acquire, heartbeat, release, or last")),
		mcp.WithBoolean("force", mcp.Description("Take the lock over from another live holder (acquire only)")),
	)
	return tool, s.handleLock
}

func (s *Server) handleLock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := request.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: action"), nil
	}

	var res models.LockResult
	switch models.LockAction(strings.ToLower(action)) {
	case models.LockAcquire:
		res, err = s.host.AcquireLock(ctx, request.GetBool("force", false))
	case models.LockHeartbeat:
		res, err = s.host.HeartbeatLock(ctx)
	case models.LockRelease:
		res, err = s.host.ReleaseLock(ctx)
	case "last":
		last, ok := s.host.LastLockResult()
		if !ok {
			return mcp.NewToolResultError("no lock command sent yet"), nil
		}
		return jsonResult(last)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown lock action: %s", action)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lock %s failed: %v", action, err)), nil
	}
	if !res.OK {
		data, _ := json.Marshal(res)
		return mcp.NewToolResultError(string(data)), nil
	}
	return jsonResult(res)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
