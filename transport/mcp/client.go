package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/service"
	"github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
)

const (
	ServerName    = "Collaboration Relay"
	ServerVersion = "1.0.0"
)

// Client is a thin MCP client that proxies to the relay's REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API at baseURL
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Collaboration Relay - admin MCP interface

This is a thin client that proxies all requests to the relay's REST API.
The relay forwards document edits and cursor positions between browser
sessions joined to the same room. It stores nothing.

AVAILABLE TOOLS:
- list_rooms: List live rooms and their member counts
- room_members: Show who is in a room, with profiles and last cursor positions
- relay_stats: Room, member and connection counts plus uptime
- issue_token: Mint a short-lived handshake token for a client id

Rooms exist only while they have members; an empty room disappears.`),
	)

	c.registerTools()
}

func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List live rooms with member counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListRooms)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "room_members",
		Description: "List the members of a room in join order",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": map[string]interface{}{
					"type":        "string",
					"description": "Room ID, e.g. doc-1",
				},
			},
			Required: []string{"room_id"},
		},
	}, c.handleRoomMembers)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "relay_stats",
		Description: "Get room, member and connection counts",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleRelayStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "issue_token",
		Description: "Mint a handshake token for a client id",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"client_id": map[string]interface{}{
					"type":        "string",
					"description": "Identity the token is issued to",
				},
				"capabilities": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string", "enum": []string{"subscribe", "publish", "presence"}},
					"description": "Capabilities to grant (default: all)",
				},
				"room": map[string]interface{}{
					"type":        "string",
					"description": "Room pattern the token is scoped to, e.g. doc-* (optional)",
				},
			},
			Required: []string{"client_id"},
		},
	}, c.handleIssueToken)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// Tool handlers

func (c *Client) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count int                    `json:"count"`
		Rooms []*service.RoomSummary `json:"rooms"`
	}

	if err := c.apiCall(ctx, http.MethodGet, "/api/rooms", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRooms(response.Rooms)), nil
}

func (c *Client) handleRoomMembers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	roomID, _ := args["room_id"].(string)
	if roomID == "" {
		return mcp.NewToolResultError("room_id is required"), nil
	}

	var room service.RoomDetail
	if err := c.apiCall(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &room); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoom(&room)), nil
}

func (c *Client) handleRelayStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats service.Stats
	if err := c.apiCall(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStats(&stats)), nil
}

func (c *Client) handleIssueToken(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	clientID, _ := args["client_id"].(string)
	room, _ := args["room"].(string)
	capsRaw, _ := args["capabilities"].([]interface{})

	if clientID == "" {
		return mcp.NewToolResultError("client_id is required"), nil
	}

	query := url.Values{}
	query.Set("clientId", clientID)
	for _, raw := range capsRaw {
		if s, ok := raw.(string); ok && s != "" {
			query.Add("capability", s)
		}
	}
	if room != "" {
		query.Set("room", room)
	}

	var tok token.Token
	if err := c.apiCall(ctx, http.MethodGet, "/token?"+query.Encode(), nil, &tok); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatToken(clientID, &tok)), nil
}

// Formatting helpers

func formatRooms(rooms []*service.RoomSummary) string {
	if len(rooms) == 0 {
		return "No live rooms.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Live Rooms (%d):\n\n", len(rooms))
	for _, r := range rooms {
		fmt.Fprintf(&b, "- %s (%d members, since %s)\n", r.ID, r.Members, r.CreatedAt.Format("15:04:05"))
	}
	return b.String()
}

func formatRoom(room *service.RoomDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Room %s (%d members)\n\n", room.ID, len(room.Members))
	for i, m := range room.Members {
		fmt.Fprintf(&b, "%d. %s [%s] joined %s\n", i+1, m.Identity, m.ConnID, m.JoinedAt.Format("15:04:05"))
		if len(m.Profile) > 0 {
			fmt.Fprintf(&b, "   profile: %s\n", m.Profile)
		}
		if len(m.Cursor) > 0 {
			fmt.Fprintf(&b, "   cursor: %s\n", m.Cursor)
		}
	}
	return b.String()
}

func formatStats(stats *service.Stats) string {
	return fmt.Sprintf("Rooms: %d\nMembers: %d\nConnections: %d\nUptime: %s\n",
		stats.Rooms, stats.Members, stats.Connections, stats.Uptime)
}

func formatToken(clientID string, tok *token.Token) string {
	caps := make([]string, len(tok.Capabilities))
	for i, c := range tok.Capabilities {
		caps[i] = string(c)
	}
	return fmt.Sprintf("Token for %s\nCapabilities: %s\nRooms: %s\nExpires: %s\n\n%s\n",
		clientID, strings.Join(caps, ", "), tok.RoomPattern, tok.ExpiresAt.Format(time.RFC3339), tok.Value)
}
