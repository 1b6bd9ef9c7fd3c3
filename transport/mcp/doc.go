// Package mcp exposes relay administration as Model Context Protocol tools.
//
// The Client is a thin proxy: every tool call becomes a request against the
// relay's REST API, so the same tools work from the stdio transport and the
// server's /mcp endpoint.
//
// MCP Tools:
//   - list_rooms: live rooms with member counts
//   - room_members: members of one room with profiles and cursors
//   - relay_stats: room, member and connection counts
//   - issue_token: mint a handshake token for a client id
//
// Usage:
//
//	// Stdio mode
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
//
//	// HTTP mode
//	response := client.GetMCPServer().HandleMessage(ctx, body)
package mcp
