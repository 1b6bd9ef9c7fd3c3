// Package api provides the relay's HTTP surface.
//
// Endpoints:
//
// Tokens:
//   - GET /token?clientId=<id>[&capability=subscribe,publish][&room=doc-*]
//     Mints a short-lived handshake token. Access-Control-Allow-Origin is
//     echoed only for configured origins and responses are never cached.
//
// Realtime:
//   - GET /ws - WebSocket upgrade handled by the connection gateway
//
// Introspection:
//   - GET /api/rooms - List live rooms
//   - GET /api/rooms/{id} - Members of one room with presence
//   - GET /api/stats - Room, member and connection counts
//
// Operations:
//   - GET /healthz - Liveness
//   - GET /metrics - Prometheus metrics
//   - POST /mcp - MCP JSON-RPC for the admin tools
//
// Usage:
//
//	gw := websocket.Start(wsConfig, issuer)
//	svc := service.NewRelayService(issuer, gw.Registry(), gw.Presence(), gw)
//	srv := api.NewServer(svc, gw, api.WithAllowedOrigin(cfg.OriginAllowed))
//	http.ListenAndServe(":8080", srv)
//
// Error Handling:
//
// Errors are returned as JSON with an HTTP status derived from the relay
// error code:
//
//	{
//	  "error": "Unauthorized: client id is required",
//	  "code": "Unauthorized"
//	}
//
// Unauthorized maps to 401, Forbidden to 403, BadRequest to 400 and
// ServiceUnavailable to 503.
//
// Every routed request runs inside an OpenTelemetry server span named
// after its route template.
package api
