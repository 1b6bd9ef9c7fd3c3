// Package service is the read-mostly façade the HTTP API and the admin MCP
// tools share.
//
// RelayService answers "what is live right now" questions about rooms,
// members and connections, and mints tokens on behalf of the token endpoint.
// It never mutates room state; membership changes only come from the
// connection gateway.
//
// Usage:
//
//	svc := service.NewRelayService(issuer, gw.Registry(), gw.Presence(), gw,
//		service.WithMetrics(m))
//
//	rooms, err := svc.ListRooms(ctx)
//	room, err := svc.GetRoom(ctx, "doc-1")
package service
