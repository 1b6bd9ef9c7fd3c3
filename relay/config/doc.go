// Package config loads the relay's runtime configuration from the environment.
//
// Every setting is an RELAY_* environment variable (NGROK_* for the optional
// development tunnel), parsed with caarlos0/env. The CLI loads a .env file
// first, so local development can keep secrets out of the shell history.
//
// Settings:
//   - RELAY_HOST, RELAY_PORT: listener address (default localhost:8080)
//   - RELAY_TLS_CERT_FILE, RELAY_TLS_KEY_FILE: serve TLS when both are set
//   - RELAY_SIGNING_KEY: HS256 key for capability tokens (32+ bytes)
//   - RELAY_TOKEN_TTL: token lifetime (default 10m)
//   - RELAY_ROOM_NAMESPACE: room pattern every token is confined to (default "*")
//   - RELAY_IDLE_TIMEOUT: close connections silent for this long (default 30s)
//   - RELAY_AUTH_TIMEOUT: time allowed for the authenticate frame (default 10s)
//   - RELAY_QUEUE_CAPACITY: per-connection outbound queue size (default 256)
//   - RELAY_MAX_MESSAGE_BYTES: largest inbound frame accepted (default 64 KiB)
//   - RELAY_ALLOWED_ORIGINS: comma-separated browser origins allowed to connect
//     and to read token responses; empty allows same-origin requests only
//   - RELAY_LOG_FORMAT: "json" (default) or "text"
//   - RELAY_DEBUG: enable debug logging
//
// Validation:
//
// Validate reports every problem at once so an operator can fix a broken
// deployment in one pass.
package config
