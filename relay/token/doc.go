// Package token mints and verifies short-lived capability tokens.
//
// A token binds a verified client identity to a set of capabilities
// (subscribe, publish, presence) on a room-id pattern, and expires after a
// minutes-scale TTL. Tokens are HS256 JWTs, so the websocket gateway can
// verify them locally without calling back into the issuer. Nothing is
// stored: issuing is a pure mint and verifying is a pure check.
//
// Custom claims "cap" and "room" carry the capabilities and room pattern;
// subject, expiry and id use the registered claims.
//
// Room patterns are globs over the whole room id, so "notes:*" admits
// "notes:doc-1" and "notes:team/doc-1". A requested pattern must narrow the
// issuer's namespace (see Narrows).
package token
