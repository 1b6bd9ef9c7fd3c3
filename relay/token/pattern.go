package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// patternMeta holds the characters that make a room pattern a glob.
const patternMeta = `*?[]{}\`

// ValidPattern reports whether pattern compiles as a room pattern.
func ValidPattern(pattern string) error {
	if pattern == "" {
		return errors.New("empty room pattern")
	}
	if _, err := glob.Compile(pattern); err != nil {
		return fmt.Errorf("room pattern %q: %w", pattern, err)
	}
	return nil
}

// MatchRoom reports whether roomID matches pattern. Room ids are opaque, so
// "*" spans any run of characters, "/" included.
func MatchRoom(pattern, roomID string) bool {
	g, err := glob.Compile(pattern)
	if err != nil {
		return false
	}
	return g.Match(roomID)
}

// Narrows reports whether every room admitted by pattern is also admitted by
// namespace. A pattern is accepted when it equals the namespace, is a literal
// room id the namespace matches, or is a literal prefix followed by "*" that
// extends the literal prefix of a namespace ending in "*".
func Narrows(namespace, pattern string) bool {
	if ValidPattern(namespace) != nil || ValidPattern(pattern) != nil {
		return false
	}
	if pattern == namespace {
		return true
	}
	if isLiteral(pattern) {
		return MatchRoom(namespace, pattern)
	}

	prefix, ok := strings.CutSuffix(pattern, "*")
	if !ok || !isLiteral(prefix) {
		return false
	}
	nsPrefix, ok := strings.CutSuffix(namespace, "*")
	return ok && isLiteral(nsPrefix) && strings.HasPrefix(prefix, nsPrefix)
}

func isLiteral(s string) bool {
	return !strings.ContainsAny(s, patternMeta)
}
