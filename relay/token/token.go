package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bynery-main/limonata-notion-clone-sub001/relay/protocol"
)

const (
	DefaultTTL       = 10 * time.Minute
	DefaultNamespace = "*"

	tracerName = "github.com/bynery-main/limonata-notion-clone-sub001/relay/token"
)

// Capability names one operation a token holder may perform.
type Capability string

const (
	Subscribe Capability = "subscribe"
	Publish   Capability = "publish"
	Presence  Capability = "presence"
)

// DefaultCapabilities is granted when a request names none.
var DefaultCapabilities = []Capability{Subscribe, Publish, Presence}

var allowList = map[Capability]bool{
	Subscribe: true,
	Publish:   true,
	Presence:  true,
}

// ParseCapabilities converts raw names into capabilities, rejecting anything
// outside the allow-list.
func ParseCapabilities(names []string) ([]Capability, error) {
	caps := make([]Capability, 0, len(names))
	seen := make(map[Capability]bool, len(names))
	for _, name := range names {
		c := Capability(strings.ToLower(strings.TrimSpace(name)))
		if !allowList[c] {
			return nil, protocol.Errorf(protocol.CodeUnauthorized, "capability %q is not allowed", name)
		}
		if !seen[c] {
			seen[c] = true
			caps = append(caps, c)
		}
	}
	return caps, nil
}

// Request is what a caller asks the issuer for.
type Request struct {
	Capabilities []Capability
	RoomPattern  string
}

// Claims is the signed body of a token. Subject, expiry, issue time and
// token id travel as registered JWT claims.
type Claims struct {
	Capabilities []Capability `json:"cap"`
	RoomPattern  string       `json:"room"`
	jwt.RegisteredClaims
}

// Expiry returns the expiry as a time.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Has reports whether the claims grant capability want.
func (c *Claims) Has(want Capability) bool {
	for _, have := range c.Capabilities {
		if have == want {
			return true
		}
	}
	return false
}

// Allows reports whether the claims grant want on roomID.
func (c *Claims) Allows(want Capability, roomID string) bool {
	return c.Has(want) && MatchRoom(c.RoomPattern, roomID)
}

// Token is a freshly minted token.
type Token struct {
	Value        string       `json:"token"`
	ExpiresAt    time.Time    `json:"expiry"`
	Capabilities []Capability `json:"capabilities"`
	RoomPattern  string       `json:"room"`
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL sets the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithNamespace restricts every token to room patterns inside namespace.
func WithNamespace(namespace string) Option {
	return func(i *Issuer) {
		if namespace != "" {
			i.namespace = namespace
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// Issuer mints and verifies tokens with a shared signing key.
type Issuer struct {
	key       []byte
	ttl       time.Duration
	namespace string
	now       func() time.Time
}

// NewIssuer creates an issuer. An empty key yields an issuer whose every
// operation fails with ErrServiceUnavailable.
func NewIssuer(key []byte, opts ...Option) *Issuer {
	i := &Issuer{
		key:       key,
		ttl:       DefaultTTL,
		namespace: DefaultNamespace,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Namespace returns the room pattern every token is confined to.
func (i *Issuer) Namespace() string { return i.namespace }

// Issue mints a token for clientID.
func (i *Issuer) Issue(ctx context.Context, clientID string, req Request) (*Token, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "token.Issue")
	defer span.End()

	tok, err := i.issue(clientID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(protocol.CodeOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("relay.room_pattern", tok.RoomPattern),
		attribute.Int("relay.capabilities", len(tok.Capabilities)),
	)
	return tok, nil
}

func (i *Issuer) issue(clientID string, req Request) (*Token, error) {
	if len(i.key) == 0 {
		return nil, protocol.Errorf(protocol.CodeServiceUnavailable, "signing key not configured")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, protocol.Errorf(protocol.CodeUnauthorized, "client id is required")
	}

	caps := req.Capabilities
	if len(caps) == 0 {
		caps = DefaultCapabilities
	}
	for _, c := range caps {
		if !allowList[c] {
			return nil, protocol.Errorf(protocol.CodeUnauthorized, "capability %q is not allowed", c)
		}
	}

	pattern := req.RoomPattern
	if pattern == "" {
		pattern = i.namespace
	}
	if !Narrows(i.namespace, pattern) {
		return nil, protocol.Errorf(protocol.CodeUnauthorized, "room pattern %q is outside namespace %q", pattern, i.namespace)
	}

	now := i.now()
	claims := Claims{
		Capabilities: append([]Capability(nil), caps...),
		RoomPattern:  pattern,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Token{
		Value:        value,
		ExpiresAt:    claims.Expiry(),
		Capabilities: claims.Capabilities,
		RoomPattern:  claims.RoomPattern,
	}, nil
}

// Verify checks signature and expiry and returns the claims.
func (i *Issuer) Verify(value string) (*Claims, error) {
	if len(i.key) == 0 {
		return nil, protocol.Errorf(protocol.CodeServiceUnavailable, "signing key not configured")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(value, &claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, protocol.Errorf(protocol.CodeAuthFailed, "token expired")
	case err != nil:
		return nil, protocol.Errorf(protocol.CodeAuthFailed, "invalid token: %v", err)
	}
	if claims.Subject == "" {
		return nil, protocol.Errorf(protocol.CodeAuthFailed, "token has no subject")
	}

	return &claims, nil
}
