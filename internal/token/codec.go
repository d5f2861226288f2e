// Package token signs and parses the HS256 bearer tokens handed out at login.
//
// The codec is pure: it checks the signature and the structure of a token and
// nothing else. Expiry, revocation and password-change staleness are judged by
// the caller against its own clock and state.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"idea-server/internal/model"
)

// MinSecretBytes is the shortest accepted HMAC key (256 bits).
const MinSecretBytes = 32

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// ConfigError reports a codec that must not be constructed. It is a startup
// failure, never a per-request one.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "token codec configuration: " + e.Reason
}

type tokenClaims struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Codec struct {
	secret []byte
	ttl    time.Duration
	parser *jwt.Parser
}

func NewCodec(secret []byte, ttl time.Duration) (*Codec, error) {
	if len(secret) < MinSecretBytes {
		return nil, &ConfigError{Reason: fmt.Sprintf("secret must be at least %d bytes, got %d", MinSecretBytes, len(secret))}
	}
	if ttl <= 0 {
		return nil, &ConfigError{Reason: "token ttl must be positive"}
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &Codec{
		secret: key,
		ttl:    ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for p. Timestamps are carried at second precision, so
// now is truncated first and the returned claims match what Decode yields.
func (c *Codec) Issue(p model.Principal, now time.Time) (string, model.Claims, error) {
	issuedAt := now.UTC().Truncate(time.Second)
	claims := model.Claims{
		Subject:   p.Username,
		ID:        p.ID,
		Role:      p.Role,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(c.ttl).Truncate(time.Second),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		ID:   p.ID,
		Role: string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}).SignedString(c.secret)
	if err != nil {
		return "", model.Claims{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, claims, nil
}

// Decode verifies the signature of raw and returns its claims. The returned
// error wraps either ErrInvalidSignature or ErrMalformedToken.
func (c *Codec) Decode(raw string) (model.Claims, error) {
	if raw == "" {
		return model.Claims{}, ErrMalformedToken
	}

	parsed := &tokenClaims{}
	_, err := c.parser.ParseWithClaims(raw, parsed, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
			return model.Claims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return model.Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	role, ok := model.ParseRole(parsed.Role)
	switch {
	case parsed.Subject == "":
		return model.Claims{}, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	case parsed.IssuedAt == nil || parsed.ExpiresAt == nil:
		return model.Claims{}, fmt.Errorf("%w: missing iat or exp", ErrMalformedToken)
	case !ok:
		return model.Claims{}, fmt.Errorf("%w: unknown role %s", ErrMalformedToken, strconv.Quote(parsed.Role))
	}

	return model.Claims{
		Subject:   parsed.Subject,
		ID:        parsed.ID,
		Role:      role,
		IssuedAt:  parsed.IssuedAt.Time.UTC(),
		ExpiresAt: parsed.ExpiresAt.Time.UTC(),
	}, nil
}
