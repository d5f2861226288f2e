package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"idea-server/internal/metrics"
	"idea-server/internal/model"
	"idea-server/internal/token"
)

type tokenDecoder interface {
	Decode(raw string) (model.Claims, error)
}

type revocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type credentialLookup interface {
	FindByUsername(ctx context.Context, username string) (model.User, error)
}

type contextKey string

const principalContextKey contextKey = "auth_principal"

var (
	errUnknownUser = errors.New("token subject does not match a stored account")
	errLookup      = errors.New("credential lookup failed")
)

// AuthMiddleware is the authentication gate. Authenticate never rejects a
// request: it either attaches a Principal or lets the request through
// anonymously, and RequireAuth / RequireRoles decide on access.
type AuthMiddleware struct {
	decoder tokenDecoder
	revoked revocationChecker
	users   credentialLookup
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewAuthMiddleware(decoder tokenDecoder, revoked revocationChecker, users credentialLookup, m *metrics.Metrics) *AuthMiddleware {
	return &AuthMiddleware{
		decoder: decoder,
		revoked: revoked,
		users:   users,
		metrics: m,
		now:     time.Now,
	}
}

func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := BearerToken(r)
		if !ok {
			m.metrics.RecordGate(metrics.OutcomeAnonymous)
			next.ServeHTTP(w, r)
			return
		}

		principal, err := m.Resolve(r.Context(), raw)
		if err != nil {
			outcome := outcomeFor(err)
			m.metrics.RecordGate(outcome)
			level := slog.LevelDebug
			if outcome == metrics.OutcomeLookupError {
				level = slog.LevelWarn
			}
			slog.Log(r.Context(), level, "bearer token not accepted", "reason", outcome, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		m.metrics.RecordGate(metrics.OutcomeIdentified)
		annotateRequest(r.Context(), principal.Username)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Resolve runs the token checks in order and stops at the first failure:
// signature and structure, expiry, revocation, then staleness against the
// account's last password change.
func (m *AuthMiddleware) Resolve(ctx context.Context, raw string) (model.Principal, error) {
	claims, err := m.decoder.Decode(raw)
	if err != nil {
		return model.Principal{}, err
	}

	if !claims.ExpiresAt.After(m.now()) {
		return model.Principal{}, model.ErrTokenExpired
	}

	revoked, err := m.revoked.IsRevoked(ctx, raw)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", errLookup, err)
	}
	if revoked {
		return model.Principal{}, model.ErrTokenRevoked
	}

	user, err := m.users.FindByUsername(ctx, claims.Subject)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.Principal{}, errUnknownUser
	}
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", errLookup, err)
	}
	if user.ID != claims.ID {
		return model.Principal{}, errUnknownUser
	}

	if user.PasswordChangedAt != nil && user.PasswordChangedAt.After(claims.IssuedAt) {
		return model.Principal{}, model.ErrTokenStale
	}

	return model.Principal{
		ID:       claims.ID,
		Username: claims.Subject,
		Role:     user.Role,
		Enabled:  user.Enabled,
	}, nil
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		if !principal.Enabled {
			writeJSONError(w, http.StatusForbidden, "ACCOUNT_DISABLED", "account is disabled")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRoles must run after RequireAuth.
func (m *AuthMiddleware) RequireRoles(allowed ...model.Role) func(http.Handler) http.Handler {
	roleSet := make(map[model.Role]struct{}, len(allowed))
	for _, role := range allowed {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}

			if _, exists := roleSet[principal.Role]; !exists {
				writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the credential from "Authorization: Bearer <token>".
// A missing header, another scheme or an empty token all mean no token.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return "", false
	}

	raw := strings.TrimSpace(header[len("bearer "):])
	if raw == "" {
		return "", false
	}

	return raw, true
}

func WithPrincipal(ctx context.Context, principal model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

func PrincipalFromContext(ctx context.Context) (model.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(model.Principal)
	return principal, ok
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, token.ErrInvalidSignature):
		return metrics.OutcomeInvalidSignature
	case errors.Is(err, token.ErrMalformedToken):
		return metrics.OutcomeMalformed
	case errors.Is(err, model.ErrTokenExpired):
		return metrics.OutcomeExpired
	case errors.Is(err, model.ErrTokenRevoked):
		return metrics.OutcomeRevoked
	case errors.Is(err, model.ErrTokenStale):
		return metrics.OutcomeStale
	case errors.Is(err, errUnknownUser):
		return metrics.OutcomeUnknownUser
	default:
		return metrics.OutcomeLookupError
	}
}
