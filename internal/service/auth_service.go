package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"idea-server/internal/metrics"
	"idea-server/internal/model"
	"idea-server/internal/revocation"
	"idea-server/internal/token"
)

type credentialStore interface {
	FindByUsername(ctx context.Context, username string) (model.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, u model.User) (model.User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string, changedAt time.Time) error
	SetEnabled(ctx context.Context, username string, enabled bool) (model.User, error)
	UpdateProfile(ctx context.Context, username string, email *string, avatar *string) (model.User, error)
}

type passwordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain string, hash string) bool
}

type AuthService struct {
	users   credentialStore
	hasher  passwordHasher
	codec   *token.Codec
	revoked revocation.Store
	metrics *metrics.Metrics
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(users credentialStore, hasher passwordHasher, codec *token.Codec, revoked revocation.Store, m *metrics.Metrics) *AuthService {
	return &AuthService{
		users:   users,
		hasher:  hasher,
		codec:   codec,
		revoked: revoked,
		metrics: m,
		now:     time.Now,
	}
}

// Login checks the password before the enabled flag so that a caller without
// the password learns nothing about the account's status.
func (s *AuthService) Login(ctx context.Context, username string, password string) (model.LoginResult, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, model.ErrUserNotFound) {
		// Pay for one compare so unknown names answer as slowly as known ones.
		s.hasher.Verify(password, s.unknownUserHash())
		s.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		return model.LoginResult{}, model.ErrInvalidCredentials
	}
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginError)
		return model.LoginResult{}, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		return model.LoginResult{}, model.ErrInvalidCredentials
	}

	if !user.Enabled {
		s.metrics.RecordLogin(metrics.LoginDisabled)
		return model.LoginResult{}, model.ErrAccountDisabled
	}

	principal := model.PrincipalFromUser(user)
	signed, _, err := s.codec.Issue(principal, s.now())
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginError)
		return model.LoginResult{}, err
	}

	s.metrics.RecordLogin(metrics.LoginSuccess)
	slog.Info("user logged in", "user_id", user.ID, "username", user.Username)

	return model.LoginResult{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresIn: int64(s.codec.TTL() / time.Second),
		User:      model.AuthUser{ID: principal.ID, Username: principal.Username, Role: principal.Role},
	}, nil
}

// Logout revokes rawToken until its natural expiry. A token that does not
// decode is already unusable, so it is accepted without revoking anything.
func (s *AuthService) Logout(ctx context.Context, rawToken string) error {
	s.metrics.RecordLogout()

	rawToken = strings.TrimSpace(rawToken)
	claims, err := s.codec.Decode(rawToken)
	if err != nil {
		slog.Debug("logout with undecodable token", "error", err)
		return nil
	}

	if err := s.revoked.Revoke(ctx, rawToken, claims.ExpiresAt); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	return nil
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.RegisteredUser, error) {
	username := strings.TrimSpace(req.Username)

	exists, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return model.RegisteredUser{}, err
	}
	if exists {
		return model.RegisteredUser{}, fmt.Errorf("%w: %s", model.ErrUserAlreadyExists, username)
	}

	user, err := s.createUser(ctx, username, req.Password, strings.TrimSpace(req.Email), model.RoleUser)
	if err != nil {
		return model.RegisteredUser{}, err
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)
	return model.RegisteredUser{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *AuthService) Profile(ctx context.Context, principal model.Principal) (model.UserProfile, error) {
	user, err := s.users.FindByUsername(ctx, principal.Username)
	if err != nil {
		return model.UserProfile{}, err
	}
	return model.ProfileFromUser(user), nil
}

// UpdateProfile changes only the fields that are non-nil.
func (s *AuthService) UpdateProfile(ctx context.Context, principal model.Principal, email *string, avatar *string) (model.UserProfile, error) {
	if email != nil {
		trimmed := strings.TrimSpace(*email)
		email = &trimmed
	}
	if avatar != nil {
		trimmed := strings.TrimSpace(*avatar)
		avatar = &trimmed
	}

	user, err := s.users.UpdateProfile(ctx, principal.Username, email, avatar)
	if err != nil {
		return model.UserProfile{}, err
	}

	slog.Info("profile updated", "user_id", user.ID, "username", user.Username)
	return model.ProfileFromUser(user), nil
}

// ChangePassword stamps the change time on the account. Tokens issued before
// that instant are rejected by the authentication gate from then on.
func (s *AuthService) ChangePassword(ctx context.Context, principal model.Principal, oldPassword string, newPassword string) error {
	user, err := s.users.FindByUsername(ctx, principal.Username)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(oldPassword, user.PasswordHash) {
		return model.ErrIncorrectPassword
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash, s.now().UTC()); err != nil {
		return err
	}

	slog.Info("password changed", "user_id", user.ID, "username", user.Username)
	return nil
}

func (s *AuthService) SetUserEnabled(ctx context.Context, username string, enabled bool) (model.UserProfile, error) {
	user, err := s.users.SetEnabled(ctx, username, enabled)
	if err != nil {
		return model.UserProfile{}, err
	}

	slog.Info("account status changed", "username", user.Username, "enabled", enabled)
	return model.ProfileFromUser(user), nil
}

// EnsureAdmin creates the bootstrap administrator when it does not exist yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, username string, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}

	exists, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("check admin account: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := s.createUser(ctx, username, password, "", model.RoleAdmin); err != nil {
		return fmt.Errorf("seed admin account: %w", err)
	}

	slog.Info("admin account seeded", "username", username)
	return nil
}

func (s *AuthService) createUser(ctx context.Context, username string, password string, email string, role model.Role) (model.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.User{}, err
	}

	now := s.now().UTC()
	return s.users.Create(ctx, model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// unknownUserHash is hashed with the configured cost on first use.
func (s *AuthService) unknownUserHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("unknown-user-placeholder")
		if err != nil {
			slog.Warn("dummy password hash failed", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
