package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"idea-server/internal/model"
)

const uniqueViolation = "23505"

const userColumns = `id, username, COALESCE(email, ''), COALESCE(avatar, ''), password, role, enabled,
		        password_changed_at, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`,
		strings.TrimSpace(username))

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrUserNotFound, username)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("find user by username: %w", err)
	}
	return u, nil
}

func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE lower(username) = lower($1))`,
		strings.TrimSpace(username)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check username exists: %w", err)
	}
	return exists, nil
}

func (r *UserRepository) Create(ctx context.Context, u model.User) (model.User, error) {
	var email *string
	if u.Email != "" {
		email = &u.Email
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password, role, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		u.Username, email, u.PasswordHash, string(u.Role), u.Enabled, u.CreatedAt, u.UpdatedAt).
		Scan(&u.ID)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrUserAlreadyExists, u.Username)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// UpdatePassword stores the new hash and stamps password_changed_at, which
// invalidates every token issued to the user before changedAt.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string, changedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password = $2, password_changed_at = $3, updated_at = $3 WHERE id = $1`,
		userID, passwordHash, changedAt)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", model.ErrUserNotFound, userID)
	}
	return nil
}

func (r *UserRepository) SetEnabled(ctx context.Context, username string, enabled bool) (model.User, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET enabled = $2, updated_at = $3 WHERE lower(username) = lower($1)
		 RETURNING `+userColumns,
		strings.TrimSpace(username), enabled, time.Now().UTC())

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrUserNotFound, username)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("set user enabled: %w", err)
	}
	return u, nil
}

// UpdateProfile overwrites only the fields passed as non-nil. An empty string
// clears the column.
func (r *UserRepository) UpdateProfile(ctx context.Context, username string, email *string, avatar *string) (model.User, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET
		     email = CASE WHEN $2::boolean THEN NULLIF($3::text, '') ELSE email END,
		     avatar = CASE WHEN $4::boolean THEN NULLIF($5::text, '') ELSE avatar END,
		     updated_at = $6
		 WHERE lower(username) = lower($1)
		 RETURNING `+userColumns,
		strings.TrimSpace(username),
		email != nil, derefOrEmpty(email),
		avatar != nil, derefOrEmpty(avatar),
		time.Now().UTC())

	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrUserNotFound, username)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("update user profile: %w", err)
	}
	return u, nil
}

func (r *UserRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Avatar, &u.PasswordHash, &role, &u.Enabled,
		&u.PasswordChangedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	return u, nil
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
