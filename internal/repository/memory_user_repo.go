package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"idea-server/internal/model"
)

// MemoryUserRepository keeps users in process memory. It backs local runs
// without DATABASE_URL and the handler tests.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]model.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: map[string]model.User{}}
}

func (r *MemoryUserRepository) FindByUsername(_ context.Context, username string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, exists := r.users[usernameKey(username)]
	if !exists {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrUserNotFound, username)
	}
	return copyUser(u), nil
}

func (r *MemoryUserRepository) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.users[usernameKey(username)]
	return exists, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.User) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := usernameKey(u.Username)
	if _, exists := r.users[key]; exists {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrUserAlreadyExists, u.Username)
	}

	r.nextID++
	u.ID = r.nextID
	r.users[key] = copyUser(u)
	return copyUser(u), nil
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, userID int64, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, u := range r.users {
		if u.ID != userID {
			continue
		}
		changed := changedAt
		u.PasswordHash = passwordHash
		u.PasswordChangedAt = &changed
		u.UpdatedAt = changedAt
		r.users[key] = u
		return nil
	}

	return fmt.Errorf("%w: id %d", model.ErrUserNotFound, userID)
}

func (r *MemoryUserRepository) SetEnabled(_ context.Context, username string, enabled bool) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := usernameKey(username)
	u, exists := r.users[key]
	if !exists {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrUserNotFound, username)
	}
	u.Enabled = enabled
	u.UpdatedAt = time.Now().UTC()
	r.users[key] = u
	return copyUser(u), nil
}

func (r *MemoryUserRepository) UpdateProfile(_ context.Context, username string, email *string, avatar *string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := usernameKey(username)
	u, exists := r.users[key]
	if !exists {
		return model.User{}, fmt.Errorf("%w: %s", model.ErrUserNotFound, username)
	}
	if email != nil {
		u.Email = *email
	}
	if avatar != nil {
		u.Avatar = *avatar
	}
	u.UpdatedAt = time.Now().UTC()
	r.users[key] = u
	return copyUser(u), nil
}

func (r *MemoryUserRepository) Ping(context.Context) error {
	return nil
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// copyUser detaches the PasswordChangedAt pointer from the stored record.
func copyUser(u model.User) model.User {
	if u.PasswordChangedAt != nil {
		changed := *u.PasswordChangedAt
		u.PasswordChangedAt = &changed
	}
	return u
}
