package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-template-ci/internal/portal"
)

// Directory is an in-memory user directory.
type Directory struct {
	mu    sync.RWMutex
	users map[int64]portal.User
}

// NewDirectory constructs a Directory seeded with users.
func NewDirectory(users ...portal.User) *Directory {
	d := &Directory{users: make(map[int64]portal.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// AddUser registers or replaces a user.
func (d *Directory) AddUser(u portal.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// GetUser fetches a user by id.
func (d *Directory) GetUser(_ context.Context, userID int64) (portal.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return portal.User{}, fmt.Errorf("user %d: %w", userID, portal.ErrNotFound)
	}
	return u, nil
}
