package memory

import (
	"context"
	"sync"

	"github.com/dakota002/gcn.nasa.gov/internal/domain/entity"
)

// Directory implements policy.Directory with static group membership
type Directory struct {
	mu     sync.RWMutex
	groups map[string][]entity.DirectoryUser

	// Err, when set, is returned by ListGroupMembers.
	Err error
}

// NewDirectory creates an empty directory
func NewDirectory() *Directory {
	return &Directory{groups: make(map[string][]entity.DirectoryUser)}
}

// AddMember adds a user to a group
func (d *Directory) AddMember(group string, user entity.DirectoryUser) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[group] = append(d.groups[group], user)
}

// ListGroupMembers returns a copy of the group's members
func (d *Directory) ListGroupMembers(ctx context.Context, group string) ([]entity.DirectoryUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.Err != nil {
		return nil, d.Err
	}

	members := make([]entity.DirectoryUser, len(d.groups[group]))
	copy(members, d.groups[group])
	return members, nil
}
