// Package group keeps named chat groups and their members.
//
// Groups are created with their creator as the only member and only ever
// grow; there is no way to leave or delete one.
package group

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrEmptyField is returned when the group name or user is blank.
	ErrEmptyField = errors.New("group: name must not be empty")

	// ErrAlreadyExists is returned when creating a group whose name is taken.
	ErrAlreadyExists = errors.New("group: already exists")

	// ErrNoSuchGroup is returned when the named group does not exist.
	ErrNoSuchGroup = errors.New("group: no such group")

	// ErrAlreadyMember is returned when joining a group twice.
	ErrAlreadyMember = errors.New("group: already a member")
)

// Registry is a concurrency-safe set of groups keyed by name.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]map[string]struct{})}
}

// Create adds a group named name with creator as its sole member.
func (r *Registry) Create(name, creator string) error {
	name = strings.TrimSpace(name)
	if name == "" || creator == "" {
		return ErrEmptyField
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.groups[name]; exists {
		return ErrAlreadyExists
	}
	r.groups[name] = map[string]struct{}{creator: {}}
	return nil
}

// Join adds user to the group named name.
func (r *Registry) Join(name, user string) error {
	name = strings.TrimSpace(name)
	if name == "" || user == "" {
		return ErrEmptyField
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.groups[name]
	if !exists {
		return ErrNoSuchGroup
	}
	if _, member := members[user]; member {
		return ErrAlreadyMember
	}
	members[user] = struct{}{}
	return nil
}

// Exists reports whether a group named name exists.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.groups[name]
	return exists
}

// IsMember reports whether user belongs to the group named name. It is
// false for groups that do not exist.
func (r *Registry) IsMember(name, user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, member := r.groups[name][user]
	return member
}

// Members returns the members of the group named name in sorted order.
func (r *Registry) Members(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, exists := r.groups[name]
	if !exists {
		return nil, ErrNoSuchGroup
	}
	return sortedKeys(members), nil
}

// GroupsOf returns the names of the groups user belongs to, sorted.
func (r *Registry) GroupsOf(user string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0)
	for name, members := range r.groups {
		if _, member := members[user]; member {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AllGroupNames returns every group name, sorted.
func (r *Registry) AllGroupNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.groups)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
