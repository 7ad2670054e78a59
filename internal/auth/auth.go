// Package auth provides the role capability the ledger gates operations on.
// The ledger never issues or stores credentials; it only asks whether an actor
// holds a role.
package auth

import (
	"fmt"
	"strings"
	"sync"
)

// Role is the closed set of capabilities known to the ledger.
type Role int

const (
	RoleUser Role = iota + 1
	RoleVerifier
	RoleAdmin
	RoleLendingProtocol
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleVerifier:
		return "verifier"
	case RoleAdmin:
		return "admin"
	case RoleLendingProtocol:
		return "lending_protocol"
	default:
		return "unknown"
	}
}

// ParseRole maps a configuration string to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "verifier":
		return RoleVerifier, nil
	case "admin":
		return RoleAdmin, nil
	case "lending_protocol", "lending-protocol":
		return RoleLendingProtocol, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Authorizer answers whether an actor holds a role.
type Authorizer interface {
	HasRole(actorID string, role Role) bool
}

// HasAny reports whether actor holds at least one of roles.
func HasAny(a Authorizer, actorID string, roles ...Role) bool {
	for _, r := range roles {
		if a.HasRole(actorID, r) {
			return true
		}
	}
	return false
}

// Registered reports whether actor holds any role at all.
func Registered(a Authorizer, actorID string) bool {
	return HasAny(a, actorID, RoleUser, RoleVerifier, RoleAdmin, RoleLendingProtocol)
}

// Directory is an in-memory actor directory. Each actor has exactly one role.
type Directory struct {
	mu     sync.RWMutex
	actors map[string]Role
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{actors: make(map[string]Role)}
}

// Register records or replaces actorID's role.
func (d *Directory) Register(actorID string, role Role) error {
	if strings.TrimSpace(actorID) == "" {
		return fmt.Errorf("actor ID must not be empty")
	}
	if role < RoleUser || role > RoleLendingProtocol {
		return fmt.Errorf("invalid role %d", role)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[actorID] = role
	return nil
}

// Remove deletes an actor; removed actors are unauthorized for everything.
func (d *Directory) Remove(actorID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.actors, actorID)
}

// Role resolves an actor to its registered role.
func (d *Directory) Role(actorID string) (Role, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.actors[actorID]
	return r, ok
}

// HasRole implements Authorizer.
func (d *Directory) HasRole(actorID string, role Role) bool {
	r, ok := d.Role(actorID)
	return ok && r == role
}
