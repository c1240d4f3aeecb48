// Package privilege provides the preflight checks run before any mutating
// lifecycle operation.
package privilege

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// Host exposes the identity facts the gate depends on.
type Host interface {
	// Euid returns the effective user id, or -1 where the OS has none.
	Euid() int

	// IsElevated reports root on unix and an elevated token on Windows.
	IsElevated() bool

	// LookupUser resolves a named account.
	LookupUser(name string) (*domain.Identity, error)

	// Current returns the identity of this process.
	Current() (*domain.Identity, error)
}

// OSHost implements Host against the running operating system.
type OSHost struct{}

// NewOSHost creates a new OSHost.
func NewOSHost() *OSHost {
	return &OSHost{}
}

// Euid returns os.Geteuid.
func (h *OSHost) Euid() int {
	return os.Geteuid()
}

// IsElevated reports whether the process holds administrative rights.
func (h *OSHost) IsElevated() bool {
	return isElevated()
}

// LookupUser resolves name via the system user database.
func (h *OSHost) LookupUser(name string) (*domain.Identity, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %q: %w", name, err)
	}
	return toIdentity(u), nil
}

// Current returns the identity of the running process.
func (h *OSHost) Current() (*domain.Identity, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current user: %w", err)
	}
	return toIdentity(u), nil
}

// toIdentity converts an os/user account. Windows SIDs do not parse and are
// left at -1 with no group name.
func toIdentity(u *user.User) *domain.Identity {
	id := &domain.Identity{Name: u.Username, UID: -1, GID: -1, Home: u.HomeDir}
	if uid, err := strconv.Atoi(u.Uid); err == nil {
		id.UID = uid
	}
	if gid, err := strconv.Atoi(u.Gid); err == nil {
		id.GID = gid
		if g, err := user.LookupGroupId(u.Gid); err == nil {
			id.Group = g.Name
		}
	}
	return id
}

// Ensure OSHost implements Host.
var _ Host = (*OSHost)(nil)
