package privilege

import (
	"fmt"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// MockHost is a mock implementation of Host for testing.
type MockHost struct {
	EUID     int
	Elevated bool
	Users    map[string]*domain.Identity
	Self     *domain.Identity
}

// Euid returns the configured EUID.
func (m *MockHost) Euid() int {
	return m.EUID
}

// IsElevated returns the configured elevation.
func (m *MockHost) IsElevated() bool {
	return m.Elevated
}

// LookupUser returns the user from Users, or an error.
func (m *MockHost) LookupUser(name string) (*domain.Identity, error) {
	if u, ok := m.Users[name]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("failed to look up user %q: unknown user", name)
}

// AddUser registers a user, as useradd would.
func (m *MockHost) AddUser(name string, uid int) {
	if m.Users == nil {
		m.Users = make(map[string]*domain.Identity)
	}
	m.Users[name] = &domain.Identity{Name: name, UID: uid, GID: uid, Group: name, Home: "/home/" + name}
}

// AddUserInGroup registers a user whose primary group has its own name.
func (m *MockHost) AddUserInGroup(name string, uid int, group string, gid int) {
	m.AddUser(name, uid)
	m.Users[name].GID = gid
	m.Users[name].Group = group
}

// Current returns Self, or root.
func (m *MockHost) Current() (*domain.Identity, error) {
	if m.Self != nil {
		return m.Self, nil
	}
	return &domain.Identity{Name: "root", UID: 0, GID: 0, Group: "root", Home: "/root"}, nil
}

// Ensure MockHost implements Host.
var _ Host = (*MockHost)(nil)
