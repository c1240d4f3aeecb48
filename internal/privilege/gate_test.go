package privilege

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

func TestGate_RequireElevated(t *testing.T) {
	tests := []struct {
		name     string
		goos     string
		elevated bool
		wantErr  bool
		wantFix  string
	}{
		{name: "root on linux", goos: "linux", elevated: true},
		{name: "user on linux", goos: "linux", wantErr: true, wantFix: "sudo hb-service install --user alice"},
		{name: "user on darwin", goos: "darwin", wantErr: true, wantFix: "sudo hb-service install --user alice"},
		{name: "admin on windows", goos: "windows", elevated: true},
		{name: "user on windows", goos: "windows", wantErr: true, wantFix: "open an elevated prompt (Run as Administrator) and run: hb-service install --user alice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(&MockHost{Elevated: tt.elevated}, WithGOOS(tt.goos))

			err := g.RequireElevated("install", "--user", "alice")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			var privErr *domain.PrivilegeError
			require.True(t, errors.As(err, &privErr))
			assert.Equal(t, tt.wantFix, domain.RemediationFor(err))
		})
	}
}

func TestGate_RequireUnprivileged(t *testing.T) {
	assert.NoError(t, NewGate(&MockHost{EUID: 1000}).RequireUnprivileged("rebuild"))

	err := NewGate(&MockHost{EUID: 0}, WithGOOS("linux")).RequireUnprivileged("rebuild")
	var privErr *domain.PrivilegeError
	require.True(t, errors.As(err, &privErr))
	assert.Contains(t, privErr.Remediation(), "UIX_ALLOW_ROOT")

	assert.NoError(t, NewGate(&MockHost{EUID: 0}, WithGOOS("linux"), WithAllowRoot(true)).RequireUnprivileged("rebuild"))
}

func TestGate_ResolveTargetUser(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		sudo     string
		want     string
		wantErr  bool
	}{
		{name: "explicit wins", explicit: "alice", sudo: "bob", want: "alice"},
		{name: "sudo user", sudo: "bob", want: "bob"},
		{name: "sudo root ignored", sudo: "root", wantErr: true},
		{name: "nothing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(&MockHost{}, WithSudoUser(tt.sudo))

			got, err := g.ResolveTargetUser(tt.explicit)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, "sudo hb-service install --user homebridge", domain.RemediationFor(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGate_ResolveIdentity(t *testing.T) {
	host := &MockHost{Self: &domain.Identity{Name: "me", UID: 501, GID: 20}}
	host.AddUser("alice", 1001)
	host.AddUser("bob", 1002)

	id, err := NewGate(host, WithSudoUser("bob")).ResolveIdentity("alice")
	require.NoError(t, err)
	assert.Equal(t, 1001, id.UID)

	id, err = NewGate(host, WithSudoUser("bob")).ResolveIdentity("")
	require.NoError(t, err)
	assert.Equal(t, 1002, id.UID)

	id, err = NewGate(host).ResolveIdentity("")
	require.NoError(t, err)
	assert.Equal(t, "me", id.Name)

	_, err = NewGate(host).ResolveIdentity("ghost")
	assert.Error(t, err)
}
