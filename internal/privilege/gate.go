package privilege

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// DefaultServiceUser is suggested when no run-as user can be inferred.
const DefaultServiceUser = "homebridge"

// Gate holds the stateless privilege predicates. It carries only facts read
// once at process entry.
type Gate struct {
	host      Host
	goos      string
	binary    string
	sudoUser  string
	allowRoot bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithGOOS overrides the platform used to phrase remediation text.
func WithGOOS(goos string) Option {
	return func(g *Gate) {
		g.goos = goos
	}
}

// WithSudoUser sets the invoking sudo user (SUDO_USER at entry).
func WithSudoUser(name string) Option {
	return func(g *Gate) {
		g.sudoUser = name
	}
}

// WithAllowRoot lets RequireUnprivileged pass for root.
func WithAllowRoot(allow bool) Option {
	return func(g *Gate) {
		g.allowRoot = allow
	}
}

// WithBinaryName sets the command name used in remediation text.
func WithBinaryName(name string) Option {
	return func(g *Gate) {
		g.binary = name
	}
}

// NewGate creates a new Gate.
func NewGate(host Host, opts ...Option) *Gate {
	g := &Gate{
		host:   host,
		goos:   runtime.GOOS,
		binary: "hb-service",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// RequireElevated fails unless the effective user is root or an elevated Administrator.
// args are echoed back in the corrected invocation.
func (g *Gate) RequireElevated(op string, args ...string) error {
	if g.host.IsElevated() {
		return nil
	}

	invocation := strings.TrimSpace(strings.Join(append([]string{g.binary, op}, args...), " "))
	if g.goos == "windows" {
		return &domain.PrivilegeError{
			Operation: op,
			Reason:    "this command must be run as Administrator",
			Fix:       fmt.Sprintf("open an elevated prompt (Run as Administrator) and run: %s", invocation),
		}
	}
	return &domain.PrivilegeError{
		Operation: op,
		Reason:    "this command must be run as root",
		Fix:       "sudo " + invocation,
	}
}

// RequireUnprivileged fails when running as root, unless the operator opted in.
func (g *Gate) RequireUnprivileged(op string) error {
	if g.allowRoot || g.goos == "windows" || g.host.Euid() != 0 {
		return nil
	}
	return &domain.PrivilegeError{
		Operation: op,
		Reason:    "running as root is not allowed in package mode",
		Fix:       fmt.Sprintf("run %s %s as the service user, or set UIX_ALLOW_ROOT=1", g.binary, op),
	}
}

// ResolveTargetUser picks the install run-as user: explicit flag, then the sudo
// invoker. Root is never inferred.
func (g *Gate) ResolveTargetUser(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if g.sudoUser != "" && g.sudoUser != "root" {
		return g.sudoUser, nil
	}
	return "", &domain.PrivilegeError{
		Operation: "install",
		Reason:    "could not determine which user the service should run as",
		Fix:       fmt.Sprintf("sudo %s install --user %s", g.binary, DefaultServiceUser),
	}
}

// ResolveIdentity resolves the uid/gid for the service: explicit user, sudo
// invoker, then the current process.
func (g *Gate) ResolveIdentity(explicit string) (*domain.Identity, error) {
	name := explicit
	if name == "" && g.sudoUser != "" && g.sudoUser != "root" {
		name = g.sudoUser
	}
	if name != "" {
		return g.host.LookupUser(name)
	}
	return g.host.Current()
}
