// Package runtime upgrades the Node.js runtime the bridge runs under.
package runtime

import (
	"context"
	"sort"
	"strings"

	version "github.com/hashicorp/go-version"

	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/shell"
)

// GlibcThresholds is the minimum glibc per runtime major. A major uses the
// entry for the largest key not above it; majors below every key have no
// requirement.
var GlibcThresholds = map[int]string{
	18: "2.28",
	20: "2.31",
	22: "2.31",
	24: "2.31",
}

// DarwinMinimums is the minimum macOS product version per runtime major,
// looked up the same way as GlibcThresholds.
var DarwinMinimums = map[int]string{
	18: "10.15",
	20: "10.15",
	22: "11.0",
}

// archNames maps GOARCH to the release archive architecture.
var archNames = map[string]string{
	"amd64": "x64",
	"arm64": "arm64",
	"arm":   "armv7l",
}

// Arch returns the release architecture name for goarch.
func Arch(goos, goarch string) (string, error) {
	if name, ok := archNames[goarch]; ok {
		return name, nil
	}
	supported := make([]string, 0, len(archNames))
	for k := range archNames {
		supported = append(supported, k)
	}
	sort.Strings(supported)
	return "", &domain.UnsupportedPlatformError{
		OS:        goos,
		Arch:      goarch,
		Operation: "runtime update",
		Supported: supported,
	}
}

// lookup returns the threshold for major in table.
func lookup(table map[int]string, major int) (string, bool) {
	best := -1
	for k := range table {
		if k <= major && k > best {
			best = k
		}
	}
	if best < 0 {
		return "", false
	}
	return table[best], true
}

// RequiredGlibc returns the minimum glibc for a runtime major.
func RequiredGlibc(major int) (string, bool) {
	return lookup(GlibcThresholds, major)
}

// RequiredMacOS returns the minimum macOS version for a runtime major.
func RequiredMacOS(major int) (string, bool) {
	return lookup(DarwinMinimums, major)
}

func major(v *version.Version) int {
	return v.Segments()[0]
}

// CheckGlibc rejects target when hostGlibc is below the threshold. An empty
// hostGlibc means a non-glibc C library and fails whenever a threshold applies.
func CheckGlibc(target *version.Version, hostGlibc string) error {
	required, ok := RequiredGlibc(major(target))
	if !ok {
		return nil
	}
	return atLeast(target, "glibc", required, hostGlibc)
}

// CheckMacOS rejects target when the host macOS is older than the minimum.
func CheckMacOS(target *version.Version, productVersion string) error {
	required, ok := RequiredMacOS(major(target))
	if !ok {
		return nil
	}
	return atLeast(target, "macOS", required, productVersion)
}

func atLeast(target *version.Version, requirement, required, found string) error {
	gateErr := &domain.CompatibilityGateError{
		Target:      target.String(),
		Requirement: requirement,
		Required:    required,
		Found:       found,
	}
	if found == "" {
		return gateErr
	}

	have, err := version.NewVersion(found)
	if err != nil {
		return gateErr
	}
	need := version.Must(version.NewVersion(required))
	if have.LessThan(need) {
		return gateErr
	}
	return nil
}

// HostFacts reads the C library and OS versions through the shell seam.
type HostFacts struct {
	runner shell.Runner
}

// NewHostFacts creates a new HostFacts.
func NewHostFacts(runner shell.Runner) *HostFacts {
	return &HostFacts{runner: runner}
}

// GlibcVersion returns the host glibc version, or "" on musl and other libcs.
func (h *HostFacts) GlibcVersion(ctx context.Context) string {
	res, err := h.runner.Run(ctx, shell.Command{Name: "getconf", Args: []string{"GNU_LIBC_VERSION"}})
	if err != nil {
		return ""
	}
	// "glibc 2.31"
	fields := strings.Fields(res.Stdout)
	if len(fields) != 2 || fields[0] != "glibc" {
		return ""
	}
	return fields[1]
}

// MacOSVersion returns the macOS product version, or "".
func (h *HostFacts) MacOSVersion(ctx context.Context) string {
	res, err := h.runner.Run(ctx, shell.Command{Name: "sw_vers", Args: []string{"-productVersion"}})
	if err != nil {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// NodeVersion returns the version reported by the node binary, or nil.
func (h *HostFacts) NodeVersion(ctx context.Context, nodePath string) *version.Version {
	if nodePath == "" {
		return nil
	}
	res, err := h.runner.Run(ctx, shell.Command{Name: nodePath, Args: []string{"--version"}})
	if err != nil {
		return nil
	}
	v, err := version.NewVersion(strings.TrimSpace(res.Stdout))
	if err != nil {
		return nil
	}
	return v
}

// Gate runs the compatibility checks for goos/goarch. It never touches the
// network.
func (h *HostFacts) Gate(ctx context.Context, goos, goarch string, target *version.Version) error {
	if _, err := Arch(goos, goarch); err != nil {
		return err
	}

	switch goos {
	case "linux":
		return CheckGlibc(target, h.GlibcVersion(ctx))
	case "darwin":
		return CheckMacOS(target, h.MacOSVersion(ctx))
	case "windows":
		return nil
	default:
		return &domain.UnsupportedPlatformError{
			OS:        goos,
			Operation: "runtime update",
			Supported: []string{"linux", "darwin", "windows"},
		}
	}
}

// ParseExact parses a fully specified version such as 18.0.0 or v20.11.1.
func ParseExact(s string) (*version.Version, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if strings.Count(strings.SplitN(s, "-", 2)[0], ".") != 2 {
		return nil, false
	}
	v, err := version.NewVersion(s)
	if err != nil {
		return nil, false
	}
	return v, true
}
