package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	version "github.com/hashicorp/go-version"
)

// Release is one entry of the dist index.json.
type Release struct {
	Version string          `json:"version"`
	LTS     json.RawMessage `json:"lts"`
}

// IsLTS reports whether the release belongs to an LTS line. index.json uses
// false for non-LTS releases and the codename otherwise.
func (r Release) IsLTS() bool {
	s := strings.TrimSpace(string(r.LTS))
	return s != "" && s != "false" && s != "null"
}

// IndexFetcher loads the dist release index.
type IndexFetcher interface {
	GetJSON(ctx context.Context, url string, v any) error
}

// ResolveTarget turns an update-node target into a concrete version. Exact
// versions are returned without a network lookup; "lts", "latest" and a bare
// major are resolved against <distURL>/index.json.
func ResolveTarget(ctx context.Context, index IndexFetcher, distURL, target string) (*version.Version, error) {
	target = strings.ToLower(strings.TrimSpace(target))
	if target == "" {
		return nil, fmt.Errorf("a target version is required")
	}

	if v, ok := ParseExact(target); ok {
		return v, nil
	}

	match, err := matcher(target)
	if err != nil {
		return nil, err
	}

	var releases []Release
	url := strings.TrimRight(distURL, "/") + "/index.json"
	if err := index.GetJSON(ctx, url, &releases); err != nil {
		return nil, fmt.Errorf("failed to load release index: %w", err)
	}

	var best *version.Version
	for _, r := range releases {
		v, err := version.NewVersion(r.Version)
		if err != nil || v.Prerelease() != "" || !match(r, v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no release matches target %q", target)
	}
	return best, nil
}

func matcher(target string) (func(Release, *version.Version) bool, error) {
	switch target {
	case "lts":
		return func(r Release, _ *version.Version) bool { return r.IsLTS() }, nil
	case "latest", "current":
		return func(Release, *version.Version) bool { return true }, nil
	}

	m, err := strconv.Atoi(strings.TrimPrefix(target, "v"))
	if err != nil || m <= 0 {
		return nil, fmt.Errorf("invalid target %q: use an exact version, a major version, lts or latest", target)
	}
	return func(_ Release, v *version.Version) bool { return major(v) == m }, nil
}
