package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubBuildInfo(t *testing.T, bi *debug.BuildInfo) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return bi, bi != nil }
	t.Cleanup(func() { readBuildInfo = orig })
}

func TestGet_FallsBackToBuildInfo(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	info := Get()

	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "0123456789ab", info.Commit)
	assert.Equal(t, "2026-01-02T03:04:05Z", info.Date)
	assert.Contains(t, info.String(), "commit: 0123456789ab-dirty")
}

func TestGet_LinkerValuesWin(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{
		Main:     debug.Module{Version: "v1.4.0"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "deadbeef"}},
	})
	origVersion, origCommit := Version, Commit
	Version, Commit = "2.0.0", "cafef00d"
	t.Cleanup(func() { Version, Commit = origVersion, origCommit })

	info := Get()

	assert.Equal(t, "2.0.0", info.Version)
	assert.Equal(t, "cafef00d", info.Commit)
}

func TestGet_DevelBuild(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})

	info := Get()

	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform())
	assert.Equal(t, "hb-service/dev ("+info.Platform()+")", info.UserAgent())
}

func TestGet_NoBuildInfo(t *testing.T) {
	stubBuildInfo(t, nil)

	info := Get()

	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
}
