package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/hb-service/internal/config"
	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/output"
	"github.com/sharkusmanch/hb-service/internal/platform"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func fakeLookPath(name string) (string, error) {
	return "/usr/local/bin/" + filepath.Base(name), nil
}

func missingLookPath(name string) (string, error) {
	return "", errors.New("not found")
}

func fakeAdapter(f *platform.FakeHost) AdapterFactory {
	return func(s *config.Settings, p *output.Printer, logger *slog.Logger) (domain.Adapter, error) {
		deps := f.Deps(s)
		deps.Printer = p
		deps.Logger = logger
		return platform.New(f.GOOS, deps)
	}
}

func fakeLoader(goos string) func() *config.Loader {
	return func() *config.Loader {
		return config.NewLoader().
			WithPlatform(goos, "amd64").
			WithGetenv(func(string) string { return "" }).
			WithLookPath(fakeLookPath)
	}
}

// writeConfig writes an hb-service config file so tests never read the
// developer's own.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hb-service.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func invoke(t *testing.T, f *platform.FakeHost, opts []Option, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer

	cfg := writeConfig(t, "[log]\nlevel = \"warn\"\n")
	all := append([]Option{
		WithIO(strings.NewReader(""), &stdout, &stderr),
		WithLoader(fakeLoader(f.GOOS)),
		WithAdapterFactory(fakeAdapter(f)),
		WithLookPath(fakeLookPath),
	}, opts...)

	code := RunContext(context.Background(), append([]string{"--config", cfg, "--no-color"}, args...), all...)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func TestInstall_AsAliceOnLinux(t *testing.T) {
	f := platform.NewFakeHost("linux")

	res := invoke(t, f, nil, "install", "--user", "alice")

	require.Equal(t, 0, res.code, res.stderr)

	unit, err := afero.ReadFile(f.Fs, "/etc/systemd/system/homebridge.service")
	require.NoError(t, err)
	assert.Contains(t, string(unit), "User=alice\n")
	assert.True(t, f.Runner.Ran("systemctl enable homebridge.service"), "service must be enabled for autostart")
	assert.True(t, f.Running())

	status := invoke(t, f, nil, "status")
	require.Equal(t, 0, status.code, status.stderr)
	assert.Contains(t, status.stdout, "Homebridge: running (pid 4242)")
}

func TestInstall_RequiresRoot(t *testing.T) {
	f := platform.NewFakeHost("linux")
	f.Users.Elevated = false

	res := invoke(t, f, nil, "install", "--user", "alice")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "✘ FAILED:")
	assert.Contains(t, res.stderr, "sudo hb-service install --user alice")
	assert.Empty(t, f.Runner.Lines())
}

func TestInstall_StepFailureExitsNonZero(t *testing.T) {
	f := platform.NewFakeHost("linux")
	f.FailOn = "systemctl enable"

	res := invoke(t, f, nil, "install", "--user", "alice")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "systemctl enable homebridge.service")
	assert.False(t, f.Runner.Ran("systemctl restart"))
}

func TestUninstall_NothingInstalled(t *testing.T) {
	for _, goos := range platform.Supported {
		t.Run(goos, func(t *testing.T) {
			f := platform.NewFakeHost(goos)

			first := invoke(t, f, nil, "uninstall")
			second := invoke(t, f, nil, "uninstall")

			assert.Equal(t, 0, first.code, first.stderr)
			assert.Equal(t, 0, second.code, second.stderr)
		})
	}
}

func TestUpdateNode_RejectedBeforeDownload(t *testing.T) {
	f := platform.NewFakeHost("linux")
	f.Glibc = "2.20"
	f.Node = "v16.20.2"

	res := invoke(t, f, nil, "update-node", "--target", "18.0.0")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "2.28")
	assert.Contains(t, res.stderr, "2.20")
	assert.Zero(t, f.NetworkCalls())
}

func TestUpdateNode_PositionalTarget(t *testing.T) {
	f := platform.NewFakeHost("linux")
	f.Glibc = "2.20"

	res := invoke(t, f, nil, "update-node", "18.0.0", "--target", "20.0.0")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "target given twice")
	assert.Empty(t, f.Runner.Lines())
}

func TestStopThenStart_WaitsRestartDelay(t *testing.T) {
	f := platform.NewFakeHost("linux")
	require.NoError(t, f.Register(f.Settings()))
	require.NoError(t, f.Fs.MkdirAll("/var/lib/homebridge", 0o755))

	require.Equal(t, 0, invoke(t, f, nil, "start").code)
	assert.Zero(t, f.Slept())

	stop := invoke(t, f, nil, "stop")
	require.Equal(t, 0, stop.code, stop.stderr)
	assert.False(t, f.Running())

	start := invoke(t, f, nil, "start")
	require.Equal(t, 0, start.code, start.stderr)

	assert.Equal(t, platform.LinuxRestartDelay, f.Slept())
	assert.GreaterOrEqual(t, f.StartedAfterStop(), platform.LinuxRestartDelay)
	assert.True(t, f.Running())
}

func TestRestart(t *testing.T) {
	f := platform.NewFakeHost("darwin")
	require.NoError(t, f.Register(f.Settings()))

	res := invoke(t, f, nil, "restart")

	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, platform.DarwinRestartDelay, f.Slept())
	assert.True(t, f.Running())
}

func TestStatus_JSON(t *testing.T) {
	f := platform.NewFakeHost("linux")

	res := invoke(t, f, nil, "status", "--json")

	require.Equal(t, 0, res.code, res.stderr)
	var status domain.ServiceStatus
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &status))
	assert.Equal(t, domain.ServiceStateNotInstalled, status.State)
}

func TestViewLogs(t *testing.T) {
	f := platform.NewFakeHost("linux")

	res := invoke(t, f, nil, "view-logs")

	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "following /var/lib/homebridge/homebridge.log\n", res.stdout)
}

func TestBeforeStart_CreatesConfig(t *testing.T) {
	f := platform.NewFakeHost("linux")

	res := invoke(t, f, nil, "before-start")

	require.Equal(t, 0, res.code, res.stderr)
	exists, err := afero.Exists(f.Fs, "/var/lib/homebridge/config.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRebuild_All(t *testing.T) {
	f := platform.NewFakeHost("linux")

	res := invoke(t, f, nil, "rebuild", "--all")

	require.Equal(t, 0, res.code, res.stderr)
	assert.True(t, f.Runner.Ran("/usr/local/bin/npm rebuild"))
	assert.Contains(t, res.stdout, "Rebuilt all global packages")
}

func TestUnsupportedPlatform(t *testing.T) {
	f := platform.NewFakeHost("plan9")

	res := invoke(t, f, []Option{
		WithLoader(fakeLoader("plan9")),
		WithAdapterFactory(DefaultAdapterFactory),
	}, "start")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "supported: linux, darwin, windows, freebsd")
}

func TestVersion(t *testing.T) {
	f := platform.NewFakeHost("linux")

	res := invoke(t, f, nil, "version")
	require.Equal(t, 0, res.code)
	assert.True(t, strings.HasPrefix(res.stdout, "hb-service "))

	res = invoke(t, f, nil, "version", "--json")
	require.Equal(t, 0, res.code)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &info))
	assert.Contains(t, info, "go_version")
}

func TestValidate(t *testing.T) {
	storage := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(storage, "config.json"),
		[]byte(`{"bridge":{"port":51827},"platforms":[{"platform":"config","port":8080}]}`), 0o644))
	f := platform.NewFakeHost("linux")

	res := invoke(t, f, nil, "--storage-path", storage, "validate")

	require.Equal(t, 0, res.code, res.stdout+res.stderr)
	assert.Contains(t, res.stdout, "✓ config.json valid (bridge port 51827, UI port 8080)")
	assert.Contains(t, res.stdout, "✓ homebridge found: /usr/local/bin/homebridge")
	assert.Contains(t, res.stdout, "Validation complete.")
}

func TestValidate_ReportsFailures(t *testing.T) {
	f := platform.NewFakeHost("linux")

	res := invoke(t, f, []Option{WithLookPath(missingLookPath)}, "--storage-path", t.TempDir(), "validate")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "✗ config.json")
	assert.Contains(t, res.stdout, "✗ homebridge-config-ui-x: not found in PATH")
	assert.Contains(t, res.stderr, "3 check(s) failed")
}

func TestValidate_Init(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "hb-service.toml")
	var stdout, stderr bytes.Buffer

	code := RunContext(context.Background(), []string{"--config", path, "--storage-path", t.TempDir(), "validate", "--init"},
		WithIO(strings.NewReader(""), &stdout, &stderr),
		WithLoader(fakeLoader("linux")),
		WithLookPath(fakeLookPath),
	)

	assert.Contains(t, stdout.String(), "Wrote example config: "+path)
	_, err := os.Stat(path)
	require.NoError(t, err)
	// config.json is missing, so the checks still fail.
	assert.Equal(t, 1, code)
}

func TestUnknownCommand(t *testing.T) {
	f := platform.NewFakeHost("linux")

	res := invoke(t, f, nil, "frobnicate")

	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "unknown command")
}
