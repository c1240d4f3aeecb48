package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyLevel_IsValid(t *testing.T) {
	tests := []struct {
		level NotifyLevel
		want  bool
	}{
		{NotifyError, true},
		{NotifyWarning, true},
		{NotifyAlways, true},
		{NotifyLevel("invalid"), false},
		{NotifyLevel(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.IsValid())
		})
	}
}

func TestSettings_Validate(t *testing.T) {
	validSettings := func() *Settings {
		return &Settings{
			ServiceName: "Homebridge",
			StoragePath: "/var/lib/homebridge",
			Port:        51826,
			UIPort:      8581,
			Supervisor: SupervisorConfig{
				RestartDelay: 5 * time.Second,
				StopGrace:    10 * time.Second,
			},
			Runtime: RuntimeConfig{
				DistURL:         DefaultDistURL,
				DownloadTimeout: 10 * time.Minute,
				SafeRoots:       []string{"/usr/local"},
			},
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 5 * time.Second,
				MaxDelay:     30 * time.Second,
			},
			Metrics: MetricsConfig{
				Enabled:        true,
				PushgatewayURL: "http://pushgateway:9091",
			},
			Apprise: AppriseConfig{
				Enabled: true,
				URL:     "http://localhost:8000",
				Key:     "homebridge",
				Notify:  NotifyError,
			},
			Log: LogConfig{
				Level:     "info",
				MaxSizeMB: 10,
			},
		}
	}

	t.Run("valid settings", func(t *testing.T) {
		assert.NoError(t, validSettings().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"empty service name", func(s *Settings) { s.ServiceName = " " }, "service_name cannot be empty"},
		{"port out of range", func(s *Settings) { s.Port = 70000 }, "port must be between 1 and 65535"},
		{"ui port zero", func(s *Settings) { s.UIPort = 0 }, "ui_port must be between 1 and 65535"},
		{"ports collide", func(s *Settings) { s.UIPort = s.Port }, "port and ui_port must differ"},
		{"zero restart delay", func(s *Settings) { s.Supervisor.RestartDelay = 0 }, "supervisor.restart_delay must be positive"},
		{"zero download timeout", func(s *Settings) { s.Runtime.DownloadTimeout = 0 }, "runtime.download_timeout must be positive"},
		{"no safe roots", func(s *Settings) { s.Runtime.SafeRoots = nil }, "runtime.safe_roots cannot be empty"},
		{"metrics without url", func(s *Settings) { s.Metrics.PushgatewayURL = "" }, "metrics.pushgateway_url is required"},
		{"retry attempts", func(s *Settings) { s.Retry.MaxAttempts = 0 }, "retry.max_attempts must be at least 1"},
		{"retry max below initial", func(s *Settings) { s.Retry.MaxDelay = time.Second }, "retry.max_delay must be >= retry.initial_delay"},
		{"apprise without key", func(s *Settings) { s.Apprise.Key = "" }, "apprise.key or apprise.urls is required"},
		{"apprise bad level", func(s *Settings) { s.Apprise.Notify = "sometimes" }, "apprise.notify must be one of"},
		{"bad log level", func(s *Settings) { s.Log.Level = "verbose" }, "log.level must be one of"},
		{"log size", func(s *Settings) { s.Log.MaxSizeMB = 0 }, "log.max_size_mb must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			assert.ErrorContains(t, s.Validate(), tt.want)
		})
	}

	t.Run("metrics disabled skips validation", func(t *testing.T) {
		s := validSettings()
		s.Metrics.Enabled = false
		s.Metrics.PushgatewayURL = ""
		assert.NoError(t, s.Validate())
	})
}

func noLookPath(string) (string, error) {
	return "", errors.New("not found")
}

func TestLoader_Load_Defaults(t *testing.T) {
	env := map[string]string{"PATH": "/usr/bin:/bin"}
	cfg, err := NewLoader().
		WithPlatform("linux", "amd64").
		WithLookPath(noLookPath).
		WithGetenv(func(k string) string { return env[k] }).
		Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultServiceName, cfg.ServiceName)
	assert.Equal(t, "/var/lib/homebridge", cfg.StoragePath)
	assert.Equal(t, "/var/lib/homebridge/config.json", cfg.ConfigPath)
	assert.Equal(t, "/var/lib/homebridge/homebridge.log", cfg.LogPath())
	assert.Equal(t, DefaultBridgePort, cfg.Port)
	assert.Equal(t, DefaultUIPort, cfg.UIPort)
	assert.Equal(t, DefaultRestartDelay, cfg.Supervisor.RestartDelay)
	assert.Equal(t, DefaultDownloadTimeout, cfg.Runtime.DownloadTimeout)
	assert.Equal(t, DefaultSafeRoots, cfg.Runtime.SafeRoots)
	assert.Equal(t, DefaultRetryMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, DefaultAppriseNotify, cfg.Apprise.Notify)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, "linux", cfg.Host.GOOS)
	assert.Equal(t, "/usr/bin:/bin", cfg.Host.PathEnv)
	assert.Empty(t, cfg.NodePath)
}

func TestLoader_Load_DarwinStorageInHome(t *testing.T) {
	cfg, err := NewLoader().WithPlatform("darwin", "arm64").WithLookPath(noLookPath).Load()
	require.NoError(t, err)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".homebridge"), cfg.StoragePath)
}

func TestLoader_Load_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "hb-service.toml")

	content := `
service_name = "Bridge2"
storage_path = "/srv/bridge"
port = 51900

[supervisor]
restart_delay = "2s"

[runtime]
safe_roots = ["/opt/node"]

[metrics]
enabled = true
pushgateway_url = "http://custom-pushgateway:9091"

[apprise]
enabled = false
url = "http://apprise:8000"
key = "test"
notify = "always"

[log]
level = "debug"
max_size_mb = 20
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0600))

	cfg, err := NewLoader().WithConfigPath(configPath).WithLookPath(noLookPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "Bridge2", cfg.ServiceName)
	assert.Equal(t, "/srv/bridge", cfg.StoragePath)
	assert.Equal(t, filepath.Join("/srv/bridge", "config.json"), cfg.ConfigPath)
	assert.Equal(t, 51900, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.Supervisor.RestartDelay)
	assert.Equal(t, []string{"/opt/node"}, cfg.Runtime.SafeRoots)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, NotifyAlways, cfg.Apprise.Notify)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 20, cfg.Log.MaxSizeMB)
}

func TestLoader_Load_EnvOverrides(t *testing.T) {
	t.Setenv("UIX_STORAGE_PATH", "/data/hb")
	t.Setenv("UIX_SERVICE_NAME", "homebridge-test")
	t.Setenv("UIX_INSECURE_MODE", "1")
	t.Setenv("UIX_SERVICE_MODE", "true")
	t.Setenv("UIX_LOG_LEVEL", "debug")

	cfg, err := NewLoader().WithLookPath(noLookPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/hb", cfg.StoragePath)
	assert.Equal(t, "/data/hb/config.json", cfg.ConfigPath)
	assert.Equal(t, "homebridge-test", cfg.ServiceName)
	assert.True(t, cfg.InsecureMode)
	assert.True(t, cfg.ServiceMode)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_Set(t *testing.T) {
	loader := NewLoader().WithLookPath(noLookPath)
	loader.Set("user", "alice")
	loader.Set("log.level", "error")

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "alice", cfg.User)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoader_LookPathOnce(t *testing.T) {
	calls := map[string]int{}
	lookPath := func(name string) (string, error) {
		calls[name]++
		return "/usr/local/bin/" + name, nil
	}

	cfg, err := NewLoader().WithLookPath(lookPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/node", cfg.NodePath)
	assert.Equal(t, "/usr/local/bin/npm", cfg.NpmPath)
	assert.Equal(t, map[string]int{"node": 1, "npm": 1}, calls)
}

func TestWriteExampleConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "hb-service.toml")

	require.NoError(t, WriteExampleConfig(configPath))

	_, err := os.Stat(configPath)
	require.NoError(t, err)

	cfg, err := NewLoader().WithConfigPath(configPath).WithLookPath(noLookPath).Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultServiceName, cfg.ServiceName)
	assert.Equal(t, DefaultRestartDelay, cfg.Supervisor.RestartDelay)
}

func TestDefaultConfigPath(t *testing.T) {
	path, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Contains(t, path, AppName)
	assert.Contains(t, path, ConfigFileName)
}

func TestConfigDirs(t *testing.T) {
	env := func(vars map[string]string) func(string) string {
		return func(k string) string { return vars[k] }
	}

	tests := []struct {
		name string
		goos string
		env  map[string]string
		want []string
	}{
		{
			name: "linux home then etc",
			goos: "linux",
			want: []string{filepath.Join("/home/a", ".config", AppName), "/etc/" + AppName},
		},
		{
			name: "linux honours XDG_CONFIG_HOME",
			goos: "linux",
			env:  map[string]string{"XDG_CONFIG_HOME": "/xdg"},
			want: []string{filepath.Join("/xdg", AppName), "/etc/" + AppName},
		},
		{
			name: "freebsd system dir",
			goos: "freebsd",
			want: []string{filepath.Join("/home/a", ".config", AppName), "/usr/local/etc/" + AppName},
		},
		{
			name: "darwin application support",
			goos: "darwin",
			want: []string{filepath.Join("/home/a", "Library", "Application Support", AppName), "/usr/local/etc/" + AppName},
		},
		{
			name: "windows appdata and programdata",
			goos: "windows",
			env:  map[string]string{"APPDATA": `C:\Users\a\AppData\Roaming`, "ProgramData": `C:\ProgramData`},
			want: []string{filepath.Join(`C:\Users\a\AppData\Roaming`, AppName), filepath.Join(`C:\ProgramData`, AppName)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfigDirs(tt.goos, "/home/a", env(tt.env)))
		})
	}
}

func TestDefaultStoragePath(t *testing.T) {
	assert.Equal(t, "/var/lib/homebridge", DefaultStoragePath("linux", "/home/a"))
	assert.Equal(t, "/var/lib/homebridge", DefaultStoragePath("freebsd", "/home/a"))
	assert.Equal(t, filepath.Join("/Users/a", ".homebridge"), DefaultStoragePath("darwin", "/Users/a"))
}
