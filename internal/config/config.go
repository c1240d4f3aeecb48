package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings holds all application configuration. It is built once at process
// entry and passed down by pointer; nothing below the CLI reads the environment.
type Settings struct {
	ServiceName     string `mapstructure:"service_name"`
	StoragePath     string `mapstructure:"storage_path"`
	ConfigPath      string `mapstructure:"config_path"`
	User            string `mapstructure:"user"`
	Port            int    `mapstructure:"port"`
	UIPort          int    `mapstructure:"ui_port"`
	InsecureMode    bool   `mapstructure:"insecure_mode"`
	LogNoTimestamps bool   `mapstructure:"log_no_timestamps"`
	ServiceMode     bool   `mapstructure:"service_mode"`
	AllowRoot       bool   `mapstructure:"allow_root"`
	PackageMode     bool   `mapstructure:"package_mode"`
	DebugBridge     bool   `mapstructure:"debug_bridge"`
	PluginPath      string `mapstructure:"plugin_path"`
	BridgeBinary    string `mapstructure:"bridge_binary"`
	UIBinary        string `mapstructure:"ui_binary"`
	NodePath        string `mapstructure:"node_path"`
	NpmPath         string `mapstructure:"npm_path"`

	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Windows    WindowsConfig    `mapstructure:"windows"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Apprise    AppriseConfig    `mapstructure:"apprise"`
	Log        LogConfig        `mapstructure:"log"`

	// Host facts captured once by the loader.
	Host HostFacts `mapstructure:"-"`
}

// HostFacts are process and environment facts read once at entry.
type HostFacts struct {
	GOOS       string
	GOARCH     string
	BinaryPath string
	SudoUser   string
	Home       string
	PathEnv    string
}

// SupervisorConfig holds foreground supervisor tuning.
type SupervisorConfig struct {
	RestartDelay time.Duration `mapstructure:"restart_delay"`
	StopGrace    time.Duration `mapstructure:"stop_grace"`
}

// RuntimeConfig holds runtime update settings.
type RuntimeConfig struct {
	DistURL         string        `mapstructure:"dist_url"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	SafeRoots       []string      `mapstructure:"safe_roots"`
}

// WindowsConfig holds Windows service wrapper settings.
type WindowsConfig struct {
	NSSMPath string `mapstructure:"nssm_path"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// RetryConfig holds HTTP retry configuration.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// AppriseConfig holds Apprise notification configuration.
type AppriseConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	URL     string      `mapstructure:"url"`
	Key     string      `mapstructure:"key"`
	Tag     string      `mapstructure:"tag"`
	URLs    []string    `mapstructure:"urls"`
	Notify  NotifyLevel `mapstructure:"notify"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// LogPath returns the shared log sink path.
func (s *Settings) LogPath() string {
	if s.Log.Output != "" {
		return s.Log.Output
	}
	return filepath.Join(s.StoragePath, LogFileName)
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configPath string
	goos       string
	goarch     string
	getenv     func(string) string
	lookPath   func(string) (string, error)
	executable func() (string, error)
	homeDir    func() (string, error)
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:          viper.New(),
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
		getenv:     os.Getenv,
		lookPath:   exec.LookPath,
		executable: os.Executable,
		homeDir:    os.UserHomeDir,
	}
}

// WithConfigPath sets a specific config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithPlatform overrides the detected OS and architecture.
func (l *Loader) WithPlatform(goos, goarch string) *Loader {
	l.goos = goos
	l.goarch = goarch
	return l
}

// WithLookPath overrides binary discovery.
func (l *Loader) WithLookPath(lookPath func(string) (string, error)) *Loader {
	l.lookPath = lookPath
	return l
}

// WithGetenv overrides the environment used for host facts.
func (l *Loader) WithGetenv(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

// Load reads configuration from all sources and returns the merged settings.
// Precedence (highest to lowest): CLI flags > environment > config file > defaults.
func (l *Loader) Load() (*Settings, error) {
	l.setDefaults()
	l.setupEnvBindings()

	if err := l.loadConfigFile(); err != nil {
		return nil, err
	}

	var s Settings
	if err := l.v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.derive(&s); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &s, nil
}

// derive fills host facts and values that depend on other settings.
func (l *Loader) derive(s *Settings) error {
	home, err := l.homeDir()
	if err != nil {
		home = l.getenv("HOME")
	}

	s.Host = HostFacts{
		GOOS:     l.goos,
		GOARCH:   l.goarch,
		SudoUser: l.getenv("SUDO_USER"),
		Home:     home,
		PathEnv:  l.getenv("PATH"),
	}

	if bin, err := l.executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(bin); err == nil {
			bin = resolved
		}
		s.Host.BinaryPath = bin
	}

	if s.StoragePath == "" {
		s.StoragePath = DefaultStoragePath(l.goos, home)
	}
	if s.ConfigPath == "" {
		s.ConfigPath = filepath.Join(s.StoragePath, BridgeConfigFileName)
	}

	if s.NodePath == "" {
		if p, err := l.lookPath("node"); err == nil {
			s.NodePath = p
		}
	}
	if s.NpmPath == "" {
		if p, err := l.lookPath("npm"); err == nil {
			s.NpmPath = p
		}
	}

	return nil
}

// setDefaults sets default values for all configuration options.
func (l *Loader) setDefaults() {
	l.v.SetDefault("service_name", DefaultServiceName)
	l.v.SetDefault("storage_path", "")
	l.v.SetDefault("config_path", "")
	l.v.SetDefault("user", "")
	l.v.SetDefault("port", DefaultBridgePort)
	l.v.SetDefault("ui_port", DefaultUIPort)
	l.v.SetDefault("insecure_mode", false)
	l.v.SetDefault("log_no_timestamps", false)
	l.v.SetDefault("service_mode", false)
	l.v.SetDefault("allow_root", false)
	l.v.SetDefault("package_mode", false)
	l.v.SetDefault("debug_bridge", false)
	l.v.SetDefault("plugin_path", "")
	l.v.SetDefault("bridge_binary", DefaultBridgeBinary)
	l.v.SetDefault("ui_binary", DefaultUIBinary)
	l.v.SetDefault("node_path", "")
	l.v.SetDefault("npm_path", "")

	l.v.SetDefault("supervisor.restart_delay", DefaultRestartDelay)
	l.v.SetDefault("supervisor.stop_grace", DefaultStopGrace)

	l.v.SetDefault("runtime.dist_url", DefaultDistURL)
	l.v.SetDefault("runtime.download_timeout", DefaultDownloadTimeout)
	l.v.SetDefault("runtime.safe_roots", DefaultSafeRoots)

	l.v.SetDefault("windows.nssm_path", DefaultNSSMPath)

	l.v.SetDefault("retry.max_attempts", DefaultRetryMaxAttempts)
	l.v.SetDefault("retry.initial_delay", DefaultRetryInitialDelay)
	l.v.SetDefault("retry.max_delay", DefaultRetryMaxDelay)

	l.v.SetDefault("metrics.enabled", DefaultMetricsEnabled)
	l.v.SetDefault("metrics.pushgateway_url", DefaultMetricsPushgatewayURL)
	l.v.SetDefault("metrics.job", DefaultMetricsJob)

	l.v.SetDefault("apprise.enabled", DefaultAppriseEnabled)
	l.v.SetDefault("apprise.url", DefaultAppriseURL)
	l.v.SetDefault("apprise.key", DefaultAppriseKey)
	l.v.SetDefault("apprise.tag", "")
	l.v.SetDefault("apprise.urls", []string{})
	l.v.SetDefault("apprise.notify", string(DefaultAppriseNotify))

	l.v.SetDefault("log.level", DefaultLogLevel)
	l.v.SetDefault("log.output", "")
	l.v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
}

// setupEnvBindings configures environment variable bindings. UIX_STORAGE_PATH
// maps to storage_path, UIX_LOG_LEVEL to log.level.
func (l *Loader) setupEnvBindings() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

// loadConfigFile loads configuration from a file.
func (l *Loader) loadConfigFile() error {
	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		home, _ := l.homeDir()
		l.v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
		l.v.SetConfigType("toml")
		for _, dir := range ConfigDirs(l.goos, home, l.getenv) {
			l.v.AddConfigPath(dir)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is not an error - use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// Set sets a configuration value (for CLI flag overrides).
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// ConfigFileUsed returns the path of the config file used, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Validate checks if the configuration is valid.
func (s *Settings) Validate() error {
	if strings.TrimSpace(s.ServiceName) == "" {
		return fmt.Errorf("service_name cannot be empty")
	}

	if !validPort(s.Port) {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if !validPort(s.UIPort) {
		return fmt.Errorf("ui_port must be between 1 and 65535, got %d", s.UIPort)
	}

	if s.Port == s.UIPort {
		return fmt.Errorf("port and ui_port must differ, both are %d", s.Port)
	}

	if s.Supervisor.RestartDelay <= 0 {
		return fmt.Errorf("supervisor.restart_delay must be positive")
	}

	if s.Supervisor.StopGrace <= 0 {
		return fmt.Errorf("supervisor.stop_grace must be positive")
	}

	if s.Runtime.DownloadTimeout <= 0 {
		return fmt.Errorf("runtime.download_timeout must be positive")
	}

	if len(s.Runtime.SafeRoots) == 0 {
		return fmt.Errorf("runtime.safe_roots cannot be empty")
	}

	if s.Metrics.Enabled {
		if s.Metrics.PushgatewayURL == "" {
			return fmt.Errorf("metrics.pushgateway_url is required when metrics is enabled")
		}
	}

	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	if s.Retry.InitialDelay < 0 {
		return fmt.Errorf("retry.initial_delay cannot be negative")
	}

	if s.Retry.MaxDelay < s.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.initial_delay")
	}

	if s.Apprise.Enabled {
		if s.Apprise.URL == "" {
			return fmt.Errorf("apprise.url is required when apprise is enabled")
		}
		if s.Apprise.Key == "" && len(s.Apprise.URLs) == 0 {
			return fmt.Errorf("apprise.key or apprise.urls is required when apprise is enabled")
		}
		if !s.Apprise.Notify.IsValid() {
			return fmt.Errorf("apprise.notify must be one of: error, warning, always")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(s.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if s.Log.MaxSizeMB < 1 {
		return fmt.Errorf("log.max_size_mb must be at least 1")
	}

	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// WriteExampleConfig writes an example config file to the given path.
func WriteExampleConfig(path string) error {
	content := `# hb-service configuration
#
# Every key can also be set through the environment with the UIX_ prefix,
# for example UIX_STORAGE_PATH or UIX_LOG_LEVEL.

# Service name registered with the OS service manager
service_name = "Homebridge"

# Bridge storage directory (OS default if empty)
# storage_path = "/var/lib/homebridge"

# Fallback ports when config.json does not set them
port = 51826
ui_port = 8581

[supervisor]
restart_delay = "5s"
stop_grace = "10s"

[runtime]
dist_url = "https://nodejs.org/dist"
download_timeout = "10m"
safe_roots = ["/usr/local", "/opt/homebridge"]

# HTTP retry configuration
[retry]
max_attempts = 3
initial_delay = "5s"
max_delay = "30s"

# Prometheus metrics (optional, disabled by default)
[metrics]
enabled = false
pushgateway_url = "http://pushgateway:9091"
job = "hb-service"

# Apprise crash notifications (optional, disabled by default)
[apprise]
enabled = false
url = "http://localhost:8000"
key = "homebridge"
# Without a key, send to these Apprise URLs instead
# urls = ["tgram://bottoken/ChatID"]
# Only deliver to Apprise services carrying this tag
# tag = "homebridge"
# Notification level: "error", "warning", "always"
notify = "error"

[log]
# Level: debug, info, warn, error
level = "info"
# Max log file size before rotation (MB)
max_size_mb = 10
`
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(content), 0600)
}
