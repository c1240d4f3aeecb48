// Package bridgeconfig is the boundary to the bridge's own configuration. It
// only guarantees the storage directory exists and config.json is valid JSON;
// the schema belongs to the bridge.
package bridgeconfig

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// Fallback ports when config.json does not name them.
const (
	DefaultBridgePort = 51826
	DefaultUIPort     = 8581
)

// Config is the subset of config.json this tool reads.
type Config struct {
	Bridge      Bridge            `json:"bridge"`
	Accessories []json.RawMessage `json:"accessories"`
	Platforms   []Platform        `json:"platforms"`
}

// Bridge is the bridge section of config.json.
type Bridge struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Port     int    `json:"port"`
	Pin      string `json:"pin"`
}

// Platform is one platforms[] entry. Only the UI platform is interpreted.
type Platform struct {
	Platform string `json:"platform"`
	Name     string `json:"name,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// BridgePort returns the bridge port, or the default.
func (c *Config) BridgePort() int {
	if c.Bridge.Port > 0 {
		return c.Bridge.Port
	}
	return DefaultBridgePort
}

// UIPort returns the UI platform port, or the default.
func (c *Config) UIPort() int {
	for _, p := range c.Platforms {
		if p.Platform == "config" && p.Port > 0 {
			return p.Port
		}
	}
	return DefaultUIPort
}

// Store reads and repairs config.json under the storage path.
type Store struct {
	fs          afero.Fs
	storagePath string
	configPath  string
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithFs sets the filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

// WithClock sets the time source used for backup suffixes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store for storagePath. An empty configPath means
// <storagePath>/config.json.
func NewStore(storagePath, configPath string, opts ...Option) *Store {
	if configPath == "" {
		configPath = filepath.Join(storagePath, "config.json")
	}

	s := &Store{
		fs:          afero.NewOsFs(),
		storagePath: storagePath,
		configPath:  configPath,
		now:         time.Now,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ConfigPath returns the config.json path.
func (s *Store) ConfigPath() string {
	return s.configPath
}

// EnsureStoragePathExists creates the storage directory.
func (s *Store) EnsureStoragePathExists() error {
	if err := s.fs.MkdirAll(s.storagePath, 0o755); err != nil {
		return fmt.Errorf("failed to create storage path %s: %w", s.storagePath, err)
	}
	return nil
}

// Load reads config.json without repairing it.
func (s *Store) Load() (*Config, error) {
	data, err := afero.ReadFile(s.fs, s.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.configPath, err)
	}
	return parse(data)
}

// EnsureConfigExists returns the current config, writing a default when the
// file is missing and backing up then replacing it when it is not valid JSON.
func (s *Store) EnsureConfigExists() (*Config, error) {
	data, err := afero.ReadFile(s.fs, s.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("config.json not found, creating default", "path", s.configPath)
		return s.writeDefault()
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", s.configPath, err)
	}

	cfg, err := parse(data)
	if err == nil {
		return cfg, nil
	}

	backup := fmt.Sprintf("%s.invalid.%d", s.configPath, s.now().Unix())
	s.logger.Warn("config.json is not valid, backing up and replacing with default",
		"path", s.configPath, "backup", backup, "error", err)

	if err := s.fs.Rename(s.configPath, backup); err != nil {
		return nil, fmt.Errorf("failed to back up invalid config: %w", err)
	}
	return s.writeDefault()
}

func (s *Store) writeDefault() (*Config, error) {
	if err := s.EnsureStoragePathExists(); err != nil {
		return nil, err
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := afero.WriteFile(s.fs, s.configPath, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", s.configPath, err)
	}
	return cfg, nil
}

// parse accepts any JSON object. Fields this tool reads are picked out
// leniently: a value of the wrong type is ignored, never an error, because
// the bridge and its plugins own the schema.
func parse(data []byte) (*Config, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if top == nil {
		return nil, fmt.Errorf("failed to parse config: not a JSON object")
	}

	cfg := &Config{}

	var bridge map[string]json.RawMessage
	if json.Unmarshal(top["bridge"], &bridge) == nil {
		cfg.Bridge = Bridge{
			Name:     field[string](bridge, "name"),
			Username: field[string](bridge, "username"),
			Port:     field[int](bridge, "port"),
			Pin:      field[string](bridge, "pin"),
		}
	}

	_ = json.Unmarshal(top["accessories"], &cfg.Accessories)

	var platforms []json.RawMessage
	if json.Unmarshal(top["platforms"], &platforms) == nil {
		for _, raw := range platforms {
			var entry map[string]json.RawMessage
			if json.Unmarshal(raw, &entry) != nil {
				continue
			}
			cfg.Platforms = append(cfg.Platforms, Platform{
				Platform: field[string](entry, "platform"),
				Name:     field[string](entry, "name"),
				Port:     field[int](entry, "port"),
			})
		}
	}

	return cfg, nil
}

// field decodes obj[key] as T, or returns the zero value.
func field[T any](obj map[string]json.RawMessage, key string) T {
	var v T
	if raw, ok := obj[key]; ok {
		if err := json.Unmarshal(raw, &v); err != nil {
			var zero T
			return zero
		}
	}
	return v
}

// DefaultConfig returns a fresh bridge config with a random identity.
func DefaultConfig() (*Config, error) {
	mac, err := randomMAC()
	if err != nil {
		return nil, err
	}
	pin, err := randomPin()
	if err != nil {
		return nil, err
	}

	suffix := strings.ReplaceAll(mac[len(mac)-5:], ":", "")
	return &Config{
		Bridge: Bridge{
			Name:     "Homebridge " + suffix,
			Username: mac,
			Port:     DefaultBridgePort,
			Pin:      pin,
		},
		Accessories: []json.RawMessage{},
		Platforms: []Platform{
			{Platform: "config", Name: "Config", Port: DefaultUIPort},
		},
	}, nil
}

// randomMAC returns a locally administered unicast address.
func randomMAC() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate bridge username: %w", err)
	}
	b[0] = (b[0] | 0x02) &^ 0x01
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5]), nil
}

// randomPin returns a setup code in NNN-NN-NNN form.
func randomPin() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate bridge pin: %w", err)
	}
	d := make([]byte, 8)
	for i := range b {
		d[i] = '0' + b[i]%10
	}
	return fmt.Sprintf("%s-%s-%s", d[0:3], d[3:5], d[5:8]), nil
}
