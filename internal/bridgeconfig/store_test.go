package bridgeconfig

import (
	"regexp"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(fs afero.Fs) *Store {
	return NewStore("/var/lib/homebridge", "",
		WithFs(fs),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
}

func TestStore_EnsureConfigExists_Missing(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := newTestStore(fs)

	cfg, err := s.EnsureConfigExists()
	require.NoError(t, err)

	assert.Equal(t, DefaultBridgePort, cfg.BridgePort())
	assert.Equal(t, DefaultUIPort, cfg.UIPort())
	assert.Regexp(t, regexp.MustCompile(`^([0-9A-F]{2}:){5}[0-9A-F]{2}$`), cfg.Bridge.Username)
	assert.Regexp(t, regexp.MustCompile(`^\d{3}-\d{2}-\d{3}$`), cfg.Bridge.Pin)

	exists, err := afero.Exists(fs, "/var/lib/homebridge/config.json")
	require.NoError(t, err)
	assert.True(t, exists)

	again, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Bridge.Username, again.Bridge.Username)
}

func TestStore_EnsureConfigExists_Valid(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `{"bridge":{"name":"HB","username":"0E:00:00:00:00:01","port":51900,"pin":"111-22-333"},
"platforms":[{"platform":"config","port":8080},{"platform":"hue"}],"extra":true}`
	require.NoError(t, afero.WriteFile(fs, "/var/lib/homebridge/config.json", []byte(content), 0o644))

	cfg, err := newTestStore(fs).EnsureConfigExists()
	require.NoError(t, err)

	assert.Equal(t, 51900, cfg.BridgePort())
	assert.Equal(t, 8080, cfg.UIPort())

	data, err := afero.ReadFile(fs, "/var/lib/homebridge/config.json")
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestStore_EnsureConfigExists_KeepsMistypedPluginFields(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `{"bridge":{"name":"HB","username":"0E:11:22:33:44:55","port":"51826","pin":"031-45-154"},
"platforms":[{"platform":"config","port":8581},{"platform":"MqttThing","port":"1883"},"odd"],
"accessories":{"not":"an array"}}`
	require.NoError(t, afero.WriteFile(fs, "/var/lib/homebridge/config.json", []byte(content), 0o644))

	cfg, err := newTestStore(fs).EnsureConfigExists()
	require.NoError(t, err)

	assert.Equal(t, "0E:11:22:33:44:55", cfg.Bridge.Username)
	assert.Equal(t, DefaultBridgePort, cfg.BridgePort(), "string port falls back to the default")
	assert.Equal(t, 8581, cfg.UIPort())

	data, err := afero.ReadFile(fs, "/var/lib/homebridge/config.json")
	require.NoError(t, err)
	assert.JSONEq(t, content, string(data))

	backups, err := afero.Glob(fs, "/var/lib/homebridge/config.json.invalid.*")
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestParse_MistypedUIPortUsesDefault(t *testing.T) {
	cfg, err := parse([]byte(`{"platforms":[{"platform":"config","port":"8080"}]}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultUIPort, cfg.UIPort())
	assert.Equal(t, DefaultBridgePort, cfg.BridgePort())
}

func TestStore_EnsureConfigExists_CorruptIsBackedUp(t *testing.T) {
	for name, content := range map[string]string{
		"truncated": `{"bridge": {`,
		"array":     `[]`,
		"null":      `null`,
		"empty":     ``,
	} {
		t.Run(name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/var/lib/homebridge/config.json", []byte(content), 0o644))

			cfg, err := newTestStore(fs).EnsureConfigExists()
			require.NoError(t, err)
			assert.NotEmpty(t, cfg.Bridge.Username)

			backup, err := afero.ReadFile(fs, "/var/lib/homebridge/config.json.invalid.1700000000")
			require.NoError(t, err)
			assert.Equal(t, content, string(backup))
		})
	}
}

func TestStore_EnsureStoragePathExists(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, newTestStore(fs).EnsureStoragePathExists())

	isDir, err := afero.IsDir(fs, "/var/lib/homebridge")
	require.NoError(t, err)
	assert.True(t, isDir)
}

func TestStore_LoadMissing(t *testing.T) {
	_, err := newTestStore(afero.NewMemMapFs()).Load()
	assert.Error(t, err)
}
