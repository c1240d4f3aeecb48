package servicefile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

func testDescriptor() domain.ServiceDescriptor {
	return domain.ServiceDescriptor{
		ServiceName: "Homebridge",
		StoragePath: "/var/lib/homebridge",
		BinaryPath:  "/usr/local/bin/hb-service",
		RunAsUser:   "alice",
		Home:        "/home/alice",
		Port:        51826,
		UIPort:      8581,
		PathEnv:     "/usr/local/bin:/usr/bin:/bin",
		Environment: map[string]string{
			"UIX_STORAGE_PATH": "/var/lib/homebridge",
			"UIX_SERVICE_MODE": "1",
			"HOME":             "/home/alice",
		},
	}
}

func TestGenerators_Deterministic(t *testing.T) {
	generators := map[string]func(domain.ServiceDescriptor) (string, error){
		"systemd": Systemd,
		"launchd": Launchd,
		"rc":      RC,
	}

	for name, gen := range generators {
		t.Run(name, func(t *testing.T) {
			first, err := gen(testDescriptor())
			require.NoError(t, err)

			for i := 0; i < 5; i++ {
				again, err := gen(testDescriptor())
				require.NoError(t, err)
				assert.Equal(t, first, again)
			}
		})
	}

	first, err := NSSMInstallArgs(testDescriptor())
	require.NoError(t, err)
	again, err := NSSMInstallArgs(testDescriptor())
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestGenerators_RejectIncompleteDescriptor(t *testing.T) {
	d := testDescriptor()
	d.BinaryPath = ""

	_, err := Systemd(d)
	assert.Error(t, err)
	_, err = Launchd(d)
	assert.Error(t, err)
	_, err = RC(d)
	assert.Error(t, err)
	_, err = NSSMInstallArgs(d)
	assert.Error(t, err)

	d = testDescriptor()
	d.RunAsUser = ""
	_, err = Systemd(d)
	assert.Error(t, err)
}

func TestSystemd_Content(t *testing.T) {
	unit, err := Systemd(testDescriptor())
	require.NoError(t, err)

	for _, want := range []string{
		"After=syslog.target network-online.target",
		"Wants=network-online.target",
		"User=alice",
		"Group=alice",
		"Restart=always",
		"RestartSec=3",
		"TimeoutStartSec=90",
		"ExecStartPre=+/bin/chown -R alice:alice /var/lib/homebridge",
		"ExecStartPre=+/usr/local/bin/hb-service before-start --storage-path /var/lib/homebridge",
		"ExecStart=/usr/local/bin/hb-service run --storage-path /var/lib/homebridge",
		`Environment="UIX_SERVICE_MODE=1"`,
		"AmbientCapabilities=CAP_NET_RAW CAP_NET_BIND_SERVICE",
		"WantedBy=multi-user.target",
	} {
		assert.Contains(t, unit, want)
	}

	assert.NotContains(t, unit, "CAP_SYS_ADMIN")
	assert.Less(t, strings.Index(unit, `Environment="HOME=`), strings.Index(unit, `Environment="UIX_SERVICE_MODE=`))
}

func TestSystemd_QuotesEnvironment(t *testing.T) {
	d := testDescriptor()
	d.Environment = map[string]string{"NODE_OPTIONS": `--title "hb" 100%`}

	unit, err := Systemd(d)
	require.NoError(t, err)
	assert.Contains(t, unit, `Environment="NODE_OPTIONS=--title \"hb\" 100%%"`)
}

func TestSystemd_QuotesExecArguments(t *testing.T) {
	d := testDescriptor()
	d.StoragePath = "/srv/home bridge"
	d.BinaryPath = "/opt/hb $bin/hb-service"
	d.Group = "users"

	unit, err := Systemd(d)
	require.NoError(t, err)

	for _, want := range []string{
		`ExecStartPre=+/bin/chown -R alice:users "/srv/home bridge"`,
		`ExecStartPre=+"/opt/hb $$bin/hb-service" before-start --storage-path "/srv/home bridge"`,
		`ExecStart="/opt/hb $$bin/hb-service" run --storage-path "/srv/home bridge"`,
	} {
		assert.Contains(t, unit, want)
	}
}

func TestSystemdArg(t *testing.T) {
	for in, want := range map[string]string{
		"/var/lib/homebridge": "/var/lib/homebridge",
		"/a b":                `"/a b"`,
		`/a"b`:                `"/a\"b"`,
		"/50%":                "/50%%",
		"":                    `""`,
	} {
		assert.Equal(t, want, systemdArg(in), in)
	}
}

func TestLaunchd_Content(t *testing.T) {
	d := testDescriptor()
	d.Environment = map[string]string{"HOMEBRIDGE_CONFIG_UI_TERMINAL": "1"}

	plist, err := Launchd(d)
	require.NoError(t, err)

	for _, want := range []string{
		"<key>RunAtLoad</key>\n\t<true/>",
		"<key>KeepAlive</key>\n\t<true/>",
		"<string>com.homebridge.server</string>",
		"<key>UserName</key>\n\t<string>alice</string>",
		"<key>PATH</key>\n\t\t<string>/usr/local/bin:/usr/bin:/bin</string>",
		"<key>HOME</key>\n\t\t<string>/home/alice</string>",
		"<key>UIX_STORAGE_PATH</key>\n\t\t<string>/var/lib/homebridge</string>",
		"<string>/var/lib/homebridge/hb-service-launchd.log</string>",
	} {
		assert.Contains(t, plist, want)
	}
}

func TestLaunchd_EscapesXML(t *testing.T) {
	d := testDescriptor()
	d.StoragePath = "/Users/a&b/.homebridge"

	plist, err := Launchd(d)
	require.NoError(t, err)
	assert.Contains(t, plist, "/Users/a&amp;b/.homebridge")
	assert.NotContains(t, plist, "a&b")
}

func TestRC_Content(t *testing.T) {
	script, err := RC(testDescriptor())
	require.NoError(t, err)

	for _, want := range []string{
		"# PROVIDE: homebridge",
		"# REQUIRE: NETWORKING SYSLOG",
		"# KEYWORD: shutdown",
		`rcvar="homebridge_enable"`,
		`: ${homebridge_user:='alice'}`,
		`start_precmd="homebridge_precmd"`,
		"\tsleep 5\n\t/usr/sbin/chown -R",
		"export UIX_SERVICE_MODE='1'",
		`run_rc_command "$1"`,
	} {
		assert.Contains(t, script, want)
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "homebridge", UnitName("Homebridge"))
	assert.Equal(t, "my-bridge", UnitName("My Bridge"))
	assert.Equal(t, "my_bridge", RCName("My-Bridge"))
	assert.Equal(t, "_2bridge", RCName("2bridge"))
	assert.Equal(t, "/etc/systemd/system/homebridge.service", SystemdUnitPath("Homebridge"))
	assert.Equal(t, "/Library/LaunchDaemons/com.homebridge.server.plist", LaunchdPlistPath("Homebridge"))
	assert.Equal(t, "/usr/local/etc/rc.d/homebridge", RCScriptPath("Homebridge"))
}

func TestNSSMInstallArgs(t *testing.T) {
	d := testDescriptor()
	d.StoragePath = `C:\Users\alice\.homebridge`
	d.BinaryPath = `C:\Program Files\hb-service\hb-service.exe`

	args, err := NSSMInstallArgs(d)
	require.NoError(t, err)

	assert.Equal(t, []string{"install", "Homebridge", d.BinaryPath, "run", "--storage-path", d.StoragePath}, args[0])
	assert.Contains(t, args, []string{"set", "Homebridge", "AppExit", "Default", "Restart"})
	assert.Contains(t, args, []string{"set", "Homebridge", "AppRestartDelay", "3000"})
	assert.Contains(t, args, []string{"set", "Homebridge", "AppEnvironmentExtra",
		"HOME=/home/alice", "UIX_SERVICE_MODE=1", "UIX_STORAGE_PATH=/var/lib/homebridge"})
	assert.Equal(t, []string{"set", "Homebridge", "Start", "SERVICE_AUTO_START"}, NSSMAutostartArgs("Homebridge"))
}
