package firewall

import (
	"context"
	"errors"
	"testing"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/hb-service/internal/domain"
	"github.com/sharkusmanch/hb-service/internal/shell"
)

func TestUFW_AllowRemove(t *testing.T) {
	runner := &shell.MockRunner{}
	ufw := NewUFW(runner)
	rule := Rule{Name: "Homebridge", Ports: []int{51826, 8581}}

	require.NoError(t, ufw.Allow(context.Background(), rule))
	require.NoError(t, ufw.Remove(context.Background(), rule))

	assert.Equal(t, []string{
		"ufw allow 51826/tcp",
		"ufw allow 8581/tcp",
		"ufw delete allow 51826/tcp",
		"ufw delete allow 8581/tcp",
	}, runner.Lines())
}

func TestUFW_StopsOnFailure(t *testing.T) {
	runner := &shell.MockRunner{
		RunFunc: func(_ context.Context, cmd shell.Command) (*shell.Result, error) {
			return nil, &domain.ShellCommandError{Command: cmd.String(), ExitCode: 1}
		},
	}

	err := NewUFW(runner).Allow(context.Background(), Rule{Ports: []int{51826, 8581}})
	require.Error(t, err)
	assert.Len(t, runner.Calls, 1)

	var shellErr *domain.ShellCommandError
	assert.True(t, errors.As(err, &shellErr))
}

func TestFirewalld_Allow(t *testing.T) {
	runner := &shell.MockRunner{}

	require.NoError(t, NewFirewalld(runner).Allow(context.Background(), Rule{Ports: []int{51826, 8581}}))

	assert.Equal(t, []string{
		"firewall-cmd --permanent --add-port=51826/tcp",
		"firewall-cmd --permanent --add-port=8581/tcp",
		"firewall-cmd --reload",
	}, runner.Lines())
}

func TestDetectLinux(t *testing.T) {
	tests := []struct {
		name   string
		ufw    string
		fwd    string
		fwdErr bool
		want   string
	}{
		{name: "ufw active", ufw: "Status: active\n\nTo Action From", want: "ufw"},
		{name: "ufw inactive firewalld running", ufw: "Status: inactive", fwd: "running", want: "firewalld"},
		{name: "nothing active", ufw: "Status: inactive", fwdErr: true, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &shell.MockRunner{
				RunFunc: func(_ context.Context, cmd shell.Command) (*shell.Result, error) {
					switch cmd.Name {
					case "ufw":
						return &shell.Result{Stdout: tt.ufw}, nil
					case "firewall-cmd":
						if tt.fwdErr {
							return &shell.Result{ExitCode: 252}, &domain.ShellCommandError{Command: cmd.String(), ExitCode: 252}
						}
						return &shell.Result{Stdout: tt.fwd}, nil
					}
					return &shell.Result{}, nil
				},
			}

			m := DetectLinux(context.Background(), runner)
			if tt.want == "" {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m.Name())
		})
	}
}

func TestNetsh_AllowReplacesRule(t *testing.T) {
	runner := &shell.MockRunner{}
	rule := Rule{Name: "Homebridge", Ports: []int{51826, 8581}}

	require.NoError(t, NewNetsh(runner).Allow(context.Background(), rule))

	assert.Equal(t, []string{
		"netsh advfirewall firewall delete rule name=Homebridge",
		"netsh advfirewall firewall add rule name=Homebridge dir=in action=allow protocol=TCP localport=51826,8581",
	}, runner.Lines())
}

func TestSocketFilter_SkipsWhenDisabled(t *testing.T) {
	runner := &shell.MockRunner{
		RunFunc: func(_ context.Context, _ shell.Command) (*shell.Result, error) {
			return &shell.Result{Stdout: "Firewall is disabled. (State = 0)"}, nil
		},
	}

	require.NoError(t, NewSocketFilter(runner).Allow(context.Background(), Rule{Program: "/usr/local/bin/node"}))
	assert.Len(t, runner.Calls, 1)
}

func TestSocketFilter_AllowWhenEnabled(t *testing.T) {
	runner := &shell.MockRunner{
		RunFunc: func(_ context.Context, _ shell.Command) (*shell.Result, error) {
			return &shell.Result{Stdout: "Firewall is enabled. (State = 1)"}, nil
		},
	}

	require.NoError(t, NewSocketFilter(runner).Allow(context.Background(), Rule{Program: "/usr/local/bin/node"}))
	assert.Equal(t, []string{
		SocketFilterPath + " --getglobalstate",
		SocketFilterPath + " --add /usr/local/bin/node",
		SocketFilterPath + " --unblockapp /usr/local/bin/node",
	}, runner.Lines())
}

func TestProbe_PidOfPort(t *testing.T) {
	list := func(_ context.Context, kind string) ([]gopsnet.ConnectionStat, error) {
		assert.Equal(t, "tcp", kind)
		return []gopsnet.ConnectionStat{
			{Status: "ESTABLISHED", Laddr: gopsnet.Addr{Port: 8581}, Pid: 10},
			{Status: "LISTEN", Laddr: gopsnet.Addr{Port: 8581}, Pid: 42},
			{Status: "LISTEN", Laddr: gopsnet.Addr{Port: 51826}, Pid: 0},
		}, nil
	}
	p := NewProbe(WithConnectionLister(list))

	pid, ok := p.PidOfPort(context.Background(), 8581)
	assert.True(t, ok)
	assert.Equal(t, 42, pid)

	_, ok = p.PidOfPort(context.Background(), 51826)
	assert.False(t, ok)

	_, ok = p.PidOfPort(context.Background(), 70000)
	assert.False(t, ok)
}

func TestProbe_ListFailure(t *testing.T) {
	p := NewProbe(WithConnectionLister(func(context.Context, string) ([]gopsnet.ConnectionStat, error) {
		return nil, errors.New("permission denied")
	}))

	_, ok := p.PidOfPort(context.Background(), 8581)
	assert.False(t, ok)
}
