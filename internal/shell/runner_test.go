//go:build !windows

package shell

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

func TestExecRunner_Success(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo hello"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello", res.Stdout)
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}})
	require.Error(t, err)

	var shellErr *domain.ShellCommandError
	require.True(t, errors.As(err, &shellErr))
	assert.Equal(t, 3, shellErr.ExitCode)
	assert.Contains(t, shellErr.Output, "boom")
	assert.Equal(t, 3, res.ExitCode)
}

func TestExecRunner_Env(t *testing.T) {
	r := NewExecRunner()

	res, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo $HB_TEST_VALUE"},
		Env:  map[string]string{"HB_TEST_VALUE": "set"},
	})
	require.NoError(t, err)
	assert.Equal(t, "set", res.Stdout)
}

func TestExecRunner_Stream(t *testing.T) {
	var out bytes.Buffer
	r := NewExecRunner(WithOutput(&out, &out))

	res, err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo streamed"}, Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "streamed", res.Stdout)
	assert.Equal(t, "streamed\n", out.String())
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner()

	_, err := r.Run(context.Background(), Command{Name: "/nonexistent/hb-binary"})
	var shellErr *domain.ShellCommandError
	require.True(t, errors.As(err, &shellErr))
	assert.Equal(t, -1, shellErr.ExitCode)
}

func TestMockRunner_Records(t *testing.T) {
	m := &MockRunner{}
	_, _ = m.Run(context.Background(), Command{Name: "systemctl", Args: []string{"daemon-reload"}})
	_, _ = m.Run(context.Background(), Command{Name: "systemctl", Args: []string{"enable", "homebridge"}})

	assert.Equal(t, []string{"systemctl daemon-reload", "systemctl enable homebridge"}, m.Lines())
	assert.True(t, m.Ran("systemctl enable"))
	assert.Equal(t, 1, m.Index("systemctl enable"))
	assert.Equal(t, -1, m.Index("launchctl"))
}
