//go:build !windows

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ExitsWhenStdinCloses(t *testing.T) {
	storage := t.TempDir()
	cfg := writeConfig(t, `bridge_binary = "/bin/sh"
ui_binary = "/bin/sh"

[supervisor]
restart_delay = "50ms"
stop_grace = "1s"
`)
	var stdout, stderr bytes.Buffer

	done := make(chan int, 1)
	go func() {
		done <- RunContext(context.Background(),
			[]string{"--config", cfg, "--storage-path", storage, "run", "--stdin-ipc"},
			WithIO(strings.NewReader(""), &stdout, &stderr),
			WithLoader(fakeLoader("linux")),
		)
	}()

	select {
	case code := <-done:
		assert.Equal(t, 0, code, stderr.String())
	case <-time.After(10 * time.Second):
		t.Fatal("run did not exit after stdin closed")
	}

	data, err := os.ReadFile(filepath.Join(storage, "homebridge.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "starting hb-service in foreground mode")
	assert.Contains(t, string(data), "parent process went away")
	assert.Contains(t, stdout.String(), "starting hb-service in foreground mode", "output is teed outside service mode")
}

func TestRun_StopsOnCancel(t *testing.T) {
	storage := t.TempDir()
	cfg := writeConfig(t, `bridge_binary = "/bin/sleep"
ui_binary = "/bin/sleep"
`)
	var stdout, stderr bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- RunContext(ctx,
			[]string{"--config", cfg, "--storage-path", storage, "run"},
			WithIO(strings.NewReader(""), &stdout, &stderr),
			WithLoader(fakeLoader("linux")),
		)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case code := <-done:
		assert.Equal(t, 0, code, stderr.String())
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
