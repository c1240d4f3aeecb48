//go:build !windows

package winsvc

import (
	"context"
	"errors"
)

// IsWindowsService is always false off Windows.
func IsWindowsService() bool {
	return false
}

// Run is not available off Windows.
func Run(_ string, _ func(ctx context.Context) error) error {
	return errors.New("windows service control manager is not available on this platform")
}
