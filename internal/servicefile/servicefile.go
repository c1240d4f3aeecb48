// Package servicefile renders OS-native service descriptors. Every generator is
// a pure function of a domain.ServiceDescriptor.
package servicefile

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

var (
	unitUnsafe = regexp.MustCompile(`[^a-z0-9_.@-]+`)
	rcUnsafe   = regexp.MustCompile(`[^a-z0-9_]+`)
)

// UnitName returns the systemd unit base name for a service name.
func UnitName(serviceName string) string {
	return unitUnsafe.ReplaceAllString(strings.ToLower(serviceName), "-")
}

// RCName returns the rc.d script and rcvar prefix for a service name. It must
// be a valid shell identifier.
func RCName(serviceName string) string {
	name := rcUnsafe.ReplaceAllString(strings.ToLower(serviceName), "_")
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}

// LaunchdLabel returns the launchd job label for a service name.
func LaunchdLabel(serviceName string) string {
	return "com." + UnitName(serviceName) + ".server"
}

// SystemdUnitPath returns where the unit file is installed.
func SystemdUnitPath(serviceName string) string {
	return "/etc/systemd/system/" + UnitName(serviceName) + ".service"
}

// LaunchdPlistPath returns where the plist is installed.
func LaunchdPlistPath(serviceName string) string {
	return "/Library/LaunchDaemons/" + LaunchdLabel(serviceName) + ".plist"
}

// RCScriptPath returns where the rc script is installed.
func RCScriptPath(serviceName string) string {
	return "/usr/local/etc/rc.d/" + RCName(serviceName)
}

// group falls back to the run-as user.
func group(d domain.ServiceDescriptor) string {
	if d.Group != "" {
		return d.Group
	}
	return d.RunAsUser
}

func description(d domain.ServiceDescriptor) string {
	if d.Description != "" {
		return d.Description
	}
	return d.ServiceName
}

// templateData is shared by every text template in this package.
type templateData struct {
	domain.ServiceDescriptor
	Name        string
	Label       string
	Group       string
	Description string
	LogPath     string
}

func newTemplateData(d domain.ServiceDescriptor) templateData {
	return templateData{
		ServiceDescriptor: d,
		Name:              UnitName(d.ServiceName),
		Label:             LaunchdLabel(d.ServiceName),
		Group:             group(d),
		Description:       description(d),
	}
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func validate(d domain.ServiceDescriptor) error {
	switch {
	case d.ServiceName == "":
		return fmt.Errorf("service name is required")
	case d.BinaryPath == "":
		return fmt.Errorf("binary path is required")
	case d.StoragePath == "":
		return fmt.Errorf("storage path is required")
	}
	return nil
}
