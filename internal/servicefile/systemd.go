package servicefile

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// SystemdCapabilities is the bounding set granted to the service. It covers
// binding low ports, raw sockets for mDNS/BLE plugins and the storage chown.
var SystemdCapabilities = []string{
	"CAP_IPC_LOCK",
	"CAP_NET_ADMIN",
	"CAP_NET_BIND_SERVICE",
	"CAP_NET_RAW",
	"CAP_SETGID",
	"CAP_SETUID",
	"CAP_SYS_CHROOT",
	"CAP_CHOWN",
	"CAP_FOWNER",
	"CAP_DAC_OVERRIDE",
	"CAP_AUDIT_WRITE",
}

// SystemdAmbientCapabilities are raised for the unprivileged service user.
var SystemdAmbientCapabilities = []string{"CAP_NET_RAW", "CAP_NET_BIND_SERVICE"}

var systemdTemplate = template.Must(template.New("systemd unit").Funcs(template.FuncMap{
	"join":    strings.Join,
	"sdquote": systemdQuote,
	"sdarg":   systemdArg,
}).Parse(`[Unit]
Description={{ .Description }}
Wants=network-online.target
After=syslog.target network-online.target

[Service]
Type=simple
User={{ .RunAsUser }}
Group={{ .Group }}
WorkingDirectory={{ .StoragePath }}
{{- range $k, $v := .Environment }}
Environment={{ sdquote (printf "%s=%s" $k $v) }}
{{- end }}
ExecStartPre=+/bin/chown -R {{ sdarg (printf "%s:%s" .RunAsUser .Group) }} {{ sdarg .StoragePath }}
ExecStartPre=+{{ sdarg .BinaryPath }} before-start --storage-path {{ sdarg .StoragePath }}
ExecStart={{ sdarg .BinaryPath }} run --storage-path {{ sdarg .StoragePath }}
Restart=always
RestartSec=3
KillMode=process
TimeoutStartSec=90
CapabilityBoundingSet={{ join .Capabilities " " }}
AmbientCapabilities={{ join .Ambient " " }}

[Install]
WantedBy=multi-user.target
`))

// Systemd renders a systemd unit for d.
func Systemd(d domain.ServiceDescriptor) (string, error) {
	if err := validate(d); err != nil {
		return "", fmt.Errorf("invalid descriptor: %w", err)
	}
	if d.RunAsUser == "" {
		return "", fmt.Errorf("invalid descriptor: run-as user is required")
	}

	return render(systemdTemplate, struct {
		templateData
		Capabilities []string
		Ambient      []string
	}{
		templateData: newTemplateData(d),
		Capabilities: SystemdCapabilities,
		Ambient:      SystemdAmbientCapabilities,
	})
}

// systemdArg renders one Exec*= argument. Specifiers and variable references
// are escaped; the word is quoted only when it would otherwise split.
func systemdArg(s string) string {
	s = strings.NewReplacer("%", "%%", "$", "$$").Replace(s)
	if s != "" && !strings.ContainsAny(s, " \t\"'\\;") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// systemdQuote double-quotes an Environment= assignment.
func systemdQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "%", "%%")
	return `"` + r.Replace(s) + `"`
}
