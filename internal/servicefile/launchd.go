package servicefile

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"text/template"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// LaunchdLogName is the launchd stdout/stderr file under the storage path.
const LaunchdLogName = "hb-service-launchd.log"

var launchdTemplate = template.Must(template.New("launchd plist").Funcs(template.FuncMap{
	"xml": xmlEscape,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>Label</key>
	<string>{{ xml .Label }}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{ xml .BinaryPath }}</string>
		<string>run</string>
		<string>--storage-path</string>
		<string>{{ xml .StoragePath }}</string>
	</array>
	<key>WorkingDirectory</key>
	<string>{{ xml .StoragePath }}</string>
	<key>StandardOutPath</key>
	<string>{{ xml .LogPath }}</string>
	<key>StandardErrorPath</key>
	<string>{{ xml .LogPath }}</string>
	<key>UserName</key>
	<string>{{ xml .RunAsUser }}</string>
	<key>SessionCreate</key>
	<true/>
	<key>EnvironmentVariables</key>
	<dict>
{{- range $k, $v := .Environment }}
		<key>{{ xml $k }}</key>
		<string>{{ xml $v }}</string>
{{- end }}
	</dict>
</dict>
</plist>
`))

// Launchd renders a LaunchDaemon plist for d. launchd does not inherit a shell
// environment, so PATH, HOME and the storage path are always present.
func Launchd(d domain.ServiceDescriptor) (string, error) {
	if err := validate(d); err != nil {
		return "", fmt.Errorf("invalid descriptor: %w", err)
	}
	if d.RunAsUser == "" {
		return "", fmt.Errorf("invalid descriptor: run-as user is required")
	}

	env := make(map[string]string, len(d.Environment)+3)
	for k, v := range d.Environment {
		env[k] = v
	}
	if _, ok := env["PATH"]; !ok && d.PathEnv != "" {
		env["PATH"] = d.PathEnv
	}
	if _, ok := env["HOME"]; !ok && d.Home != "" {
		env["HOME"] = d.Home
	}
	if _, ok := env["UIX_STORAGE_PATH"]; !ok {
		env["UIX_STORAGE_PATH"] = d.StoragePath
	}
	d.Environment = env

	data := newTemplateData(d)
	data.LogPath = path.Join(d.StoragePath, LaunchdLogName)

	return render(launchdTemplate, data)
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
