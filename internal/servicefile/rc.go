package servicefile

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// RCStartDelaySeconds is how long start_precmd waits for slow boot-time mounts.
const RCStartDelaySeconds = 5

var rcTemplate = template.Must(template.New("rc script").Funcs(template.FuncMap{
	"sq": shellQuote,
}).Parse(`#!/bin/sh
#
# PROVIDE: {{ .RC }}
# REQUIRE: NETWORKING SYSLOG
# KEYWORD: shutdown
#
# Add the following line to /etc/rc.conf to enable {{ .RC }}:
#
# {{ .RC }}_enable="YES"
#

. /etc/rc.subr

name={{ sq .RC }}
rcvar="{{ .RC }}_enable"

load_rc_config $name

: ${ {{- .RC }}_enable:="NO"}
: ${ {{- .RC }}_user:={{ sq .RunAsUser }}}
: ${ {{- .RC }}_group:={{ sq .Group }}}
: ${ {{- .RC }}_storage_path:={{ sq .StoragePath }}}

pidfile="/var/run/${name}.pid"
command="/usr/sbin/daemon"
command_args="-f -P ${pidfile} -r -u ${ {{- .RC }}_user} {{ .BinaryPath }} run --storage-path ${ {{- .RC }}_storage_path}"
start_precmd="{{ .RC }}_precmd"

{{ .RC }}_precmd()
{
	sleep {{ .Delay }}
	/usr/sbin/chown -R "${ {{- .RC }}_user}:${ {{- .RC }}_group}" "${ {{- .RC }}_storage_path}"
	{{ sq .BinaryPath }} before-start --storage-path "${ {{- .RC }}_storage_path}"
}
{{ range $k, $v := .Environment }}
export {{ $k }}={{ sq $v }}
{{- end }}

run_rc_command "$1"
`))

// RC renders a FreeBSD rc.d script for d.
func RC(d domain.ServiceDescriptor) (string, error) {
	if err := validate(d); err != nil {
		return "", fmt.Errorf("invalid descriptor: %w", err)
	}
	if d.RunAsUser == "" {
		return "", fmt.Errorf("invalid descriptor: run-as user is required")
	}

	return render(rcTemplate, struct {
		templateData
		RC    string
		Delay int
	}{
		templateData: newTemplateData(d),
		RC:           RCName(d.ServiceName),
		Delay:        RCStartDelaySeconds,
	})
}

// shellQuote single-quotes s for /bin/sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
