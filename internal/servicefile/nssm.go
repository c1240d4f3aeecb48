package servicefile

import (
	"fmt"
	"strconv"

	"github.com/sharkusmanch/hb-service/internal/domain"
)

// NSSMRestartDelayMillis is the wrapper's delay before restarting an exited process.
const NSSMRestartDelayMillis = 3000

// NSSMInstallArgs returns the nssm invocations that register the service.
// Windows has no descriptor file; the wrapper is configured by arguments.
func NSSMInstallArgs(d domain.ServiceDescriptor) ([][]string, error) {
	if err := validate(d); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}

	name := d.ServiceName
	args := [][]string{
		{"install", name, d.BinaryPath, "run", "--storage-path", d.StoragePath},
		{"set", name, "DisplayName", name},
		{"set", name, "Description", description(d)},
		{"set", name, "AppDirectory", d.StoragePath},
	}

	if len(d.Environment) > 0 {
		env := []string{"set", name, "AppEnvironmentExtra"}
		for _, k := range d.EnvKeys() {
			env = append(env, k+"="+d.Environment[k])
		}
		args = append(args, env)
	}

	args = append(args,
		[]string{"set", name, "AppExit", "Default", "Restart"},
		[]string{"set", name, "AppRestartDelay", strconv.Itoa(NSSMRestartDelayMillis)},
	)

	return args, nil
}

// NSSMAutostartArgs registers the service for boot-time start.
func NSSMAutostartArgs(serviceName string) []string {
	return []string{"set", serviceName, "Start", "SERVICE_AUTO_START"}
}
