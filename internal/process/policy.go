package process

import "fmt"

// RestartPolicy governs whether an exited process is respawned. It is
// attached to a group and applied uniformly to every item in it.
type RestartPolicy string

const (
	RestartAlways RestartPolicy = "always"
	RestartNever  RestartPolicy = "never"
	// RestartUnlessStopped restarts on any exit except one caused by the
	// supervisor's own termination signal.
	RestartUnlessStopped RestartPolicy = "unless-explicitly-stopped"
)

// ParseRestartPolicy validates a policy string from configuration.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch RestartPolicy(s) {
	case RestartAlways, RestartNever, RestartUnlessStopped:
		return RestartPolicy(s), nil
	case "":
		return RestartAlways, nil
	default:
		return "", fmt.Errorf("unknown restart policy %q (supported: always, never, unless-explicitly-stopped)", s)
	}
}

// State is the supervision state of a managed process.
type State string

const (
	StateRunning          State = "running"
	StateRestartScheduled State = "restart-scheduled"
	StateStopped          State = "stopped"
	StateCrashLoopHalted  State = "crash-loop-halted"
)
