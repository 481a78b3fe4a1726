package errdefs

const (
	ExitOK                = 0
	ExitAuthentication    = 1
	ExitAccountResolution = 2
	ExitServiceSelection  = 3
	ExitProvisioning      = 4
	ExitUnavailable       = 5
)

// ExitCode maps an error returned by the CLI to the process exit code.
// Errors outside the taxonomy (usage, config) exit with 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindAuthentication:
		return ExitAuthentication
	case KindAccountResolution:
		return ExitAccountResolution
	case KindNotFound, KindAmbiguousService:
		return ExitServiceSelection
	case KindProvisioning:
		return ExitProvisioning
	case KindTransientNetwork:
		return ExitUnavailable
	default:
		return 1
	}
}
