package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"voyager/internal/config"
	"voyager/internal/depgraph"
	"voyager/internal/resolver"
	"voyager/internal/verifier"
	"voyager/internal/workspace"
)

const (
	ExitSuccess           = 0
	ExitResolutionFailure = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError carries an explicit exit code.
type InvocationError struct {
	ExitCode int
	Message  string
	Err      error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *InvocationError) Unwrap() error { return e.Err }

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	switch {
	case errors.Is(err, resolver.ErrResolutionFailed),
		errors.Is(err, verifier.ErrCompileFailed),
		errors.Is(err, verifier.ErrVerifyFailed):
		return ExitResolutionFailure
	case errors.Is(err, resolver.ErrInvalidWorkspace),
		errors.Is(err, workspace.ErrManifest),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, depgraph.ErrCycle),
		errors.Is(err, depgraph.ErrUnresolvedDependency),
		errors.Is(err, depgraph.ErrInvalidGraph):
		return ExitConfigError
	default:
		return ExitInternalError
	}
}

// resolveUnderWorkDir makes p absolute relative to workDir.
func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Join(workDir, clean), nil
}
