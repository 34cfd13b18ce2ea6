package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"voyager/internal/config"
	"voyager/internal/depgraph"
	"voyager/internal/resolver"
	"voyager/internal/verifier"
	"voyager/internal/workspace"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"resolution", fmt.Errorf("run: %w", resolver.ErrResolutionFailed), ExitResolutionFailure},
		{"verify", verifier.ErrVerifyFailed, ExitResolutionFailure},
		{"compile", verifier.ErrCompileFailed, ExitResolutionFailure},
		{"cycle", &depgraph.CycleError{Path: []string{"a", "b", "a"}}, ExitConfigError},
		{"unresolved", &depgraph.UnresolvedDependencyError{Crate: "a", Dependency: "x"}, ExitConfigError},
		{"manifest", fmt.Errorf("%w: bad", workspace.ErrManifest), ExitConfigError},
		{"config", config.ErrInvalidConfig, ExitConfigError},
		{"invalid workspace", resolver.ErrInvalidWorkspace, ExitConfigError},
		{"invocation", invalidInvocationf("bad flag"), ExitInvalidInvocation},
		{"invocation without code", &InvocationError{Message: "x"}, ExitInvalidInvocation},
		{"explicit code", &InvocationError{ExitCode: ExitConfigError, Err: errors.New("x")}, ExitConfigError},
		{"cancelled", context.Canceled, ExitInternalError},
		{"other", errors.New("disk on fire"), ExitInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestInvocationError_Message(t *testing.T) {
	inner := errors.New("inner")
	e := &InvocationError{ExitCode: ExitConfigError, Err: inner}
	if e.Error() != "inner" {
		t.Fatalf("unexpected message %q", e.Error())
	}
	if !errors.Is(e, inner) {
		t.Fatalf("expected errors.Is to see the wrapped error")
	}
}

func TestResolveUnderWorkDir(t *testing.T) {
	wd := t.TempDir()
	got, err := resolveUnderWorkDir(wd, "out/../art")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(wd, "art") {
		t.Fatalf("got %s", got)
	}
	abs := filepath.Join(wd, "x")
	if got, _ := resolveUnderWorkDir("/elsewhere", abs); got != abs {
		t.Fatalf("absolute path rewritten: %s", got)
	}
	if _, err := resolveUnderWorkDir(wd, "  "); ExitCode(err) != ExitInvalidInvocation {
		t.Fatalf("expected invocation error, got %v", err)
	}
}
