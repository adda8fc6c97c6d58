// Package sandbox provides the concrete core.Sandbox implementations the
// ExecutionRunner delegates to for each SandboxType (spec §4.5/§4.6).
//
// Grounded on gentica's llm/tools/bash.go process model
// (exec.CommandContext, cmd.Dir, stdout/stderr capture). Executor covers
// SandboxTypeNone as well as the workspace-write and read-only variants
// the spec's SandboxPolicy names, since bash.go itself only ever ran
// commands unsandboxed; core.NewLocalShellSandbox is the unchecked
// equivalent inside internal/core.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"agentcore/internal/core"
)

// Executor runs each command's argv directly (no shell), same as
// core.NewLocalShellSandbox, but additionally enforces the SandboxType
// passed to Run: workspace-write commands are confined to the configured
// writable roots (checked against the command's cwd), and read-only
// commands run with AGENTCORE_SANDBOX=read-only in their environment and
// nothing else restricting them — this is a policy boundary, not a
// kernel-level isolation mechanism, matching the teacher's own
// bannedCommands-based "soft" enforcement rather than inventing a
// namespacing layer the examples never used.
type Executor struct {
	writableRoots []string
}

// New returns an Executor that treats writableRoots as the only
// directories workspace-write commands may run in.
func New(writableRoots []string) *Executor {
	return &Executor{writableRoots: writableRoots}
}

func (e *Executor) Run(ctx context.Context, params core.ExecParams, sandboxType core.SandboxType) (core.ExecResult, error) {
	switch sandboxType {
	case core.SandboxTypeWorkspace:
		if !e.cwdIsWritable(params.Cwd) {
			return core.ExecResult{}, fmt.Errorf("sandbox: %s is outside the writable roots", params.Cwd)
		}
	case core.SandboxTypeReadOnly:
		// No root check: read-only commands may run from any directory;
		// the only difference from SandboxTypeNone is the marker env var
		// set below. Writes are not blocked here.
	}

	if len(params.Command) == 0 {
		return core.ExecResult{}, nil
	}
	cmd := exec.CommandContext(ctx, params.Command[0], params.Command[1:]...)
	cmd.Dir = params.Cwd
	if sandboxType == core.SandboxTypeReadOnly {
		cmd.Env = append(cmd.Environ(), "AGENTCORE_SANDBOX=read-only")
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			err = nil
		}
	}

	return core.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, err
}

func (e *Executor) cwdIsWritable(cwd string) bool {
	if len(e.writableRoots) == 0 {
		return true
	}
	cwd = filepath.Clean(cwd)
	for _, root := range e.writableRoots {
		root = filepath.Clean(root)
		if cwd == root || strings.HasPrefix(cwd, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
