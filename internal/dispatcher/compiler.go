// Package dispatcher orchestrates direct-mode lookup, preprocessor
// fallback, /MP fan-out and pass-through around the real compiler (spec
// §4.8), the way nocc's Daemon orchestrates remote and local compilation.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// InternalFailureExitCode is returned on a wrapper-internal failure that
// isn't the compiler's own nonzero exit (spec §6 exit codes).
const InternalFailureExitCode = 254

// Compiler is the real cl.exe, invoked as a black box: only its stdout,
// stderr, exit code, and the files it writes matter (spec §1 scope).
type Compiler struct {
	Path string
}

// ResolveCompiler finds the real cl.exe: CLCACHE_CL overrides the PATH
// lookup, the way CLCACHE_CL is documented in spec §6.
func ResolveCompiler() (*Compiler, error) {
	if override := os.Getenv("CLCACHE_CL"); override != "" {
		return &Compiler{Path: override}, nil
	}
	path, err := exec.LookPath("cl.exe")
	if err != nil {
		return nil, fmt.Errorf("resolving cl.exe: %w", err)
	}
	return &Compiler{Path: path}, nil
}

// Result is what running the real compiler produced.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner is what the Dispatcher needs from a compiler: run it with some argv
// in some directory, get back its output. *Compiler is the only production
// implementation; tests substitute a fake to avoid spawning cl.exe.
type Runner interface {
	Run(ctx context.Context, cwd string, args []string) (Result, error)
}

// Run executes the compiler with args in cwd, capturing both output streams
// whole (spec §4.8: stdout/stderr must match byte-for-byte what the compiler
// itself would have produced).
func (c *Compiler) Run(ctx context.Context, cwd string, args []string) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
		return result, nil
	}
	// the process never even started (binary missing, permissions, ...)
	return result, err
}
