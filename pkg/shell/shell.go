// Copyright 2025 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shell is the external command execution boundary. Every call asks
// a ConfirmationHandler, spawns a fresh shell (no state persists between
// invocations), races the process against the call's timeout, and
// propagates cancellation by killing the process group.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"
)

// Args is one command invocation.
type Args struct {
	Command          string `json:"command"`
	TimeoutSeconds   int    `json:"timeoutSeconds,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
}

// Result is the outcome of a command. ExitCode is nil when the process did
// not run to completion (denied, timed out, failed to start).
type Result struct {
	Command       string `json:"command"`
	ExitCode      *int   `json:"exitCode,omitempty"`
	Output        string `json:"output"`
	PartialOutput string `json:"partialOutput,omitempty"`
}

// ConfirmationHandler decides whether a command may run. Reason is reported
// to the caller on denial.
type ConfirmationHandler interface {
	Confirm(ctx context.Context, args Args) (approved bool, reason string)
}

// ConfirmFunc adapts a function to a ConfirmationHandler.
type ConfirmFunc func(ctx context.Context, args Args) (bool, string)

func (f ConfirmFunc) Confirm(ctx context.Context, args Args) (bool, string) {
	return f(ctx, args)
}

// ApproveAll approves every command. Use only in trusted environments.
var ApproveAll = ConfirmFunc(func(context.Context, Args) (bool, string) {
	return true, ""
})

// DefaultDeniedCommands are base commands blocked before confirmation.
var DefaultDeniedCommands = []string{
	"sudo", "su", "dd", "mkfs", "fdisk", "mount", "umount",
	"reboot", "shutdown", "passwd", "useradd", "userdel",
}

// DefaultDeniedPatterns block dangerous command shapes.
var DefaultDeniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-rf|-fr|--recursive)`),
	regexp.MustCompile(`>\s*/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),
	regexp.MustCompile(`wget.*\|\s*sh`),
	regexp.MustCompile(`curl.*\|\s*sh`),
	regexp.MustCompile(`>\s*/etc/`),
	regexp.MustCompile(`--no-preserve-root`),
}

// Config configures an Executor.
type Config struct {
	// Handler is asked before every execution. Required.
	Handler ConfirmationHandler

	// AllowedCommands whitelists base commands. Empty allows all commands
	// not denied.
	AllowedCommands []string

	// DeniedCommands blacklists base commands, checked before the allow
	// list. Nil selects DefaultDeniedCommands.
	DeniedCommands []string

	// DeniedPatterns block command shapes. Nil selects
	// DefaultDeniedPatterns.
	DeniedPatterns []*regexp.Regexp

	// DefaultTimeout applies when Args.TimeoutSeconds is zero.
	// Defaults to 5 minutes.
	DefaultTimeout time.Duration
}

// Executor runs shell commands under the four-step protocol: confirm,
// spawn, race against the timeout, propagate cancellation.
type Executor struct {
	handler        ConfirmationHandler
	allowed        map[string]bool
	denied         map[string]bool
	deniedPatterns []*regexp.Regexp
	defaultTimeout time.Duration
}

// NewExecutor creates a command executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("confirmation handler is required")
	}

	allowed := make(map[string]bool)
	for _, c := range cfg.AllowedCommands {
		allowed[c] = true
	}
	deniedList := cfg.DeniedCommands
	if deniedList == nil {
		deniedList = DefaultDeniedCommands
	}
	denied := make(map[string]bool)
	for _, c := range deniedList {
		denied[c] = true
	}
	patterns := cfg.DeniedPatterns
	if patterns == nil {
		patterns = DefaultDeniedPatterns
	}
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	return &Executor{
		handler:        cfg.Handler,
		allowed:        allowed,
		denied:         denied,
		deniedPatterns: patterns,
		defaultTimeout: timeout,
	}, nil
}

// Execute runs one command. Failures of the command itself are reported in
// the Result, never as an error; the error return is reserved for
// cancellation of ctx, which is re-raised after the process is killed.
func (e *Executor) Execute(ctx context.Context, args Args) (Result, error) {
	result := Result{Command: args.Command}

	if err := e.validate(args); err != nil {
		result.Output = "Failed to execute command: " + err.Error()
		return result, nil
	}

	approved, reason := e.handler.Confirm(ctx, args)
	if !approved {
		if reason == "" {
			reason = "confirmation rejected"
		}
		result.Output = "denied by user: " + reason
		return result, nil
	}

	timeout := e.defaultTimeout
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds) * time.Second
	}

	// A fresh shell per call: no cd or environment changes survive between
	// invocations.
	cmd := exec.Command("sh", "-c", args.Command)
	cmd.Dir = args.WorkingDirectory
	// Own process group, so timeout and cancellation kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Start(); err != nil {
		result.Output = "Failed to execute command: " + err.Error()
		return result, nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		result.Output = buf.String()
		code := cmd.ProcessState.ExitCode()
		result.ExitCode = &code
		if err != nil && code < 0 {
			result.ExitCode = nil
			result.Output = "Failed to execute command: " + err.Error()
		}
		return result, nil

	case <-timer.C:
		killProcessGroup(cmd)
		<-done
		result.Output = "Command timed out"
		result.PartialOutput = buf.String()
		return result, nil

	case <-ctx.Done():
		killProcessGroup(cmd)
		<-done
		return result, ctx.Err()
	}
}

func (e *Executor) validate(args Args) error {
	if strings.TrimSpace(args.Command) == "" {
		return fmt.Errorf("command is required")
	}
	if args.TimeoutSeconds < 0 {
		return fmt.Errorf("timeoutSeconds must be non-negative")
	}
	if args.WorkingDirectory != "" {
		info, err := os.Stat(args.WorkingDirectory)
		if err != nil {
			return fmt.Errorf("working directory %q: %v", args.WorkingDirectory, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("working directory %q is not a directory", args.WorkingDirectory)
		}
	}

	for _, pattern := range e.deniedPatterns {
		if pattern.MatchString(args.Command) {
			return fmt.Errorf("command matches denied pattern: %s", pattern.String())
		}
	}
	base := baseCommand(args.Command)
	if base == "" {
		return fmt.Errorf("could not extract base command")
	}
	if e.denied[base] {
		return fmt.Errorf("command not allowed: %s (in deny list)", base)
	}
	if len(e.allowed) > 0 && !e.allowed[base] {
		return fmt.Errorf("command not allowed: %s (not in allow list)", base)
	}
	return nil
}

// baseCommand extracts the first command of a potentially piped invocation.
func baseCommand(command string) string {
	parts := strings.FieldsFunc(command, func(r rune) bool {
		return r == '|' || r == '>' || r == '<' || r == ';' || r == '&'
	})
	if len(parts) == 0 {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(parts[0]))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid targets the whole group.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
