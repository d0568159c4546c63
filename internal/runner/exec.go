package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Result captures one subprocess attempt, mirroring the
// Duration/ExitCode/Output shape of the teacher's agent.InvocationResult
// (internal/agent/invoker.go), narrowed to the plain merged-output
// model the original daemon._run_cmd uses.
type Result struct {
	Output     string
	ExitCode   int
	RCPresent  bool
	Duration   time.Duration
	LaunchErr  error
}

// Template is the runner command template, with {task_id}, {routing},
// {prompt}, {db_path} placeholders substituted before the shell runs it
// - the same four placeholders the original's DaemonConfig.runner_cmd
// supports.
type Template string

// Render substitutes the template's placeholders.
func (t Template) Render(taskID, routing, prompt, dbPath string) string {
	r := strings.NewReplacer(
		"{task_id}", taskID,
		"{routing}", routing,
		"{prompt}", prompt,
		"{db_path}", dbPath,
	)
	return r.Replace(string(t))
}

// Run executes cmd through the system shell, capturing merged
// stdout+stderr, and mirrors the combined output to logPath. Equivalent
// to the original's _run_cmd(cmd, logfile): `bash -c cmd`, not argv
// exec, since runner command templates are shell snippets ("bash -lc
// '...'" etc.) the operator configures.
func Run(ctx context.Context, cmd string, dir string, logPath string) Result {
	start := time.Now()

	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	if dir != "" {
		c.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()
	duration := time.Since(start)

	merged := stdout.String()
	if stdout.Len() > 0 && stderr.Len() > 0 {
		merged += "\n"
	}
	merged += stderr.String()

	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err == nil {
			_ = os.WriteFile(logPath, []byte(merged), 0o644)
		}
	}

	res := Result{Output: merged, Duration: duration}
	if runErr == nil {
		res.ExitCode = 0
		res.RCPresent = true
		return res
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		res.RCPresent = true
		return res
	}
	res.LaunchErr = runErr
	return res
}

// PreparePrompt writes prompt to a worktree-local scratch file under
// <dir>/.orchestrator/prompt.<taskID>.txt, the same staging step the
// original's _run_codex performs before invoking the codex binary, and
// returns that path. Callers substitute its path into their runner
// command template if the template references a prompt file rather
// than an inline {prompt}.
func PreparePrompt(dir, taskID, prompt string) (string, error) {
	aux := filepath.Join(dir, ".orchestrator")
	if err := os.MkdirAll(aux, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", aux, err)
	}
	path := filepath.Join(aux, fmt.Sprintf("prompt.%s.txt", taskID))
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
