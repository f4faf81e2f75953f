// Package shell provides the built-in "shell" job type: it runs a command
// line through the system shell and records its output.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"jobtick/internal/executor"
	"jobtick/internal/job"
	"jobtick/internal/registry"
	logx "jobtick/pkg/logx"
)

// outputCap bounds how much combined output is stored per run.
const outputCap = 64 * 1024

// Options configure keys read from the job's config map:
//
//	command: command line to run (required)
//	workdir: working directory (optional)
//	env:     extra KEY=VALUE strings (optional)
type Options struct {
	Log logx.Logger
}

func New(opts Options) registry.Handler {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context, j job.Job) (map[string]any, error) {
		command, _ := j.Config["command"].(string)
		command = strings.TrimSpace(command)
		if command == "" {
			// A missing command is a definition problem; retrying won't fix it.
			return nil, executor.NoRetry(fmt.Errorf("job %q: config key %q is required", j.Name, "command"))
		}

		var cmd *exec.Cmd
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd", "/C", command)
		} else {
			cmd = exec.CommandContext(ctx, "sh", "-c", command)
		}
		if wd, _ := j.Config["workdir"].(string); strings.TrimSpace(wd) != "" {
			cmd.Dir = strings.TrimSpace(wd)
		}
		if extra := envStrings(j.Config["env"]); len(extra) > 0 {
			cmd.Env = append(os.Environ(), extra...)
		}

		start := time.Now()
		out, err := cmd.CombinedOutput()
		dur := time.Since(start)

		if len(out) > outputCap {
			out = append(out[:outputCap], []byte("\n... (truncated)")...)
		}
		result := map[string]any{
			"output":      string(bytes.TrimSpace(out)),
			"duration_ms": dur.Milliseconds(),
		}
		if cmd.ProcessState != nil {
			result["exit_code"] = cmd.ProcessState.ExitCode()
		}

		if err != nil {
			// Prefer the deadline error so timeouts read as timeouts, not
			// "signal: killed".
			if cerr := ctx.Err(); cerr != nil {
				return result, cerr
			}
			log.Debug("shell command failed",
				logx.String("job", j.Name), logx.Err(err), logx.Duration("dur", dur))
			return result, fmt.Errorf("command failed: %w", err)
		}
		return result, nil
	}
}

// envStrings accepts either a []any of strings or a map of key -> value.
func envStrings(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok && strings.Contains(s, "=") {
				out = append(out, s)
			}
		}
		return out
	case map[string]any:
		out := make([]string, 0, len(x))
		for k, val := range x {
			out = append(out, fmt.Sprintf("%s=%v", k, val))
		}
		return out
	default:
		return nil
	}
}
