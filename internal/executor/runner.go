package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ScriptRunner executes the configured build/restart command through the
// shell, streaming combined output line by line.
type ScriptRunner struct {
	Command string
	Workdir string
}

// Run executes the promotion command. The context bounds the whole run.
func (r ScriptRunner) Run(ctx context.Context, emit func(line string)) error {
	if r.Command == "" {
		return fmt.Errorf("promote command not configured")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", r.Command)
	cmd.Dir = r.Workdir
	// Never block on interactive credential prompts.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return fmt.Errorf("start promote command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		done <- err
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(scanner.Text())
	}

	if err := <-done; err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("promote command timed out: %w", ctx.Err())
		}
		return fmt.Errorf("promote command failed: %w", err)
	}
	return nil
}
