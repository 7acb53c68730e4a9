package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs binaries in their own process group so a timeout kills
// ffmpeg together with any children it spawned.
type ExecRunner struct {
	MaxOutputBytes int
	WaitDelay      time.Duration
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	maxOutput := r.MaxOutputBytes
	if maxOutput < 1 {
		maxOutput = 16 * 1024
	}
	waitDelay := r.WaitDelay
	if waitDelay <= 0 {
		waitDelay = 5 * time.Second
	}

	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay
	output := &limitedBuffer{MaxBytes: maxOutput}
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return output.String(), fmt.Errorf("%s interrupted: %w", name, ctxErr)
		}
		return output.String(), fmt.Errorf("%s failed: %w; output=%s", name, err, compactOutput(output.String(), output.Truncated))
	}
	return output.String(), nil
}

func compactOutput(output string, truncated bool) string {
	output = strings.TrimSpace(output)
	lines := strings.Split(output, "\n")
	if len(lines) > 6 {
		lines = lines[len(lines)-6:]
		truncated = true
	}
	output = strings.Join(lines, " | ")
	if truncated {
		output = "..." + output
	}
	return output
}

type limitedBuffer struct {
	MaxBytes  int
	Truncated bool
	buffer    bytes.Buffer
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.MaxBytes < 1 {
		return l.buffer.Write(p)
	}
	remaining := l.MaxBytes - l.buffer.Len()
	if remaining <= 0 {
		l.Truncated = true
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
		l.Truncated = true
	}
	if _, err := l.buffer.Write(toWrite); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (l *limitedBuffer) String() string {
	return l.buffer.String()
}

var _ io.Writer = (*limitedBuffer)(nil)
