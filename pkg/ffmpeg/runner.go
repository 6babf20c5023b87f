package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Binary is the ffmpeg executable; ProbeBinary is ffprobe.
var (
	Binary      = "ffmpeg"
	ProbeBinary = "ffprobe"
)

// Available reports whether ffmpeg can be found on PATH.
func Available() bool {
	_, err := exec.LookPath(Binary)
	return err == nil
}

func run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &Error{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// Error is a failed ffmpeg run with its captured stderr.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

// Error keeps only the last few stderr lines, which is where ffmpeg puts
// the reason.
func (e *Error) Error() string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	if tail := strings.Join(lines, "\n"); tail != "" {
		return fmt.Sprintf("ffmpeg: %v: %s", e.Err, tail)
	}
	return fmt.Sprintf("ffmpeg: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Command() string {
	return Binary + " " + strings.Join(e.Args, " ")
}
