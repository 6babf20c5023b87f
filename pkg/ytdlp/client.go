// Package ytdlp wraps the yt-dlp executable for the ingest worker.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// streamWriter forwards each complete output line to callback while also
// buffering the raw bytes.
type streamWriter struct {
	stream   string
	callback func(stream string, line string)
	buffer   *bytes.Buffer
	pending  []byte
}

func (w *streamWriter) Write(p []byte) (n int, err error) {
	if w.buffer != nil {
		w.buffer.Write(p)
	}
	w.pending = append(w.pending, p...)

	// yt-dlp redraws progress with \r, so both \r and \n end a line.
	for {
		idx := bytes.IndexAny(w.pending, "\r\n")
		if idx < 0 {
			break
		}
		line := string(w.pending[:idx])

		consume := 1
		if w.pending[idx] == '\r' && idx+1 < len(w.pending) && w.pending[idx+1] == '\n' {
			consume = 2
		}
		w.pending = w.pending[idx+consume:]

		if trimmed := strings.TrimSpace(line); trimmed != "" && w.callback != nil {
			w.callback(w.stream, trimmed)
		}
	}
	return len(p), nil
}

type ExecError struct {
	Cmd      string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Cause    error
}

func (e *ExecError) Error() string {
	cmdline := strings.TrimSpace(e.Cmd + " " + strings.Join(e.Args, " "))
	if e.ExitCode != 0 {
		return fmt.Sprintf("ytdlp: command failed (exit %d): %s", e.ExitCode, cmdline)
	}
	return fmt.Sprintf("ytdlp: command failed: %s", cmdline)
}

func (e *ExecError) Unwrap() error { return e.Cause }

// Reason is the last line yt-dlp wrote to stderr, usually "ERROR: ...".
func (e *ExecError) Reason() string {
	if i := strings.LastIndexByte(e.Stderr, '\n'); i >= 0 {
		return strings.TrimSpace(e.Stderr[i+1:])
	}
	if e.Stderr != "" {
		return e.Stderr
	}
	return e.Error()
}

type Client struct {
	// Path to the yt-dlp executable. Empty means a PATH lookup of "yt-dlp".
	Path string

	// ExtraArgs are passed ahead of every per-call argument.
	ExtraArgs []string

	// LogCallback receives each line of output as it is produced.
	LogCallback func(stream string, line string)

	execFn func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

func New(path string) *Client {
	return &Client{Path: path}
}

func (c *Client) exec(ctx context.Context, args ...string) (stdout []byte, stderr []byte, err error) {
	name := c.PathOrDefault()

	fullArgs := make([]string, 0, len(c.ExtraArgs)+len(args)+1)
	fullArgs = append(fullArgs, c.ExtraArgs...)
	if c.LogCallback != nil {
		fullArgs = append(fullArgs, "--newline")
	}
	fullArgs = append(fullArgs, args...)

	if c.execFn != nil {
		return c.execFn(ctx, name, fullArgs...)
	}

	slog.Debug("ytdlp: executing", "cmd", name, "args", fullArgs)
	cmd := exec.CommandContext(ctx, name, fullArgs...)
	var outBuf, errBuf bytes.Buffer
	if c.LogCallback != nil {
		cmd.Stdout = &streamWriter{stream: "stdout", callback: c.LogCallback, buffer: &outBuf}
		cmd.Stderr = &streamWriter{stream: "stderr", callback: c.LogCallback, buffer: &errBuf}
	} else {
		cmd.Stdout = &outBuf
		cmd.Stderr = &errBuf
	}

	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

func (c *Client) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := c.exec(ctx, "--version")
	if err != nil {
		return "", wrapExecError(c.PathOrDefault(), []string{"--version"}, stdout, stderr, err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// Info models the fields of yt-dlp's JSON a completion callback carries.
// The full document is kept in Raw.
type Info struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	WebpageURL string          `json:"webpage_url"`
	Extractor  string          `json:"extractor"`
	Uploader   string          `json:"uploader"`
	Channel    string          `json:"channel"`
	Thumbnail  string          `json:"thumbnail"`
	Duration   float64         `json:"duration"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Raw        json.RawMessage `json:"-"`
}

// ChannelName prefers the channel and falls back to the uploader.
func (i *Info) ChannelName() string {
	if i.Channel != "" {
		return i.Channel
	}
	return i.Uploader
}

func parseInfo(raw []byte) (*Info, error) {
	raw = bytes.TrimSpace(raw)
	info := &Info{Raw: append([]byte(nil), raw...)}
	if err := json.Unmarshal(raw, info); err != nil {
		return nil, fmt.Errorf("ytdlp: parse json: %w", err)
	}
	return info, nil
}

// GetInfo reads metadata without downloading.
func (c *Client) GetInfo(ctx context.Context, url string) (*Info, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("ytdlp: url is required")
	}

	args := []string{"--dump-single-json", "--skip-download", "--no-playlist", url}
	stdout, stderr, err := c.exec(ctx, args...)
	if err != nil {
		return nil, wrapExecError(c.PathOrDefault(), args, stdout, stderr, err)
	}
	return parseInfo(stdout)
}

func (c *Client) PathOrDefault() string {
	if strings.TrimSpace(c.Path) == "" {
		return "yt-dlp"
	}
	return c.Path
}

func wrapExecError(cmd string, args []string, stdout []byte, stderr []byte, cause error) error {
	exitCode := 0
	var ee *exec.ExitError
	if errors.As(cause, &ee) {
		exitCode = ee.ExitCode()
	}

	return &ExecError{
		Cmd:      cmd,
		Args:     args,
		ExitCode: exitCode,
		Stdout:   strings.TrimSpace(string(stdout)),
		Stderr:   strings.TrimSpace(string(stderr)),
		Cause:    cause,
	}
}
