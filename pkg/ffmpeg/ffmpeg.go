// Package ffmpeg builds and runs the ffmpeg and ffprobe invocations the worker
// needs to cut variants and describe downloaded media.
package ffmpeg

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Command is an ffmpeg invocation being built.
type Command struct {
	input     string
	output    string
	preInput  []string // before -i, e.g. input seeking
	postInput []string
}

// Option modifies a Command. The order options are applied in does not
// change where their arguments land.
type Option interface {
	Apply(cmd *Command)
}

type OptionFunc func(cmd *Command)

func (f OptionFunc) Apply(cmd *Command) { f(cmd) }

func NewCommand(input, output string, opts ...Option) *Command {
	cmd := &Command{input: input, output: output}
	for _, opt := range opts {
		opt.Apply(cmd)
	}
	return cmd
}

// Build returns the complete ffmpeg argument list.
func (c *Command) Build() []string {
	args := []string{"-hide_banner", "-y"}
	args = append(args, c.preInput...)
	args = append(args, "-i", c.input)
	args = append(args, c.postInput...)

	switch strings.ToLower(filepath.Ext(c.output)) {
	case ".mp4", ".m4a", ".mov":
		args = append(args, "-movflags", "+faststart")
	}

	return append(args, c.output)
}

func (c *Command) Run(ctx context.Context) error {
	return run(ctx, c.Build())
}

func Run(ctx context.Context, input, output string, opts ...Option) error {
	return NewCommand(input, output, opts...).Run(ctx)
}

// Seek sets the start position using input seeking.
func Seek(start time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.preInput = append(cmd.preInput, "-ss", formatDuration(start))
	})
}

// Duration caps the output length.
func Duration(d time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-t", formatDuration(d))
	})
}

// SeekTo seeks to start and keeps everything up to end.
func SeekTo(start, end time.Duration) Option {
	return OptionFunc(func(cmd *Command) {
		Seek(start).Apply(cmd)
		if d := end - start; d > 0 {
			Duration(d).Apply(cmd)
		}
	})
}

func VideoCodec(codec string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-c:v", codec)
	})
}

func AudioCodec(codec string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, "-c:a", codec)
	})
}

// CopyAll copies every stream without re-encoding.
var CopyAll Option = OptionFunc(func(cmd *Command) {
	cmd.postInput = append(cmd.postInput, "-c", "copy")
})

// LogLevel goes ahead of every other argument.
func LogLevel(level string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.preInput = append([]string{"-loglevel", level}, cmd.preInput...)
	})
}

func ExtraArgs(args ...string) Option {
	return OptionFunc(func(cmd *Command) {
		cmd.postInput = append(cmd.postInput, args...)
	})
}

// Trim cuts [start, end) out of input. Input may be a local path or an
// http(s) URL. Stream copy cuts on keyframes; reencode gives exact edges.
func Trim(ctx context.Context, input, output string, start, end time.Duration, reencode bool) error {
	opts := []Option{LogLevel("error"), SeekTo(start, end)}
	if reencode {
		opts = append(opts, VideoCodec("libx264"), ExtraArgs("-preset", "veryfast", "-crf", "20"), AudioCodec("aac"))
	} else {
		opts = append(opts, CopyAll, ExtraArgs("-avoid_negative_ts", "make_zero"))
	}
	return Run(ctx, input, output, opts...)
}

func formatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// Seconds converts fractional seconds to a Duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
