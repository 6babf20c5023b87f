package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// ProbeResult is the subset of ffprobe output a completion callback reports.
type ProbeResult struct {
	Width       int
	Height      int
	Duration    float64
	FormatName  string
	VideoCodec  string
	AudioCodec  string
	HasVideo    bool
	HasAudio    bool
	SizeInBytes int64
}

type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, ProbeBinary,
		"-hide_banner",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe: %w: %s", err, stderr.String())
	}
	return parseProbe(stdout.Bytes())
}

func parseProbe(raw []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("ffprobe: parse output: %w", err)
	}

	res := &ProbeResult{FormatName: out.Format.FormatName}
	if out.Format.Duration != "" {
		res.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	}
	if out.Format.Size != "" {
		res.SizeInBytes, _ = strconv.ParseInt(out.Format.Size, 10, 64)
	}

	// First stream of each kind wins.
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if !res.HasVideo {
				res.HasVideo = true
				res.Width = s.Width
				res.Height = s.Height
				res.VideoCodec = s.CodecName
			}
		case "audio":
			if !res.HasAudio {
				res.HasAudio = true
				res.AudioCodec = s.CodecName
			}
		}
	}
	return res, nil
}
