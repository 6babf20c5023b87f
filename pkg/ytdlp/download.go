package ytdlp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Download is what a finished download left in its directory.
type Download struct {
	MediaPath     string
	ThumbnailPath string
	Info          *Info
}

var progressLine = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// ParseProgress extracts the percentage from a "[download]  42.3% of ..."
// line.
func ParseProgress(line string) (int, bool) {
	m := progressLine.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return int(pct), true
}

// Download fetches url into destDir as a single mp4 with its .info.json and
// thumbnail beside it. destDir should be empty and private to this call;
// the produced files are found by extension afterwards. onProgress, when
// set, receives download percentages.
func (c *Client) Download(ctx context.Context, url, destDir string, onProgress func(pct int)) (*Download, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("ytdlp: url is required")
	}
	if strings.TrimSpace(destDir) == "" {
		return nil, fmt.Errorf("ytdlp: destDir is required")
	}

	args := []string{
		"-o", filepath.Join(destDir, "media.%(ext)s"),
		"--no-playlist",
		"--remux-video", "mp4",
		"--format", "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/bv*+ba/b",
		"--write-info-json",
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
		"--progress",
		"--progress-delta", "5",
		"--newline",
		"--no-colors",
		url,
	}

	run := *c
	if onProgress != nil {
		prev := c.LogCallback
		run.LogCallback = func(stream, line string) {
			if pct, ok := ParseProgress(line); ok {
				onProgress(pct)
			}
			if prev != nil {
				prev(stream, line)
			}
		}
	}

	stdout, stderr, err := run.exec(ctx, args...)
	if err != nil {
		return nil, wrapExecError(c.PathOrDefault(), args, stdout, stderr, err)
	}
	return collect(destDir)
}

func collect(dir string) (*Download, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ytdlp: read download dir: %w", err)
	}

	d := &Download{}
	var infoPath string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, ".info.json"):
			infoPath = path
		case strings.HasSuffix(name, ".part"), strings.HasSuffix(name, ".ytdl"):
		case isImage(name):
			d.ThumbnailPath = path
		case strings.HasPrefix(name, "media."):
			d.MediaPath = path
		}
	}
	if d.MediaPath == "" {
		return nil, fmt.Errorf("ytdlp: no media file in %s", dir)
	}

	if infoPath != "" {
		raw, err := os.ReadFile(infoPath)
		if err != nil {
			return nil, fmt.Errorf("ytdlp: read info json: %w", err)
		}
		if d.Info, err = parseInfo(raw); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}
