package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamWriter_SplitsOnCRAndLF(t *testing.T) {
	var buf bytes.Buffer
	var lines []string
	w := &streamWriter{
		stream: "stdout",
		callback: func(stream string, line string) {
			lines = append(lines, stream+":"+line)
		},
		buffer: &buf,
	}

	_, err := w.Write([]byte("a\rb\nc\r\nd"))
	require.NoError(t, err)

	// No delimiter after trailing "d" yet.
	require.Equal(t, []string{"stdout:a", "stdout:b", "stdout:c"}, lines)

	_, err = w.Write([]byte("\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"stdout:a", "stdout:b", "stdout:c", "stdout:d"}, lines)

	require.Equal(t, "a\rb\nc\r\nd\n", buf.String())
}

func TestWrapExecError_TrimsOutput(t *testing.T) {
	err := wrapExecError("yt-dlp", []string{"--version"}, []byte(" out \n"), []byte(" err \n"), errors.New("boom"))
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "yt-dlp", ee.Cmd)
	require.Equal(t, 0, ee.ExitCode)
	require.Equal(t, "out", ee.Stdout)
	require.Equal(t, "err", ee.Stderr)
	require.Equal(t, "err", ee.Reason())
	require.Contains(t, ee.Error(), "yt-dlp")
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line string
		pct  int
		ok   bool
	}{
		{"[download]  42.3% of ~ 10.00MiB at 1.00MiB/s ETA 00:05", 42, true},
		{"[download] 100% of 10.00MiB in 00:00:03", 100, true},
		{"[download] Destination: /tmp/media.mp4", 0, false},
		{"[info] abc: Downloading 1 format(s)", 0, false},
	}
	for _, tt := range tests {
		pct, ok := ParseProgress(tt.line)
		require.Equal(t, tt.ok, ok, tt.line)
		require.Equal(t, tt.pct, pct, tt.line)
	}
}

func TestDownload_CollectsFilesAndReportsProgress(t *testing.T) {
	dir := t.TempDir()
	c := New("")
	c.execFn = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		require.Contains(t, strings.Join(args, " "), filepath.Join(dir, "media.%(ext)s"))
		require.Equal(t, "https://youtu.be/abc", args[len(args)-1])
		require.NoError(t, os.WriteFile(filepath.Join(dir, "media.mp4"), []byte("video"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "media.jpg"), []byte("jpg"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "media.info.json"), []byte(`{"id":"abc","title":"Clip","channel":"Chan","duration":3.5,"width":640,"height":360}`), 0o644))
		return nil, nil, nil
	}

	// The fake exec bypasses the stream writer, so no progress lines arrive.
	var seen []int
	d, err := c.Download(context.Background(), "https://youtu.be/abc", dir, func(pct int) { seen = append(seen, pct) })
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "media.mp4"), d.MediaPath)
	require.Equal(t, filepath.Join(dir, "media.jpg"), d.ThumbnailPath)
	require.NotNil(t, d.Info)
	require.Equal(t, "Clip", d.Info.Title)
	require.Equal(t, "Chan", d.Info.ChannelName())
	require.Equal(t, 640, d.Info.Width)
	require.Empty(t, seen)
}

func TestDownload_NoMediaIsAnError(t *testing.T) {
	dir := t.TempDir()
	c := New("")
	c.execFn = func(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
		return nil, nil, nil
	}

	_, err := c.Download(context.Background(), "https://youtu.be/abc", dir, nil)
	require.ErrorContains(t, err, "no media file")
}

func TestClient_PathOrDefault(t *testing.T) {
	c := &Client{Path: "   "}
	require.Equal(t, "yt-dlp", c.PathOrDefault())

	c.Path = "/usr/local/bin/yt-dlp"
	require.Equal(t, "/usr/local/bin/yt-dlp", c.PathOrDefault())
}
