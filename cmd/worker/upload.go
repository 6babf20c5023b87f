package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"thirdcoast.systems/carrot/internal/storage"
)

type uploader struct {
	http *http.Client
}

func newUploader() *uploader {
	return &uploader{http: &http.Client{Timeout: 30 * time.Minute}}
}

// upload sends the file at path through a signed write target and returns
// the object's URL.
func (u *uploader) upload(ctx context.Context, target *storage.WriteTarget, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}
	size := st.Size()
	if target.MaxBytes > 0 && size > target.MaxBytes {
		return "", fmt.Errorf("%s is %s, over the %s upload limit", filepath.Base(path),
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(target.MaxBytes)))
	}

	start := time.Now()
	var req *http.Request
	switch strings.ToUpper(target.Method) {
	case http.MethodPut, "":
		req, err = http.NewRequestWithContext(ctx, http.MethodPut, target.URL, f)
		if err != nil {
			return "", fmt.Errorf("build upload request: %w", err)
		}
		req.ContentLength = size
		for k, v := range target.Headers {
			req.Header.Set(k, v)
		}
		if req.Header.Get("Content-Type") == "" && target.ContentType != "" {
			req.Header.Set("Content-Type", target.ContentType)
		}
	case http.MethodPost:
		req, err = formUpload(ctx, target, f)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unsupported upload method %q", target.Method)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", target.Key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload %s: status %d: %s", target.Key, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	slog.Info("uploaded", "key", target.Key, "size", humanize.Bytes(uint64(size)), "took", time.Since(start).Round(time.Millisecond))
	return objectURL(target)
}

// formUpload builds a POST-policy upload. The file part has to come after
// every policy field.
func formUpload(ctx context.Context, target *storage.WriteTarget, file io.Reader) (*http.Request, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			for k, v := range target.FormFields {
				if err := mw.WriteField(k, v); err != nil {
					return err
				}
			}
			part, err := mw.CreateFormFile("file", filepath.Base(target.Key))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, file); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// objectURL is where the uploaded object lives: the signed URL without its
// signature for a PUT, or the bucket URL plus key for a POST policy.
func objectURL(target *storage.WriteTarget) (string, error) {
	u, err := url.Parse(target.URL)
	if err != nil {
		return "", fmt.Errorf("parse upload url: %w", err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	if strings.EqualFold(target.Method, http.MethodPost) {
		u = u.JoinPath(target.Key)
	}
	return u.String(), nil
}
