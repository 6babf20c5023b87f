package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/media"
)

// errRejected is a 4xx answer to a callback. Repeating it cannot help.
var errRejected = errors.New("callback rejected")

const callbackAttempts = 3

type callbackClient struct {
	http    *http.Client
	secret  string
	backoff time.Duration
}

func newCallbackClient(secret string) *callbackClient {
	return &callbackClient{
		http:    &http.Client{Timeout: 15 * time.Second},
		secret:  secret,
		backoff: time.Second,
	}
}

// job reports on a job and returns the job's status after the callback
// was applied.
func (c *callbackClient) job(ctx context.Context, url string, cb ingest.Callback) (string, error) {
	cb.Secret = c.secret
	body, err := c.post(ctx, url, cb)
	if err != nil {
		return "", err
	}
	var resp struct {
		Job struct {
			Status string `json:"status"`
		} `json:"job"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode callback response: %w", err)
	}
	return resp.Job.Status, nil
}

func (c *callbackClient) variant(ctx context.Context, url string, res media.VariantResult) error {
	_, err := c.post(ctx, url, struct {
		media.VariantResult
		Secret string `json:"secret"`
	}{res, c.secret})
	return err
}

// post delivers body, retrying transport errors and 5xx answers.
func (c *callbackClient) post(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode callback: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= callbackAttempts; attempt++ {
		var resp []byte
		resp, lastErr = c.send(ctx, url, payload)
		if lastErr == nil || errors.Is(lastErr, errRejected) {
			return resp, lastErr
		}
		slog.Warn("callback attempt failed", "url", url, "attempt", attempt, "error", lastErr)
		if attempt == callbackAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

func (c *callbackClient) send(ctx context.Context, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send callback: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: %d %s", errRejected, resp.StatusCode, bytes.TrimSpace(body))
	default:
		return nil, fmt.Errorf("callback returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
}
