package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SecretHeader authenticates the orchestrator to an HTTP worker.
const SecretHeader = "x-worker-secret"

// HTTPDispatcher posts messages to {baseURL}/{kind}.
type HTTPDispatcher struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewHTTPDispatcher(baseURL, secret string, timeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/"+string(msg.MessageKind()), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set(SecretHeader, d.secret)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch %s %s: %w", msg.MessageKind(), msg.MessageID(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return fmt.Errorf("dispatch %s %s: worker returned %d: %s", msg.MessageKind(), msg.MessageID(), resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
