package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// HTTPBackend calls a transcription service at POST {baseURL}/transcribe.
// Calls are bounded by the context deadline set by the Transcriber.
type HTTPBackend struct {
	baseURL string
	http    *http.Client
}

func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{},
	}
}

func (b *HTTPBackend) Name() string { return "http" }

type transcribeResponse struct {
	Transcription string `json:"transcription"`
	Error         string `json:"error"`
}

func (b *HTTPBackend) Transcribe(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", &BackendError{Backend: b.Name(), Message: "invalid service url", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(httpReq)
	if err != nil {
		// Timeouts and connection failures.
		return "", &BackendError{Backend: b.Name(), Message: err.Error(), Transient: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", &BackendError{Backend: b.Name(), StatusCode: resp.StatusCode, Message: "read response", Transient: true, Err: err}
	}
	var out transcribeResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &BackendError{
			Backend:    b.Name(),
			StatusCode: resp.StatusCode,
			Message:    msg,
			Transient:  resp.StatusCode >= 500,
		}
	}
	if decodeErr != nil {
		return "", &BackendError{Backend: b.Name(), StatusCode: resp.StatusCode, Message: "malformed response", Err: decodeErr}
	}
	if msg := strings.TrimSpace(out.Error); msg != "" {
		return "", &BackendError{Backend: b.Name(), StatusCode: resp.StatusCode, Message: msg}
	}
	if strings.TrimSpace(out.Transcription) == "" {
		return "", &BackendError{Backend: b.Name(), StatusCode: resp.StatusCode, Message: "empty transcription"}
	}
	return out.Transcription, nil
}
