package transcription

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SpeechBackend transcribes gs:// objects with Google Cloud Speech.
type SpeechBackend struct {
	client       *speech.Client
	languageCode string
}

func NewSpeechBackend(ctx context.Context, languageCode string, opts ...option.ClientOption) (*SpeechBackend, error) {
	tag, err := speechLanguage(languageCode)
	if err != nil {
		return nil, err
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &SpeechBackend{client: c, languageCode: tag}, nil
}

// speechLanguage canonicalizes a BCP-47 tag, defaulting to en-US.
func speechLanguage(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "en-US", nil
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("invalid speech language %q: %w", code, err)
	}
	return tag.String(), nil
}

func (b *SpeechBackend) Name() string { return "speech" }

func (b *SpeechBackend) Close() error {
	return b.client.Close()
}

func (b *SpeechBackend) Transcribe(ctx context.Context, req Request) (string, error) {
	if !strings.HasPrefix(req.MediaURL, "gs://") {
		return "", &BackendError{Backend: b.Name(), Message: "media must be a gs:// object"}
	}

	op, err := b.client.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: recognitionConfig(b.languageCode, req.MediaURL),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: req.MediaURL}},
	})
	if err != nil {
		return "", speechError(err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return "", speechError(err)
	}

	text := joinTranscripts(resp)
	if text == "" {
		return "", &BackendError{Backend: b.Name(), Message: "empty transcription"}
	}
	return text, nil
}

func recognitionConfig(languageCode, uri string) *speechpb.RecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		LanguageCode:               languageCode,
		EnableAutomaticPunctuation: true,
	}
	switch strings.ToLower(filepath.Ext(uri)) {
	case ".wav":
		rc.Encoding = speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		rc.Encoding = speechpb.RecognitionConfig_FLAC
	case ".mp3":
		rc.Encoding = speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		rc.Encoding = speechpb.RecognitionConfig_OGG_OPUS
	}
	return rc
}

// joinTranscripts concatenates the top alternative of every result.
func joinTranscripts(resp *speechpb.LongRunningRecognizeResponse) string {
	var parts []string
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func speechError(err error) *BackendError {
	code := status.Code(err)
	transient := errors.Is(err, context.DeadlineExceeded)
	switch code {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		transient = true
	}
	msg := err.Error()
	if s, ok := status.FromError(err); ok && s.Message() != "" {
		msg = s.Message()
	}
	return &BackendError{Backend: "speech", Message: msg, Transient: transient, Err: err}
}
