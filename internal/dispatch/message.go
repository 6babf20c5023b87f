// Package dispatch hands work to the external worker. Dispatch carries no
// trust: the worker proves itself only on the callback leg.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"thirdcoast.systems/carrot/internal/storage"
)

type Kind string

const (
	KindIngest Kind = "ingest"
	KindTrim   Kind = "trim"
)

type Message interface {
	MessageKind() Kind
	// MessageID identifies the job or variant the message is about.
	MessageID() string
}

type Dispatcher interface {
	// Dispatch makes a single delivery attempt. Retries belong to the caller.
	Dispatch(ctx context.Context, msg Message) error
}

type IngestMessage struct {
	Kind        Kind                 `json:"kind"`
	JobID       string               `json:"jobId"`
	URL         string               `json:"url"`
	SourceType  string               `json:"sourceType"`
	DedupKey    string               `json:"dedupKey"`
	CallbackURL string               `json:"callbackUrl"`
	Upload      *storage.WriteTarget `json:"upload,omitempty"`
}

func (m *IngestMessage) MessageKind() Kind { return KindIngest }
func (m *IngestMessage) MessageID() string { return m.JobID }

type TrimMessage struct {
	Kind        Kind                 `json:"kind"`
	VariantID   string               `json:"variantId"`
	SourceURL   string               `json:"sourceUrl"`
	StartSec    float64              `json:"startSec"`
	EndSec      float64              `json:"endSec"`
	CallbackURL string               `json:"callbackUrl"`
	Upload      *storage.WriteTarget `json:"upload,omitempty"`
}

func (m *TrimMessage) MessageKind() Kind { return KindTrim }
func (m *TrimMessage) MessageID() string { return m.VariantID }

// Encode serializes msg with its kind set.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *IngestMessage:
		m.Kind = KindIngest
	case *TrimMessage:
		m.Kind = KindTrim
	}
	return json.Marshal(msg)
}

// Decode parses a message produced by Encode.
func Decode(body []byte) (Message, error) {
	var envelope struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode dispatch message: %w", err)
	}
	var msg Message
	switch envelope.Kind {
	case KindIngest:
		msg = &IngestMessage{}
	case KindTrim:
		msg = &TrimMessage{}
	default:
		return nil, fmt.Errorf("unknown dispatch kind %q", envelope.Kind)
	}
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", envelope.Kind, err)
	}
	return msg, nil
}
