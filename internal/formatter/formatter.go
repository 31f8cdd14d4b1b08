// Package formatter turns raw backend payloads into completion responses.
package formatter

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ncecere/cerebro/internal/apierror"
	"github.com/ncecere/cerebro/internal/inference"
	"github.com/ncecere/cerebro/internal/models"
)

var errNoText = errors.New("no text in backend payload")

// envelope covers the union of the shapes we accept. Fields are raw so a
// mismatch in one envelope does not fail the whole decode.
type envelope struct {
	ID          string            `json:"id"`
	Model       string            `json:"model"`
	Created     json.RawMessage   `json:"created"`
	CreatedAt   string            `json:"created_at"`
	CompletedAt string            `json:"completed_at"`
	Output      json.RawMessage   `json:"output"`
	Choices     []json.RawMessage `json:"choices"`
}

type rawChoice struct {
	Text         *string     `json:"text"`
	Message      *rawMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type rawMessage struct {
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Format extracts the generated text from out. Text is returned verbatim.
func Format(out inference.Output) (models.CompletionResponse, error) {
	body := bytes.TrimSpace(out.Body)
	if len(body) == 0 || !json.Valid(body) {
		return models.CompletionResponse{}, &apierror.FormatError{Code: apierror.CodeMalformedOutput}
	}

	switch body[0] {
	case '"':
		var text string
		if err := json.Unmarshal(body, &text); err != nil {
			return models.CompletionResponse{}, &apierror.FormatError{Code: apierror.CodeMalformedOutput, Err: err}
		}
		return response(envelope{}, []models.CompletionChoice{{Index: 0, Text: text}}), nil
	case '{':
	default:
		return models.CompletionResponse{}, noChoices(nil)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.CompletionResponse{}, &apierror.FormatError{Code: apierror.CodeMalformedOutput, Err: err}
	}

	var (
		choices []models.CompletionChoice
		err     error
	)
	switch {
	case len(env.Choices) > 0:
		choices, err = fromChoices(env.Choices)
	case len(env.Output) > 0:
		choices, err = fromPredictionOutput(env.Output)
	default:
		err = errNoText
	}
	if err != nil {
		return models.CompletionResponse{}, noChoices(err)
	}
	return response(env, choices), nil
}

func noChoices(err error) error {
	return &apierror.FormatError{Code: apierror.CodeNoChoices, Err: err}
}

func response(env envelope, choices []models.CompletionChoice) models.CompletionResponse {
	return models.CompletionResponse{
		ID:      env.ID,
		Object:  models.ObjectTextCompletion,
		Created: created(env),
		Model:   env.Model,
		Choices: choices,
	}
}

// fromPredictionOutput handles a prediction output that is a string or a
// list of streamed string tokens.
func fromPredictionOutput(raw json.RawMessage) ([]models.CompletionChoice, error) {
	if string(raw) == "null" {
		return nil, errNoText
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []models.CompletionChoice{{Index: 0, Text: text}}, nil
	}

	var tokens []json.RawMessage
	if err := json.Unmarshal(raw, &tokens); err != nil || len(tokens) == 0 {
		return nil, errNoText
	}
	var b strings.Builder
	for _, tok := range tokens {
		var s string
		if err := json.Unmarshal(tok, &s); err != nil {
			return nil, errNoText
		}
		b.WriteString(s)
	}
	return []models.CompletionChoice{{Index: 0, Text: b.String()}}, nil
}

func fromChoices(raws []json.RawMessage) ([]models.CompletionChoice, error) {
	choices := make([]models.CompletionChoice, 0, len(raws))
	for _, raw := range raws {
		var c rawChoice
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		text, ok := choiceText(c)
		if !ok {
			continue
		}
		choices = append(choices, models.CompletionChoice{
			Index:        len(choices),
			Text:         text,
			FinishReason: c.FinishReason,
		})
	}
	if len(choices) == 0 {
		return nil, errNoText
	}
	return choices, nil
}

func choiceText(c rawChoice) (string, bool) {
	if c.Message != nil {
		return messageText(c.Message.Content)
	}
	if c.Text != nil {
		return *c.Text, true
	}
	return "", false
}

// messageText accepts a content string or a list of typed parts.
func messageText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", false
	}
	var b strings.Builder
	found := false
	for _, p := range parts {
		if p.Type == "" || p.Type == "text" || p.Type == "output_text" {
			b.WriteString(p.Text)
			found = true
		}
	}
	return b.String(), found
}

func created(env envelope) int64 {
	if len(env.Created) > 0 {
		var n int64
		if err := json.Unmarshal(env.Created, &n); err == nil {
			return n
		}
	}
	for _, ts := range []string{env.CompletedAt, env.CreatedAt} {
		if ts == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.Unix()
		}
	}
	return 0
}
