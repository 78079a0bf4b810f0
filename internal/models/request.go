package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest wraps every client payload validation failure.
var ErrInvalidRequest = errors.New("invalid request")

var (
	errEmptyMessages   = fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	errUnsupportedStop = fmt.Errorf("%w: unsupported stop value", ErrInvalidRequest)
	errInvalidRole     = fmt.Errorf("%w: invalid role", ErrInvalidRequest)
	errInvalidContent  = fmt.Errorf("%w: invalid message content", ErrInvalidRequest)
	errOutOfRange      = fmt.Errorf("%w: parameter out of range", ErrInvalidRequest)
)

// UnmarshalJSON decodes the client payload and validates it, so a decoded
// ClientRequest is always structurally valid.
func (r *ClientRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model            string             `json:"model"`
		Messages         []ChatMessage      `json:"messages"`
		Stream           bool               `json:"stream"`
		Temperature      *float64           `json:"temperature"`
		TopP             *float64           `json:"top_p"`
		MaxTokens        *int               `json:"max_tokens"`
		N                *int               `json:"n"`
		PresencePenalty  *float64           `json:"presence_penalty"`
		FrequencyPenalty *float64           `json:"frequency_penalty"`
		Stop             json.RawMessage    `json:"stop"`
		LogitBias        map[string]float64 `json:"logit_bias"`
		User             string             `json:"user"`
		Seed             *int64             `json:"seed"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode chat request: %w", ErrInvalidRequest, err)
	}

	stopValues, err := parseStop(raw.Stop)
	if err != nil {
		return err
	}

	*r = ClientRequest{
		Model:            strings.TrimSpace(raw.Model),
		Messages:         raw.Messages,
		Stream:           raw.Stream,
		Temperature:      raw.Temperature,
		TopP:             raw.TopP,
		MaxTokens:        raw.MaxTokens,
		N:                raw.N,
		PresencePenalty:  raw.PresencePenalty,
		FrequencyPenalty: raw.FrequencyPenalty,
		Stop:             stopValues,
		LogitBias:        raw.LogitBias,
		User:             raw.User,
		Seed:             raw.Seed,
	}

	return r.Validate()
}

// Validate checks the structural invariants of a client request. An empty
// model is accepted; the request translator substitutes the configured
// default.
func (r ClientRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	for i, msg := range r.Messages {
		if err := msg.validate(); err != nil {
			return fmt.Errorf("message[%d]: %w", i, err)
		}
	}

	if err := checkFloatRange("temperature", r.Temperature, 0, 2); err != nil {
		return err
	}
	if err := checkFloatRange("top_p", r.TopP, 0, 1); err != nil {
		return err
	}
	if err := checkFloatRange("presence_penalty", r.PresencePenalty, -2, 2); err != nil {
		return err
	}
	if err := checkFloatRange("frequency_penalty", r.FrequencyPenalty, -2, 2); err != nil {
		return err
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return fmt.Errorf("%w: max_tokens must be at least 1, got %d", errOutOfRange, *r.MaxTokens)
	}
	if r.N != nil && *r.N < 1 {
		return fmt.Errorf("%w: n must be at least 1, got %d", errOutOfRange, *r.N)
	}
	return nil
}

func checkFloatRange(name string, v *float64, lo, hi float64) error {
	if v == nil {
		return nil
	}
	if *v < lo || *v > hi {
		return fmt.Errorf("%w: %s must be within [%g, %g], got %g", errOutOfRange, name, lo, hi, *v)
	}
	return nil
}

// UnmarshalJSON accepts both string content and the array-of-text-parts form.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role      string          `json:"role"`
		Content   json.RawMessage `json:"content"`
		Name      string          `json:"name"`
		Reasoning string          `json:"reasoning"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode message: %w", ErrInvalidRequest, err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = Role(strings.TrimSpace(raw.Role))
	m.Content = content
	m.Name = strings.TrimSpace(raw.Name)
	m.Reasoning = raw.Reasoning
	return nil
}

func (m ChatMessage) validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: %q", errInvalidRole, m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: message content must not be empty", errInvalidContent)
	}
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

func parseStop(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, errUnsupportedStop
		}
		return []string{single}, nil
	}

	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		out := make([]string, 0, len(multi))
		for _, item := range multi {
			if item == "" {
				return nil, errUnsupportedStop
			}
			out = append(out, item)
		}
		return out, nil
	}
	return nil, errUnsupportedStop
}
