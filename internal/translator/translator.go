// Package translator maps client-format chat requests onto the upstream
// provider format and maps upstream replies back. Every function here is a
// pure data transformation; the only non-determinism is response id
// synthesis and the creation timestamp when upstream omits them.
package translator

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Options is the immutable configuration a Translator is built from.
type Options struct {
	// DefaultModel is the upstream identifier used when a request names no model.
	DefaultModel string
	// Aliases maps client model names to upstream-qualified identifiers.
	Aliases map[string]string
	// ReasoningMarkers are substrings of a model id that identify models
	// emitting a "</think>" separated reasoning preamble.
	ReasoningMarkers []string
}

// Translator converts between the client and upstream formats.
type Translator struct {
	defaultModel string
	aliases      map[string]string
	markers      []string
	newID        func() string
	now          func() time.Time
}

// New builds a Translator. The options are copied.
func New(opts Options) *Translator {
	aliases := make(map[string]string, len(opts.Aliases))
	for k, v := range opts.Aliases {
		aliases[k] = v
	}
	markers := make([]string, 0, len(opts.ReasoningMarkers))
	for _, m := range opts.ReasoningMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &Translator{
		defaultModel: opts.DefaultModel,
		aliases:      aliases,
		markers:      markers,
		newID:        NewResponseID,
		now:          time.Now,
	}
}

// IsReasoningModel reports whether model matches one of the configured markers.
func (t *Translator) IsReasoningModel(model string) bool {
	lower := strings.ToLower(model)
	for _, m := range t.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// NewResponseID returns a fresh client response id of the form
// "chatcmpl-<29 hex chars>".
func NewResponseID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "chatcmpl-" + hex[:29]
}
