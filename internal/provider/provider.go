// Package provider defines the upstream contract the gateway calls into.
package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"hf-gateway/internal/models"
)

// Credential is a bearer token for the upstream. It never prints its value.
type Credential string

func (c Credential) String() string {
	if c == "" {
		return "[none]"
	}
	return "[redacted]"
}

// LogValue keeps the token out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

// Provider issues chat completion calls in the upstream format.
type Provider interface {
	Name() string
	ListModels(ctx context.Context, cred Credential) ([]models.Model, error)
	Chat(ctx context.Context, req models.UpstreamRequest, cred Credential) (*models.UpstreamResponse, error)
	// ChatStream returns the raw event-stream body once the upstream has
	// accepted the request. Callers must close it.
	ChatStream(ctx context.Context, req models.UpstreamRequest, cred Credential) (io.ReadCloser, error)
}

// UpstreamError is a failure the upstream reported with an HTTP status.
type UpstreamError struct {
	StatusCode int
	Message    string
	Type       string
	Code       string
}

func (e *UpstreamError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("upstream error status %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("upstream error status %d: %s", e.StatusCode, e.Message)
}

// IsAuth reports whether the upstream rejected the credential.
func (e *UpstreamError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
