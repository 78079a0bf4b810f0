// Package apierr classifies failures into client-format error envelopes
// with a transport status, and logs them without leaking credentials.
package apierr

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"hf-gateway/internal/metrics"
	"hf-gateway/internal/models"
	"hf-gateway/internal/provider"
	"hf-gateway/internal/stream"
)

const (
	// StatusClientClosedRequest is used when the caller went away first.
	StatusClientClosedRequest = 499

	maxMessageLen   = 512
	internalMessage = "internal server error"
)

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=\-]+`),
	regexp.MustCompile(`hf_[A-Za-z0-9]{6,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{6,}`),
}

// RequestError is a transport-level client error (bad route, bad body).
type RequestError struct {
	Status  int
	Message string
	Code    string
}

func (e *RequestError) Error() string { return e.Message }

// Mapper turns errors into envelopes. It is safe for concurrent use.
type Mapper struct {
	logger  *slog.Logger
	secrets []string
}

// NewMapper returns a Mapper that scrubs the given secret values, in
// addition to token-shaped strings, from every rendered or logged message.
func NewMapper(logger *slog.Logger, secrets ...string) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	kept := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return &Mapper{logger: logger, secrets: kept}
}

type classification struct {
	status         int
	errType        models.ErrorType
	code           string
	message        string
	upstreamStatus int
	level          slog.Level
}

// Map classifies err, logs it against requestID and returns the transport
// status and the envelope to render.
func (m *Mapper) Map(requestID string, err error) (int, models.ErrorEnvelope) {
	c := m.classify(err)
	m.log(requestID, "request failed", c, err)
	metrics.ErrorsTotal.WithLabelValues(string(c.errType)).Inc()

	return c.status, models.ErrorEnvelope{
		Error: models.ErrorDetail{
			Message: c.message,
			Type:    c.errType,
			Code:    c.code,
		},
	}
}

func (m *Mapper) classify(err error) classification {
	var (
		reqErr   *RequestError
		upErr    *provider.UpstreamError
		eventErr *stream.UpstreamEventError
		netErr   net.Error
	)

	switch {
	case errors.As(err, &reqErr):
		return classification{
			status:  reqErr.Status,
			errType: models.ErrorInvalidRequest,
			code:    reqErr.Code,
			message: m.sanitize(reqErr.Message),
			level:   slog.LevelInfo,
		}
	case errors.Is(err, models.ErrInvalidRequest):
		return classification{
			status:  http.StatusBadRequest,
			errType: models.ErrorInvalidRequest,
			message: m.sanitize(err.Error()),
			level:   slog.LevelInfo,
		}
	case errors.Is(err, context.Canceled):
		return classification{
			status:  StatusClientClosedRequest,
			errType: models.ErrorInternal,
			code:    "client_closed_request",
			message: "client closed request",
			level:   slog.LevelDebug,
		}
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return classification{
			status:  http.StatusGatewayTimeout,
			errType: models.ErrorTimeout,
			message: "upstream request timed out",
			level:   slog.LevelWarn,
		}
	case errors.As(err, &upErr):
		c := classification{
			status:         upErr.StatusCode,
			errType:        models.ErrorUpstream,
			code:           upErr.Code,
			message:        m.sanitize(upErr.Message),
			upstreamStatus: upErr.StatusCode,
			level:          slog.LevelWarn,
		}
		if upErr.StatusCode == http.StatusTooManyRequests || isRateLimit(upErr.Type, upErr.Code, upErr.Message) {
			c.errType = models.ErrorRateLimited
		}
		if c.status < 400 {
			c.status = http.StatusBadGateway
		}
		return c
	case errors.As(err, &eventErr):
		c := classification{
			status:  http.StatusBadGateway,
			errType: models.ErrorUpstream,
			code:    eventErr.Code,
			message: m.sanitize(eventErr.Message),
			level:   slog.LevelWarn,
		}
		if isRateLimit(eventErr.Type, eventErr.Code, eventErr.Message) {
			c.errType = models.ErrorRateLimited
			c.status = http.StatusTooManyRequests
		}
		return c
	default:
		return classification{
			status:  http.StatusInternalServerError,
			errType: models.ErrorInternal,
			message: internalMessage,
			level:   slog.LevelError,
		}
	}
}

func isRateLimit(values ...string) bool {
	for _, v := range values {
		v = strings.ToLower(v)
		if strings.Contains(v, "rate_limit") || strings.Contains(v, "rate limit") || strings.Contains(v, "quota") {
			return true
		}
	}
	return false
}

func (m *Mapper) log(requestID, msg string, c classification, err error, extra ...any) {
	attrs := []any{
		"request_id", requestID,
		"type", c.errType,
		"status", c.status,
	}
	attrs = append(attrs, extra...)
	if c.upstreamStatus != 0 {
		attrs = append(attrs, "upstream_status", c.upstreamStatus)
	}
	if err != nil {
		attrs = append(attrs, "error", m.sanitize(err.Error()))
	}
	m.logger.Log(context.Background(), c.level, msg, attrs...)
}

// sanitize removes credentials and truncates the message.
func (m *Mapper) sanitize(msg string) string {
	for _, s := range m.secrets {
		msg = strings.ReplaceAll(msg, s, "[redacted]")
	}
	for _, re := range secretPatterns {
		msg = re.ReplaceAllString(msg, "[redacted]")
	}
	return truncate(msg, maxMessageLen)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
