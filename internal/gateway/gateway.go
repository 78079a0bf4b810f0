// Package gateway drives one client call end to end: validate, translate,
// call the upstream, translate or re-frame the reply.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hf-gateway/internal/metrics"
	"hf-gateway/internal/models"
	"hf-gateway/internal/provider"
	"hf-gateway/internal/stream"
	"hf-gateway/internal/translator"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
	ownerDefault = "huggingface"
)

// Gateway holds read-only collaborators and is shared by all requests.
type Gateway struct {
	provider   provider.Provider
	translator *translator.Translator
	timeout    time.Duration
	logger     *slog.Logger
}

// New constructs a Gateway. timeout bounds each request, including the
// whole lifetime of a stream.
func New(p provider.Provider, tr *translator.Translator, timeout time.Duration, logger *slog.Logger) (*Gateway, error) {
	if p == nil {
		return nil, errors.New("provider must not be nil")
	}
	if tr == nil {
		return nil, errors.New("translator must not be nil")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{provider: p, translator: tr, timeout: timeout, logger: logger}, nil
}

// Chat performs a non-streaming completion.
func (g *Gateway) Chat(ctx context.Context, req models.ClientRequest, cred provider.Credential) (models.ClientResponse, error) {
	if err := req.Validate(); err != nil {
		return models.ClientResponse{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	upReq := g.translator.TranslateRequest(req)
	g.logger.Debug("forwarding chat request",
		"model", upReq.Model,
		"messages", len(upReq.Messages),
		"credential", cred,
	)

	start := time.Now()
	resp, err := g.provider.Chat(ctx, upReq, cred)
	observeUpstream(start, err)
	if err != nil {
		return models.ClientResponse{}, fmt.Errorf("%s chat request: %w", g.provider.Name(), err)
	}

	return g.translator.TranslateResponse(*resp, req.Model)
}

// ChatStream opens an upstream stream and returns a Stream that re-frames
// it. The returned Stream owns the upstream connection and the request
// deadline; the caller must Close it.
func (g *Gateway) ChatStream(ctx context.Context, req models.ClientRequest, cred provider.Credential, reporter stream.Reporter) (*stream.Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)

	upReq := g.translator.TranslateRequest(req)
	g.logger.Debug("forwarding chat stream request",
		"model", upReq.Model,
		"messages", len(upReq.Messages),
		"credential", cred,
	)

	start := time.Now()
	body, err := g.provider.ChatStream(ctx, upReq, cred)
	observeUpstream(start, err)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s chat stream request: %w", g.provider.Name(), err)
	}

	rf := stream.NewReframer(stream.Options{
		Model:         req.Model,
		UpstreamModel: upReq.Model,
		Reasoning:     g.translator.IsReasoningModel(upReq.Model),
		Reporter:      reporter,
	})
	return stream.New(ctx, stream.NewSSEReader(body), rf, cancel), nil
}

// ListModels returns the upstream model catalogue. When the upstream
// cannot be reached the configured default model is returned alone.
func (g *Gateway) ListModels(ctx context.Context, cred provider.Credential) models.ModelList {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	list, err := g.provider.ListModels(ctx, cred)
	if err != nil || len(list) == 0 {
		if err != nil {
			g.logger.Warn("listing upstream models failed, using default", "error", err)
		}
		list = []models.Model{{
			ID:      g.translator.UpstreamModel(""),
			Object:  models.ObjectModel,
			Created: time.Now().Unix(),
			OwnedBy: ownerDefault,
		}}
	}
	return models.ModelList{Object: models.ObjectList, Data: list}
}

func observeUpstream(start time.Time, err error) {
	metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(outcomeError).Inc()
		return
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(outcomeOK).Inc()
}
