// Package huggingface implements the provider contract against the
// OpenAI-compatible Hugging Face inference router.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"hf-gateway/internal/config"
	"hf-gateway/internal/models"
	"hf-gateway/internal/provider"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeStream = "text/event-stream"
	userAgent         = "hf-gateway/1.0"
	maxErrorBody      = 64 * 1024
	ownerHuggingFace  = "huggingface"
)

// Provider talks to the Hugging Face router.
type Provider struct {
	name      string
	token     provider.Credential
	headers   map[string]string
	client    *http.Client
	chatURL   string
	modelsURL string
}

// New creates a provider for cfg. The configured token is used for calls
// that do not carry their own credential.
func New(name string, cfg config.UpstreamConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &Provider{
		name:      name,
		token:     provider.Credential(cfg.Token),
		headers:   headers,
		client:    client,
		chatURL:   baseURL + "/chat/completions",
		modelsURL: baseURL + "/models",
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) ListModels(ctx context.Context, cred provider.Credential) ([]models.Model, error) {
	httpReq, err := p.newRequest(ctx, http.MethodGet, p.modelsURL, nil, cred)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s models request failed: %w", p.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var list models.ModelList
	if err := decodeJSON(httpResp.Body, &list); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for i := range list.Data {
		if list.Data[i].Created == 0 {
			list.Data[i].Created = now
		}
		if list.Data[i].Object == "" {
			list.Data[i].Object = models.ObjectModel
		}
		if list.Data[i].OwnedBy == "" {
			list.Data[i].OwnedBy = ownerHuggingFace
		}
	}
	return list.Data, nil
}

func (p *Provider) Chat(ctx context.Context, req models.UpstreamRequest, cred provider.Credential) (*models.UpstreamResponse, error) {
	req.Stream = false

	httpReq, err := p.newRequest(ctx, http.MethodPost, p.chatURL, req, cred)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s chat request failed: %w", p.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var providerResp models.UpstreamResponse
	if err := decodeJSON(httpResp.Body, &providerResp); err != nil {
		return nil, err
	}
	return &providerResp, nil
}

func (p *Provider) ChatStream(ctx context.Context, req models.UpstreamRequest, cred provider.Credential) (io.ReadCloser, error) {
	req.Stream = true

	httpReq, err := p.newRequest(ctx, http.MethodPost, p.chatURL, req, cred)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", contentTypeStream)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s chat stream request failed: %w", p.name, err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}
	return httpResp.Body, nil
}

func (p *Provider) newRequest(ctx context.Context, method, url string, payload any, cred provider.Credential) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	token := cred
	if token == "" {
		token = p.token
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+string(token))
	}

	return req, nil
}

// parseAPIError reads an error body in any of the shapes the router and
// its backends produce: {"error":{"message":...}}, {"error":"..."} or
// {"message":"..."}.
func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &provider.UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read error body: %v", err),
		}
	}

	upErr := &provider.UpstreamError{StatusCode: resp.StatusCode}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		errField := parsed.Get("error")
		switch {
		case errField.IsObject():
			upErr.Message = errField.Get("message").String()
			upErr.Type = errField.Get("type").String()
			upErr.Code = errField.Get("code").String()
		case errField.Exists() && errField.Type != gjson.Null:
			upErr.Message = errField.String()
			upErr.Type = parsed.Get("error_type").String()
		default:
			upErr.Message = parsed.Get("message").String()
		}
	}
	if upErr.Message == "" {
		upErr.Message = strings.TrimSpace(string(body))
	}
	if upErr.Message == "" {
		upErr.Message = http.StatusText(resp.StatusCode)
	}
	return upErr
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
