package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"hf-gateway/internal/config"
	"hf-gateway/internal/provider"
	"hf-gateway/internal/provider/huggingface"
)

const (
	defaultDialTimeout           = 10 * time.Second
	defaultKeepAlive             = 30 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
)

// NewProvider constructs the configured upstream provider.
func NewProvider(cfg config.Config) (provider.Provider, error) {
	p, err := huggingface.New("huggingface", cfg.Upstream, newHTTPClient(cfg.Upstream.Timeout))
	if err != nil {
		return nil, fmt.Errorf("initialise huggingface provider: %w", err)
	}
	return p, nil
}

// newHTTPClient builds a client without an overall timeout: the request
// context carries the per-request budget, which a streamed body must be
// able to use in full. headerTimeout bounds the wait for the first byte.
func newHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
		ResponseHeaderTimeout: headerTimeout,
	}

	return &http.Client{
		Transport: transport,
	}
}
