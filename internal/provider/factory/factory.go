package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"lawchat-gateway/internal/config"
	"lawchat-gateway/internal/metrics"
	"lawchat-gateway/internal/models"
	"lawchat-gateway/internal/provider"
	geminiProvider "lawchat-gateway/internal/provider/gemini"
	openaiProvider "lawchat-gateway/internal/provider/openai"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// RegisterConfiguredProviders constructs the primary and optional fallback providers
// from configuration and stores them in the registry.
func RegisterConfiguredProviders(cfg config.Config, registry *provider.Registry, m *metrics.Metrics) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	// Streams outlive any fixed client timeout; deadlines come from request contexts.
	client := newHTTPClient(cfg.Upstream.RequestTimeout)

	primary, err := build(cfg.Providers.Primary, client)
	if err != nil {
		return fmt.Errorf("initialise provider %s: %w", cfg.Providers.Primary.Name, err)
	}
	if err := registry.RegisterProvider(instrument(primary, m)); err != nil {
		return fmt.Errorf("register provider %s: %w", primary.Name(), err)
	}

	if fb := cfg.Providers.Fallback; fb != nil {
		fallback, err := build(*fb, client)
		if err != nil {
			return fmt.Errorf("initialise provider %s: %w", fb.Name, err)
		}
		if err := registry.RegisterProvider(instrument(fallback, m)); err != nil {
			return fmt.Errorf("register provider %s: %w", fallback.Name(), err)
		}
	}

	return nil
}

func build(cfg config.ProviderConfig, client *http.Client) (provider.Provider, error) {
	switch cfg.Kind {
	case config.KindGemini:
		return geminiProvider.New(cfg, client)
	case config.KindOpenAI:
		return openaiProvider.New(cfg, client)
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", cfg.Kind)
	}
}

func newHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}

	return &http.Client{
		Transport: transport,
	}
}

// instrumented records latency and outcome of every call in m.
type instrumented struct {
	provider.Provider
	metrics *metrics.Metrics
}

func instrument(p provider.Provider, m *metrics.Metrics) provider.Provider {
	if m == nil {
		return p
	}
	return &instrumented{Provider: p, metrics: m}
}

func (i *instrumented) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	start := time.Now()
	resp, err := i.Provider.Complete(ctx, req)
	i.metrics.ObserveUpstream(i.Name(), mode(req, false), outcome(err), time.Since(start))
	return resp, err
}

func (i *instrumented) CompleteStream(ctx context.Context, req models.CompletionRequest) (io.ReadCloser, error) {
	start := time.Now()
	body, err := i.Provider.CompleteStream(ctx, req)
	i.metrics.ObserveUpstream(i.Name(), mode(req, true), outcome(err), time.Since(start))
	return body, err
}

func mode(req models.CompletionRequest, stream bool) string {
	switch {
	case stream:
		return "stream"
	case req.Grounding:
		return "grounded"
	default:
		return "ungrounded"
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case provider.IsRegionRestricted(err):
		return metrics.OutcomeRegion
	default:
		return metrics.OutcomeError
	}
}
