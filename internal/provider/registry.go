package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"lawchat-gateway/internal/models"
)

// ErrUnknownProvider indicates the requested provider is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrUnsupportedOperation indicates the provider cannot fulfill the requested action.
var ErrUnsupportedOperation = errors.New("unsupported provider operation")

// Provider issues single completion calls against one upstream API.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
	// CompleteStream returns the raw SSE body; the caller must close it.
	CompleteStream(ctx context.Context, req models.CompletionRequest) (io.ReadCloser, error)
}

// Registry maintains the configured providers by name.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Provider
}

// NewRegistry constructs an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Provider),
	}
}

// RegisterProvider adds the provider under its name.
func (r *Registry) RegisterProvider(p Provider) error {
	if p == nil {
		return errors.New("provider must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name()]; exists {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.byName[p.Name()] = p
	return nil
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}
