package provider

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/HanTheDev/support-chat-gateway/internal/config"
)

// factories maps a provider name to the adapter that speaks its wire format.
var factories = map[string]func(name string, cfg Config, client *http.Client) Adapter{
	"chatgpt": newOpenAICompatible,
	"grok":    newOpenAICompatible,
	"gemini":  newGemini,
}

// Registry resolves provider names to adapters. Providers that are known but
// misconfigured are remembered with the reason, so a request for them fails
// with a ConfigError instead of reaching the network.
type Registry struct {
	defaultName string
	logger      *slog.Logger

	mu       sync.RWMutex
	adapters map[string]Adapter
	invalid  map[string]string
}

func NewRegistry(defaultName string, logger *slog.Logger) *Registry {
	return &Registry{
		defaultName: defaultName,
		logger:      logger,
		adapters:    make(map[string]Adapter),
		invalid:     make(map[string]string),
	}
}

// FromConfig builds a registry with an adapter for every configured provider
// that has a usable key and URL.
func FromConfig(cfg *config.Config, logger *slog.Logger) *Registry {
	r := NewRegistry(cfg.DefaultProvider, logger)
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{Timeout: timeout}

	for name, pc := range cfg.Providers {
		r.Configure(name, Config{
			APIKey:      pc.APIKey,
			APIURL:      pc.APIURL,
			Model:       pc.Model,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
		}, client)
	}
	return r
}

// Configure validates cfg and installs the adapter for name.
func (r *Registry) Configure(name string, cfg Config, client *http.Client) {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	factory, ok := factories[name]

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, name)
	delete(r.invalid, name)

	switch {
	case !ok:
		r.logger.Warn("Ignoring unknown provider in configuration", "provider", name)
		return
	case config.IsPlaceholderKey(cfg.APIKey):
		r.invalid[name] = "API key is missing or not set. Please configure it in .env file"
		return
	case strings.TrimSpace(cfg.APIURL) == "":
		r.invalid[name] = "API URL is not configured"
		return
	}
	r.adapters[name] = factory(name, cfg, client)
}

// Register installs a ready adapter under its own name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.invalid, a.Name())
	r.adapters[a.Name()] = a
}

func (r *Registry) Default() string { return r.defaultName }

// Get resolves name, or the default provider when name is empty.
func (r *Registry) Get(name string) (Adapter, error) {
	if name == "" {
		name = r.defaultName
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	if reason, ok := r.invalid[name]; ok {
		return nil, &ConfigError{Provider: name, Reason: reason}
	}
	return nil, &ConfigError{Provider: name, Reason: "is not configured"}
}

// Names lists the usable providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
