package genx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/haivivi/gizchat/pkg/chat"
)

var (
	_ chat.Remote         = (*Mux)(nil)
	_ chat.ImageGenerator = (*Mux)(nil)
)

// Mux routes conversations to remotes by model id. A model id of the form
// "provider/model" selects the remote registered for provider, which then
// sees only "model". A bare id goes to the default provider, the first one
// registered unless SetDefault says otherwise.
type Mux struct {
	mu       sync.RWMutex
	remotes  map[string]chat.Remote
	fallback string
	images   chat.ImageGenerator
}

// NewMux creates an empty multiplexer.
func NewMux() *Mux {
	return &Mux{remotes: make(map[string]chat.Remote)}
}

// Handle registers a remote for the given provider.
// Returns an error if a remote is already registered for the provider.
func (m *Mux) Handle(provider string, r chat.Remote) error {
	if provider == "" || strings.Contains(provider, "/") {
		return fmt.Errorf("genx: invalid provider name %q", provider)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.remotes[provider]; ok {
		return fmt.Errorf("genx: remote already registered for %s", provider)
	}
	m.remotes[provider] = r
	if m.fallback == "" {
		m.fallback = provider
	}
	return nil
}

// SetDefault selects the provider of bare model ids.
func (m *Mux) SetDefault(provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.remotes[provider]; !ok {
		return fmt.Errorf("genx: remote not found for %s", provider)
	}
	m.fallback = provider
	return nil
}

// HandleImages sets the image generator used by GenerateImage.
func (m *Mux) HandleImages(g chat.ImageGenerator) {
	m.mu.Lock()
	m.images = g
	m.mu.Unlock()
}

// Providers returns the registered providers, sorted.
func (m *Mux) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.remotes))
	for p := range m.remotes {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Route resolves a model id to its remote and the model name the remote
// expects.
func (m *Mux) Route(model string) (chat.Remote, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if provider, name, ok := strings.Cut(model, "/"); ok {
		if r, ok := m.remotes[provider]; ok {
			return r, name, nil
		}
	}
	if m.fallback == "" {
		return nil, "", fmt.Errorf("genx: remote not found for %s", model)
	}
	return m.remotes[m.fallback], model, nil
}

func (m *Mux) NewConversation(ctx context.Context, cfg chat.SessionConfig, tools []chat.ToolSpec) (chat.Conversation, error) {
	r, name, err := m.Route(cfg.Model)
	if err != nil {
		return nil, err
	}
	cfg.Model = name
	return r.NewConversation(ctx, cfg, tools)
}

func (m *Mux) GenerateImage(ctx context.Context, prompt string) (*chat.Image, error) {
	m.mu.RLock()
	g := m.images
	m.mu.RUnlock()
	if g == nil {
		return nil, errors.New("genx: no image generator")
	}
	return g.GenerateImage(ctx, prompt)
}
