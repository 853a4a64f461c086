package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/attaboy/gamecallback/internal/domain"
	"github.com/attaboy/gamecallback/internal/response"
)

// RawRequest is one inbound delivery before any provider-specific parsing.
type RawRequest struct {
	// Action is the provider's wording of the action, taken from the route.
	Action      string
	ClientID    int64
	Body        []byte
	ContentType string
	Header      http.Header
	Query       url.Values
	ReceivedAt  time.Time
}

// Adapter maps one provider family's wire format to and from the engine's
// canonical model.
type Adapter interface {
	Provider() domain.Provider

	// Parse normalises raw into a CallbackEvent. Failures are MalformedRequest.
	Parse(raw *RawRequest) (*domain.CallbackEvent, error)

	// Verify checks authenticity with the client's credentials. Failures are
	// InvalidSecureToken.
	Verify(ctx context.Context, raw *RawRequest, ev *domain.CallbackEvent, client *domain.ProviderClient) error

	// SignsRequests reports whether Verify authenticates the request body
	// itself. When false only the session token ties a request to a player.
	SignsRequests() bool

	// BuildResponse renders the payload that is cached for the callback.
	BuildResponse(r *response.Result, client *domain.ProviderClient) ([]byte, error)

	FingerprintPolicy() response.FingerprintPolicy
}

// Sealer is implemented by adapters whose policy is FingerprintFresh. Seal
// signs a cached payload for one serve.
type Sealer interface {
	Seal(payload []byte, client *domain.ProviderClient, now time.Time) ([]byte, error)
}

// Registry selects adapters by provider.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

// NewRegistry registers the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

// Get returns the adapter for p.
func (r *Registry) Get(p domain.Provider) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", p)
	}
	return a, nil
}

// parseBool accepts the boolean spellings providers use; empty yields def.
func parseBool(s string, def bool) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// requireFields returns MalformedRequest naming the first empty field.
func requireFields(fields ...[2]string) error {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return domain.ErrMalformedRequest(fmt.Sprintf("missing %s", f[0]))
		}
	}
	return nil
}
