package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/persona-council/internal/llm"
	"github.com/yungbote/persona-council/internal/llm/mock"
	"github.com/yungbote/persona-council/internal/llm/oaihttp"
)

type EngineConfig struct {
	Type                string
	BaseURL             string
	APIKey              string
	ChatCompletionsPath string
	Timeout             time.Duration
}

type ModelEngine struct {
	ID            string
	UpstreamModel string
	Engine        EngineConfig
}

type Route struct {
	PublicModel   string
	UpstreamModel string
	Provider      llm.Provider
}

// Registry dispatches Complete calls to the provider configured for the
// request's model id, rewriting it to the upstream model name.
type Registry struct {
	routes map[string]Route
}

var _ llm.Provider = (*Registry)(nil)

func NewRegistry(models []ModelEngine) (*Registry, error) {
	r := &Registry{routes: map[string]Route{}}
	for _, m := range models {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return nil, fmt.Errorf("model id required")
		}
		if _, exists := r.routes[id]; exists {
			return nil, fmt.Errorf("duplicate model id: %s", id)
		}

		var p llm.Provider
		switch strings.ToLower(strings.TrimSpace(m.Engine.Type)) {
		case "mock", "":
			p = mock.New()
		case "openai_http", "oai_http":
			e, err := oaihttp.New(oaihttp.Config{
				BaseURL:             m.Engine.BaseURL,
				APIKey:              m.Engine.APIKey,
				ChatCompletionsPath: m.Engine.ChatCompletionsPath,
				Timeout:             m.Engine.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("model %s: %w", id, err)
			}
			p = e
		default:
			return nil, fmt.Errorf("unsupported engine type %q for model %q", m.Engine.Type, id)
		}

		upstream := strings.TrimSpace(m.UpstreamModel)
		if upstream == "" {
			upstream = id
		}
		r.routes[id] = Route{PublicModel: id, UpstreamModel: upstream, Provider: p}
	}
	return r, nil
}

// Register adds or replaces a route; used by tests and embedding callers.
func (r *Registry) Register(id string, p llm.Provider) {
	r.routes[id] = Route{PublicModel: id, UpstreamModel: id, Provider: p}
}

func (r *Registry) RouteForModel(model string) (Route, bool) {
	route, ok := r.routes[strings.TrimSpace(model)]
	return route, ok
}

func (r *Registry) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	route, ok := r.RouteForModel(req.Model)
	if !ok {
		return nil, &llm.ModelUnavailableError{Model: req.Model, Err: fmt.Errorf("no engine registered")}
	}
	upstream := req
	upstream.Model = route.UpstreamModel
	return route.Provider.Complete(ctx, upstream)
}
