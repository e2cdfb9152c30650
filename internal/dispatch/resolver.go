// Package dispatch maps a persona selector to a backend agent and delivers
// that decision to the realtime backend.
package dispatch

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Directive asks the backend to attach AgentName to a room. Metadata is the
// JSON persona selection, handed to the agent untouched.
type Directive struct {
	AgentName string
	Metadata  string
}

// Persona is one recognised selector and the agent it maps to.
type Persona struct {
	Selector  string `json:"selector"`
	AgentName string `json:"agent_name"`
}

// Resolver holds the immutable selector to agent mapping.
type Resolver struct {
	agents         map[string]string
	defaultPersona string
}

// NewResolver copies agents; later changes to the map are not observed.
// Selectors are matched case-insensitively.
func NewResolver(agents map[string]string, defaultPersona string) *Resolver {
	m := make(map[string]string, len(agents))
	for selector, agent := range agents {
		selector = normalize(selector)
		agent = strings.TrimSpace(agent)
		if selector == "" || agent == "" {
			continue
		}
		m[selector] = agent
	}
	return &Resolver{agents: m, defaultPersona: strings.TrimSpace(defaultPersona)}
}

// Resolve returns the directive for selector, falling back to the default
// persona when selector is empty. ok is false for unknown selectors; that is a
// normal outcome, the session simply joins without a requested agent.
func (r *Resolver) Resolve(selector string) (d *Directive, ok bool) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		selector = r.defaultPersona
	}
	agent, found := r.agents[normalize(selector)]
	if !found {
		return nil, false
	}
	return &Directive{AgentName: agent, Metadata: personaMetadata(selector)}, true
}

// Personas lists the mapping sorted by selector.
func (r *Resolver) Personas() []Persona {
	out := lo.MapToSlice(r.agents, func(selector, agent string) Persona {
		return Persona{Selector: selector, AgentName: agent}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Selector < out[j].Selector })
	return out
}

func personaMetadata(selector string) string {
	b, _ := json.Marshal(map[string]string{"personality": selector})
	return string(b)
}

func normalize(selector string) string {
	return strings.ToLower(strings.TrimSpace(selector))
}
