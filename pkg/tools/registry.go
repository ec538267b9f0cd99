// Package tools hosts the device actions the model can invoke during a
// turn: weather, app launching, reminders, SMS, and URL opening.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/harunnryd/elara/pkg/llm"
)

// SideEffect is a client-visible action a tool requests beyond its
// textual result, delivered on the event stream.
type SideEffect struct {
	Kind string
	URL  string
}

const SideEffectOpenURL = "open_url"

// Result is one executed tool's outcome.
type Result struct {
	Text       string
	SideEffect *SideEffect
}

// Handler executes one tool call.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

type Registry struct {
	mu       sync.RWMutex
	tools    map[string]llm.Tool
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]llm.Tool),
		handlers: make(map[string]Handler),
	}
}

func (r *Registry) Register(tool llm.Tool, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
	r.handlers[tool.Name] = h
}

// Schema returns the declared tools in stable name order.
func (r *Registry) Schema() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) handler(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}
