// Package plugins discovers and loads business-logic handlers at startup.
// The registry is populated once and read-only for the rest of the process;
// there is no hot reload.
package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/courierd/internal/pipeline"
)

var (
	ErrHandlerExists      = errors.New("plugins: handler already registered")
	ErrHandlerNil         = errors.New("plugins: handler is nil")
	ErrInvalidHandlerName = errors.New("plugins: invalid handler name")
)

// Registry stores handlers by stable name.
type Registry struct {
	items map[string]pipeline.Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]pipeline.Handler)}
}

// ValidateName checks the handler name format.
func ValidateName(name string) error {
	if !isValidName(strings.TrimSpace(name)) {
		return fmt.Errorf("%w: %q", ErrInvalidHandlerName, name)
	}
	return nil
}

// Register adds a handler to the registry.
func (r *Registry) Register(h pipeline.Handler) error {
	if h == nil {
		return ErrHandlerNil
	}
	name := strings.TrimSpace(h.Name())
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, name)
	}
	r.items[name] = h
	return nil
}

// Resolve returns a handler by name.
func (r *Registry) Resolve(name string) (pipeline.Handler, bool) {
	h, ok := r.items[strings.TrimSpace(name)]
	return h, ok
}

// Handlers returns all handlers in deterministic name order.
func (r *Registry) Handlers() []pipeline.Handler {
	names := r.Names()
	out := make([]pipeline.Handler, 0, len(names))
	for _, name := range names {
		out = append(out, r.items[name])
	}
	return out
}

// Names returns registered handler names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func isValidName(name string) bool {
	if name == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if i == 0 || i == len(name)-1 {
			if isSep {
				return false
			}
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
