// Package registry implements the Adapter Registry (C1): it holds the set
// of adapter drivers and maps model-id -> adapter + upstream model
// identifier. It is built once at startup and is safe for concurrent reads
// thereafter.
package registry

import (
	"fmt"
	"strings"

	"github.com/ternarybob/chatrelay/internal/adapter"
	"github.com/ternarybob/chatrelay/internal/models"
)

// Registry is the immutable-after-startup set of adapters keyed by type.
type Registry struct {
	adapters []adapter.Adapter
	byType   map[string]adapter.Adapter
	// order preserves the adapter-type registration order used to
	// disambiguate a plain (unqualified) model id lookup.
	order []string
}

// New builds a Registry from the given adapters, registered in the order
// given. Adapters may be added at startup only.
func New(adapters ...adapter.Adapter) (*Registry, error) {
	r := &Registry{
		byType: make(map[string]adapter.Adapter, len(adapters)),
	}
	for _, a := range adapters {
		if _, exists := r.byType[a.Type()]; exists {
			return nil, fmt.Errorf("registry: duplicate adapter type %q", a.Type())
		}
		r.byType[a.Type()] = a
		r.adapters = append(r.adapters, a)
		r.order = append(r.order, a.Type())
	}
	return r, nil
}

// splitQualified splits a "type/id" model key into (type, id, qualified).
func splitQualified(modelKey string) (adapterType, id string, qualified bool) {
	if idx := strings.IndexByte(modelKey, '/'); idx >= 0 {
		return modelKey[:idx], modelKey[idx+1:], true
	}
	return "", modelKey, false
}

// findDescriptor returns the descriptor for id served by the named adapter
// type, or nil.
func (r *Registry) findDescriptor(adapterType, id string) *models.ModelDescriptor {
	a, ok := r.byType[adapterType]
	if !ok {
		return nil
	}
	for _, d := range a.Models() {
		if d.ID == id {
			return &d
		}
	}
	return nil
}

// ResolveModel resolves a model key scoped to a specific adapter type. The
// type parameter pins the lookup; pass "" to search in registration order
// of adapter types for a plain id, or pass a "type/id" qualified modelKey via
// ResolveModelKey instead.
func (r *Registry) ResolveModel(adapterType, id string) (upstreamID string, descriptor *models.ModelDescriptor) {
	var d *models.ModelDescriptor
	if adapterType == "" {
		for _, t := range r.order {
			if d = r.findDescriptor(t, id); d != nil {
				break
			}
		}
	} else {
		d = r.findDescriptor(adapterType, id)
	}
	if d == nil {
		return "", nil
	}
	return d.UpstreamID, d
}

// ResolveModelKey resolves a possibly-qualified model key ("type/id" or a
// plain id) against the registry's known adapter types, in registration
// order for the unqualified case.
func (r *Registry) ResolveModelKey(modelKey string) (adapterType string, descriptor *models.ModelDescriptor) {
	if aType, id, qualified := splitQualified(modelKey); qualified {
		d := r.findDescriptor(aType, id)
		if d == nil {
			return "", nil
		}
		return aType, d
	}
	for _, aType := range r.order {
		if d := r.findDescriptor(aType, modelKey); d != nil {
			return aType, d
		}
	}
	return "", nil
}

// SupportsModel reports whether adapterType knows modelKey (honoring the
// type/id qualifier if present and matching adapterType).
func (r *Registry) SupportsModel(adapterType, modelKey string) bool {
	if qType, id, qualified := splitQualified(modelKey); qualified {
		if qType != adapterType {
			return false
		}
		return r.findDescriptor(adapterType, id) != nil
	}
	return r.findDescriptor(adapterType, modelKey) != nil
}

// ImagePolicy returns the image policy for (adapterType, modelKey), or
// ImagePolicyForbidden if unresolvable.
func (r *Registry) ImagePolicy(adapterType, modelKey string) models.ImagePolicy {
	_, id, qualified := splitQualified(modelKey)
	if !qualified {
		id = modelKey
	}
	d := r.findDescriptor(adapterType, id)
	if d == nil {
		return models.ImagePolicyForbidden
	}
	return d.ImagePolicy
}

// ModelType returns the modality for (adapterType, modelKey).
func (r *Registry) ModelType(adapterType, modelKey string) models.Modality {
	_, id, qualified := splitQualified(modelKey)
	if !qualified {
		id = modelKey
	}
	d := r.findDescriptor(adapterType, id)
	if d == nil {
		return models.ModalityText
	}
	return d.Modality
}

// ListModels lists every model descriptor the named adapter type serves.
func (r *Registry) ListModels(adapterType string) []models.ModelDescriptor {
	a, ok := r.byType[adapterType]
	if !ok {
		return nil
	}
	return a.Models()
}

// AllModels lists every model descriptor across every registered adapter.
func (r *Registry) AllModels() []models.ModelDescriptor {
	var all []models.ModelDescriptor
	for _, a := range r.adapters {
		all = append(all, a.Models()...)
	}
	return all
}

// TargetURL computes the entry URL for adapterType given global and
// worker-specific configuration.
func (r *Registry) TargetURL(adapterType string, globalCfg, workerCfg map[string]interface{}) (string, error) {
	a, ok := r.byType[adapterType]
	if !ok {
		return "", fmt.Errorf("registry: unknown adapter type %q", adapterType)
	}
	return a.TargetURL(globalCfg, workerCfg), nil
}

// NavigationHandlers returns the ordered navigation hooks for adapterType.
func (r *Registry) NavigationHandlers(adapterType string) []adapter.NavigationHandler {
	a, ok := r.byType[adapterType]
	if !ok {
		return nil
	}
	return a.NavigationHandlers()
}

// Adapter returns the adapter registered under the given type, or nil.
func (r *Registry) Adapter(adapterType string) adapter.Adapter {
	return r.byType[adapterType]
}

// Types returns the registered adapter types in registration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
