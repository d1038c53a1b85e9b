package gateway

import (
	"fmt"
	"sort"

	"peppolrelay/pkg/domain"
)

// Registry maps an access point to its active implementation. It is built
// once at startup and read-only afterwards.
type Registry struct {
	gateways map[domain.AccessPoint]Gateway
}

// NewRegistry indexes gateways by ID. NONE can never be registered.
func NewRegistry(gateways ...Gateway) (*Registry, error) {
	r := &Registry{gateways: make(map[domain.AccessPoint]Gateway, len(gateways))}
	for _, g := range gateways {
		if g == nil {
			return nil, fmt.Errorf("nil gateway")
		}
		id := g.ID()
		if id.IsNone() || !id.IsValid() {
			return nil, fmt.Errorf("gateway with invalid id %q", id)
		}
		if _, exists := r.gateways[id]; exists {
			return nil, fmt.Errorf("gateway %s already registered", id)
		}
		r.gateways[id] = g
	}
	return r, nil
}

// Get returns the gateway bound to ap. NONE and unknown access points are
// not active.
func (r *Registry) Get(ap domain.AccessPoint) (Gateway, bool) {
	if ap.IsNone() {
		return nil, false
	}
	g, ok := r.gateways[ap]
	return g, ok
}

// Resolve is Get with the routing error callers record as a failure.
func (r *Registry) Resolve(ap domain.AccessPoint) (Gateway, error) {
	if ap.IsNone() {
		return nil, ErrNotRegistered
	}
	g, ok := r.gateways[ap]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ap, ErrNotActive)
	}
	return g, nil
}

// IDs lists the active access points in stable order.
func (r *Registry) IDs() []domain.AccessPoint {
	ids := make([]domain.AccessPoint, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Receivers returns every gateway that polls for inbound documents.
func (r *Registry) Receivers() []Receiver {
	var receivers []Receiver
	for _, id := range r.IDs() {
		if rc, ok := r.gateways[id].(Receiver); ok {
			receivers = append(receivers, rc)
		}
	}
	return receivers
}
