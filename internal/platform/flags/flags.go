// Package flags adapts static configuration into runtime feature gates.
package flags

import (
	"context"
	"strings"
	"sync"

	"github.com/planvault/api/internal/platform/config"
)

// Feature keys answered by the config-backed gate.
const (
	KeyPurchasing = "checkout.purchasing"
	KeyDelivery   = "delivery.notices"
)

// Gate answers feature lookups from a config snapshot. The master switch is
// applied before any feature key, so flipping it off disables every gated
// surface at once. Unknown keys read as disabled.
type Gate struct {
	mu       sync.RWMutex
	master   bool
	features map[string]bool
}

// NewGate builds a Gate from the loaded feature flags.
func NewGate(cfg config.FeatureFlags) *Gate {
	return &Gate{
		master: cfg.MasterEnabled,
		features: map[string]bool{
			KeyPurchasing: cfg.EnablePurchasing,
			KeyDelivery:   cfg.EnableDelivery,
		},
	}
}

// Enabled reports whether the feature is live.
func (g *Gate) Enabled(_ context.Context, key string) bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.master {
		return false
	}
	return g.features[strings.TrimSpace(key)]
}

// Set overrides a single feature at runtime. Used by operational tooling and tests.
func (g *Gate) Set(key string, enabled bool) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.features[strings.TrimSpace(key)] = enabled
}

// SetMaster flips the master switch at runtime.
func (g *Gate) SetMaster(enabled bool) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.master = enabled
}
