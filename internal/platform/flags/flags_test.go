package flags

import (
	"context"
	"testing"

	"github.com/planvault/api/internal/platform/config"
)

func TestGateMasterSwitchShadowsFeatures(t *testing.T) {
	gate := NewGate(config.FeatureFlags{
		MasterEnabled:    false,
		EnablePurchasing: true,
		EnableDelivery:   true,
	})

	if gate.Enabled(context.Background(), KeyPurchasing) {
		t.Fatal("expected master off to disable purchasing")
	}

	gate.SetMaster(true)
	if !gate.Enabled(context.Background(), KeyPurchasing) {
		t.Fatal("expected purchasing enabled once master is on")
	}
}

func TestGateFeatureToggle(t *testing.T) {
	gate := NewGate(config.FeatureFlags{MasterEnabled: true, EnablePurchasing: true})

	if !gate.Enabled(context.Background(), KeyPurchasing) {
		t.Fatal("expected purchasing enabled")
	}
	gate.Set(KeyPurchasing, false)
	if gate.Enabled(context.Background(), KeyPurchasing) {
		t.Fatal("expected purchasing disabled after override")
	}
}

func TestGateUnknownKeyDisabled(t *testing.T) {
	gate := NewGate(config.FeatureFlags{MasterEnabled: true})
	if gate.Enabled(context.Background(), "unknown.feature") {
		t.Fatal("expected unknown key to read disabled")
	}
}
