package reachability

import (
	"supravault/internal/engine/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func findingByID(t *testing.T, res Result, id string) model.Finding {
	t.Helper()
	for _, f := range res.Findings {
		if f.ID == id {
			return f
		}
	}
	t.Fatalf("finding %s not present in %+v", id, res.Findings)
	return model.Finding{}
}

func TestMintPresentAndReachable(t *testing.T) {
	res := Analyze(Input{
		Capabilities: model.Capabilities{HasMintCap: true},
		Surfaces:     []ModuleSurface{{ModuleID: "0xa::m", Functions: []string{"transfer", "mint_to"}}},
		Supply:       model.Supply{Current: strPtr("10")},
	})

	f := findingByID(t, res, "MINT_CAP_REACHABLE")
	assert.Equal(t, model.SeverityHigh, f.Severity)
	assert.Equal(t, []string{"0xa::m::mint_to"}, f.Evidence)

	item, ok := res.Invariants.Item("MINT_REACHABLE_WITH_CAP")
	require.True(t, ok)
	assert.Equal(t, model.InvariantOK, item.Status)
	assert.Equal(t, []string{"0xa::m::mint_to"}, res.Privileges.Classes["mint"])
	assert.False(t, res.Privileges.HasOpaqueControl)
}

func TestCapabilityWithoutPublicPath(t *testing.T) {
	res := Analyze(Input{
		Capabilities: model.Capabilities{HasBurnCap: true},
		Surfaces:     []ModuleSurface{{ModuleID: "0xa::m", Functions: []string{"transfer"}}},
	})

	f := findingByID(t, res, "BURN_CAP_NO_PUBLIC_PATH")
	assert.Equal(t, model.SeverityLow, f.Severity)
	assert.Empty(t, f.Evidence)

	item, _ := res.Invariants.Item("BURN_REACHABLE_WITH_CAP")
	assert.Equal(t, model.InvariantWarning, item.Status)
	assert.Equal(t, model.InvariantWarning, res.Invariants.Overall)
}

func TestReachabilityIgnoresOpaqueAndNonRelevant(t *testing.T) {
	res := Analyze(Input{
		Capabilities: model.Capabilities{HasMintCap: true},
		Surfaces: []ModuleSurface{
			{ModuleID: "0xa::m", Functions: []string{"swap"}},
			{ModuleID: "0xa::hidden", Opaque: true},
		},
	})

	findingByID(t, res, "MINT_CAP_NO_PUBLIC_PATH")
	opaque := findingByID(t, res, "OPAQUE_MODULE_SURFACE")
	assert.Equal(t, []string{"0xa::hidden"}, opaque.Evidence)
	assert.True(t, res.Privileges.HasOpaqueControl)

	item, _ := res.Invariants.Item("SURFACE_READABLE")
	assert.Equal(t, model.InvariantWarning, item.Status)
}

func TestOpaqueControlSurface(t *testing.T) {
	res := Analyze(Input{
		Surfaces: []ModuleSurface{{ModuleID: "0xa::*", Opaque: true}, {ModuleID: "0xb::x", Opaque: true}},
		Supply:   model.Supply{Current: strPtr("500")},
	})
	f := findingByID(t, res, "OPAQUE_CONTROL_SURFACE")
	assert.Equal(t, model.SeverityHigh, f.Severity)

	for _, it := range res.Invariants.Items {
		assert.NotEqual(t, model.InvariantViolation, it.Status)
	}
	item, _ := res.Invariants.Item("SURFACE_READABLE")
	assert.Equal(t, model.InvariantUnknown, item.Status)

	zero := Analyze(Input{
		Surfaces: []ModuleSurface{{ModuleID: "0xa::*", Opaque: true}},
		Supply:   model.Supply{Current: strPtr("0")},
	})
	for _, f := range zero.Findings {
		assert.NotEqual(t, "OPAQUE_CONTROL_SURFACE", f.ID, "zero supply does not raise opaque control")
	}
}

func TestSupplyInvariant(t *testing.T) {
	tests := []struct {
		name   string
		supply model.Supply
		want   model.InvariantStatus
	}{
		{"no max", model.Supply{Current: strPtr("10")}, model.InvariantUnknown},
		{"within", model.Supply{Current: strPtr("10"), Max: strPtr("10")}, model.InvariantOK},
		{"exceeds", model.Supply{Current: strPtr("11"), Max: strPtr("10")}, model.InvariantViolation},
		{"no current", model.Supply{Max: strPtr("10")}, model.InvariantUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Analyze(Input{Supply: tt.supply})
			item, _ := res.Invariants.Item("SUPPLY_WITHIN_MAX")
			assert.Equal(t, tt.want, item.Status)
		})
	}
	res := Analyze(Input{Supply: model.Supply{Current: strPtr("11"), Max: strPtr("10")}})
	assert.Equal(t, model.InvariantViolation, res.Invariants.Overall)
}

func TestMintWithoutCapAndHooks(t *testing.T) {
	res := Analyze(Input{
		Surfaces: []ModuleSurface{{ModuleID: "0xa::m", Functions: []string{"mint"}}},
		Hooks:    []model.HookDecl{{Address: "0xA", Module: "m"}, {Address: "0xb", Module: "gone"}},
	})
	item, _ := res.Invariants.Item("NO_MINT_PATH_WITHOUT_CAP")
	assert.Equal(t, model.InvariantWarning, item.Status)

	hooks, _ := res.Invariants.Item("HOOK_MODULES_RESOLVED")
	assert.Equal(t, model.InvariantWarning, hooks.Status)
	assert.Contains(t, hooks.Detail, "0xb::gone")
}

func TestSurfacesFromInventory(t *testing.T) {
	inv := model.ModuleInventory{Entries: []model.ModuleEntry{
		{Address: "0xa", Name: "m", Relevant: true},
		{Address: "0xa", Name: "bytes_only", Relevant: true},
		{Address: "0xb", Relevant: true},
		{Address: "0x1", Name: "coin", Relevant: false},
	}}
	arts := map[string]model.ModuleArtifact{
		"0xa::m": {Name: "m", ABI: []byte(`{}`), Functions: []model.ABIFunction{
			{Name: "mint_to", Visibility: "public"},
			{Name: "helper", Visibility: "private"},
			{Name: "claim", Visibility: "private", IsEntry: true},
		}},
		"0xa::bytes_only": {Name: "bytes_only", Bytecode: []byte{1}},
	}

	got := SurfacesFromInventory(inv, arts)
	require.Len(t, got, 3)
	assert.Equal(t, ModuleSurface{ModuleID: "0xa::m", Functions: []string{"mint_to", "claim"}}, got[0])
	assert.True(t, got[1].Opaque)
	assert.Equal(t, "0xb::*", got[2].ModuleID)
	assert.True(t, got[2].Opaque)
}
