package diff

import (
	"supravault/internal/core/errors"
	"supravault/internal/engine/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func baseSnapshot(scanID, supply string) *model.Snapshot {
	hash := "aa"
	return &model.Snapshot{
		Meta:     model.Meta{SchemaVersion: model.SnapshotSchemaVersion, ScanID: scanID},
		Identity: model.Identity{Kind: model.KindFA, AssetID: "0xa11ce", Symbol: "TKN"},
		Supply:   model.Supply{Current: strPtr(supply)},
		ControlSurface: model.ControlSurface{
			Owner:     "0xb0b",
			Functions: map[string][]string{"0xa11ce::token": {"transfer"}},
		},
		Coverage: model.Coverage{Status: model.CoverageComplete},
		Findings: []model.Finding{},
		Hashes: model.Hashes{
			Pins:      []model.ModulePin{{Address: "0xa11ce", Name: "token", ModuleID: "0xa11ce::token", CodeHash: &hash, HashBasis: model.BasisBytecode, Role: model.RoleDefining}},
			Aggregate: "agg",
		},
		Privileges: model.PrivilegeReport{Classes: map[string][]string{}},
		Invariants: model.InvariantReport{
			Items:   []model.InvariantItem{{ID: "SUPPLY_WITHIN_MAX", Status: model.InvariantUnknown}},
			Overall: model.InvariantUnknown,
		},
	}
}

func TestCompareSelfHasNoChanges(t *testing.T) {
	s := baseSnapshot("a", "1000")
	res, err := Compare(s, s)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Changes)
}

func TestCompareWithoutPrevious(t *testing.T) {
	res, err := Compare(nil, baseSnapshot("a", "1000"))
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.NotNil(t, res.Changes)
	assert.Empty(t, res.Changes)
	assert.Equal(t, "a", res.CurrentScanID)
}

func TestCompareRejectsDifferentAssets(t *testing.T) {
	prev := baseSnapshot("a", "1000")
	cur := baseSnapshot("b", "1000")
	cur.Identity.AssetID = "0xdead"
	_, err := Compare(prev, cur)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestCompareCanonicalizesOwner(t *testing.T) {
	prev := baseSnapshot("a", "1000")
	cur := baseSnapshot("b", "1000.0")
	cur.ControlSurface.Owner = "0x0B0B"
	res, err := Compare(prev, cur)
	require.NoError(t, err)
	assert.False(t, res.Changed, "%+v", res.Changes)
}

func TestUnexplainedSupplyIncrease(t *testing.T) {
	res, err := Run(baseSnapshot("a", "1000"), baseSnapshot("b", "1500"))
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Len(t, res.Changes, 1)

	c := res.Changes[0]
	assert.Equal(t, model.ChangeSupply, c.Type)
	assert.Equal(t, model.ChangeHigh, c.Severity)
	assert.True(t, c.Escalated)
	assert.Equal(t, "1000", c.Before)
	assert.Equal(t, "1500", c.After)
	assert.Contains(t, c.Evidence, "direction=increase")
	assert.Contains(t, c.Evidence, "delta=500")
	assert.Equal(t, model.ChangeHigh, res.MaxSeverity)
}

func TestSupplyEscalation(t *testing.T) {
	t.Run("above max is critical", func(t *testing.T) {
		prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "1500")
		cur.Supply.Max = strPtr("1200")
		prev.Supply.Max = strPtr("1200")
		res, err := Run(prev, cur)
		require.NoError(t, err)
		c, ok := res.Find(model.ChangeSupply)
		require.True(t, ok)
		assert.Equal(t, model.ChangeCritical, c.Severity)
	})
	t.Run("mint backed stays medium", func(t *testing.T) {
		prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "1500")
		prev.Capabilities.HasMintCap = true
		cur.Capabilities.HasMintCap = true
		res, err := Run(prev, cur)
		require.NoError(t, err)
		c, ok := res.Find(model.ChangeSupply)
		require.True(t, ok)
		assert.Equal(t, model.ChangeMedium, c.Severity)
		assert.False(t, c.Escalated)
	})
	t.Run("decrease is info", func(t *testing.T) {
		res, err := Run(baseSnapshot("a", "1000"), baseSnapshot("b", "900"))
		require.NoError(t, err)
		c, ok := res.Find(model.ChangeSupply)
		require.True(t, ok)
		assert.Equal(t, model.ChangeInfo, c.Severity)
	})
}

func TestOwnerWithHooksIsCritical(t *testing.T) {
	prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "1000")
	cur.ControlSurface.Owner = "0xe5"
	cur.ControlSurface.Hooks = []model.HookDecl{{Kind: "withdraw", Address: "0xe5", Module: "hook", Function: "withdraw"}}

	res, err := Run(prev, cur)
	require.NoError(t, err)
	owner, ok := res.Find(model.ChangeOwner)
	require.True(t, ok)
	assert.Equal(t, model.ChangeCritical, owner.Severity)
	assert.True(t, res.Has(model.ChangeHooks))
	assert.Equal(t, model.ChangeCritical, res.MaxSeverity)
}

func TestABISurfaceMintAddedIsCritical(t *testing.T) {
	prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "1000")
	cur.ControlSurface.Functions["0xa11ce::token"] = []string{"transfer", "mint_more"}

	res, err := Run(prev, cur)
	require.NoError(t, err)
	c, ok := res.Find(model.ChangeABISurface)
	require.True(t, ok)
	assert.Equal(t, model.ChangeCritical, c.Severity)
	assert.Contains(t, c.Evidence, "added:mint_more")
}

func TestStealthUpgradeOfDefiningModule(t *testing.T) {
	prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "1000")
	other := "bb"
	cur.Hashes.Pins[0].CodeHash = &other
	cur.Hashes.Aggregate = "agg2"

	res, err := Run(prev, cur)
	require.NoError(t, err)
	c, ok := res.Find(model.ChangeModuleCode)
	require.True(t, ok)
	assert.Equal(t, model.ChangeHigh, c.Severity)
	assert.Contains(t, c.EscalationReason, "0xa11ce::token")

	agg, ok := res.Find(model.ChangeAggregateHash)
	require.True(t, ok)
	assert.Equal(t, model.ChangeInfo, agg.Severity)
}

func TestModulesAddedAndRemoved(t *testing.T) {
	prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "1000")
	cur.Hashes.Pins = []model.ModulePin{{Address: "0xc0", Name: "hook", ModuleID: "0xc0::hook", HashBasis: model.BasisNone, Role: model.RoleHook}}

	res, err := Compare(prev, cur)
	require.NoError(t, err)
	added, ok := res.Find(model.ChangeModuleAdded)
	require.True(t, ok)
	assert.Equal(t, "0xc0::hook", added.After)
	removed, ok := res.Find(model.ChangeModuleRemoved)
	require.True(t, ok)
	assert.Equal(t, "0xa11ce::token", removed.Before)
	assert.Equal(t, model.ChangeLow, removed.Severity)
}

func TestInvariantViolationIsCritical(t *testing.T) {
	prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "1000")
	cur.Invariants = model.InvariantReport{
		Items:   []model.InvariantItem{{ID: "SUPPLY_WITHIN_MAX", Status: model.InvariantViolation}},
		Overall: model.InvariantViolation,
	}
	res, err := Run(prev, cur)
	require.NoError(t, err)
	c, ok := res.Find(model.ChangeInvariants)
	require.True(t, ok)
	assert.Equal(t, model.ChangeCritical, c.Severity)
	assert.Contains(t, c.Evidence, "SUPPLY_WITHIN_MAX:unknown->violation")
}

func TestInvariantEscalationLevels(t *testing.T) {
	report := func(overall model.InvariantStatus, items ...model.InvariantItem) model.InvariantReport {
		return model.InvariantReport{Items: items, Overall: overall}
	}
	supply := func(s model.InvariantStatus) model.InvariantItem {
		return model.InvariantItem{ID: "SUPPLY_WITHIN_MAX", Status: s}
	}
	hooks := func(s model.InvariantStatus) model.InvariantItem {
		return model.InvariantItem{ID: "HOOK_MODULES_RESOLVED", Status: s}
	}

	tests := []struct {
		name      string
		prev, cur model.InvariantReport
		want      model.ChangeSeverity
	}{
		{
			name: "ok to warning is high",
			prev: report(model.InvariantOK, supply(model.InvariantOK), hooks(model.InvariantOK)),
			cur:  report(model.InvariantWarning, supply(model.InvariantOK), hooks(model.InvariantWarning)),
			want: model.ChangeHigh,
		},
		{
			name: "warning to ok stays medium",
			prev: report(model.InvariantWarning, supply(model.InvariantOK), hooks(model.InvariantWarning)),
			cur:  report(model.InvariantOK, supply(model.InvariantOK), hooks(model.InvariantOK)),
			want: model.ChangeMedium,
		},
		{
			name: "improvement beside a standing violation stays medium",
			prev: report(model.InvariantViolation, supply(model.InvariantViolation), hooks(model.InvariantWarning)),
			cur:  report(model.InvariantViolation, supply(model.InvariantViolation), hooks(model.InvariantOK)),
			want: model.ChangeMedium,
		},
		{
			name: "new violation beside a standing one is critical",
			prev: report(model.InvariantViolation, supply(model.InvariantViolation), hooks(model.InvariantWarning)),
			cur:  report(model.InvariantViolation, supply(model.InvariantViolation), hooks(model.InvariantViolation)),
			want: model.ChangeCritical,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "1000")
			prev.Invariants, cur.Invariants = tt.prev, tt.cur
			res, err := Run(prev, cur)
			require.NoError(t, err)
			c, ok := res.Find(model.ChangeInvariants)
			require.True(t, ok)
			assert.Equal(t, tt.want, c.Severity, c.EscalationReason)
		})
	}
}

func TestChangesFollowVocabularyOrder(t *testing.T) {
	prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "2000")
	cur.ControlSurface.Owner = "0xe5"
	cur.Identity.Symbol = "TKN2"
	cur.Coverage = model.Coverage{Status: model.CoveragePartial, Reasons: []string{"listing failed"}}
	cur.ControlSurface.Opaque = []string{"0xc0::*"}

	res, err := Run(prev, cur)
	require.NoError(t, err)

	order := make(map[model.ChangeType]int)
	for i, ct := range model.ChangeTypes {
		order[ct] = i
	}
	for i := 1; i < len(res.Changes); i++ {
		assert.LessOrEqual(t, order[res.Changes[i-1].Type], order[res.Changes[i].Type])
	}
	assert.True(t, res.Has(model.ChangeMetadata))
	assert.True(t, res.Has(model.ChangeCoverage))
	assert.True(t, res.Has(model.ChangeOpaqueSurface))
}

func TestEscalationIsMonotonicAndIdempotent(t *testing.T) {
	prev, cur := baseSnapshot("a", "1000"), baseSnapshot("b", "1500")
	cur.ControlSurface.Owner = "0xe5"
	res, err := Compare(prev, cur)
	require.NoError(t, err)

	once := Escalate(prev, cur, res.Changes)
	twice := Escalate(prev, cur, once)
	assert.Equal(t, once, twice)
	for i := range res.Changes {
		assert.GreaterOrEqual(t, once[i].Severity.Rank(), res.Changes[i].Severity.Rank())
	}

	pinned := []model.ChangeItem{{Type: model.ChangeSupply, Severity: model.ChangeCritical, Evidence: []string{}}}
	out := Escalate(prev, cur, pinned)
	assert.Equal(t, model.ChangeCritical, out[0].Severity)
	assert.False(t, out[0].Escalated)
}

func TestEscalateWithoutPreviousIsNoop(t *testing.T) {
	changes := []model.ChangeItem{{Type: model.ChangeSupply, Severity: model.ChangeMedium}}
	assert.Equal(t, changes, Escalate(nil, baseSnapshot("b", "1"), changes))
}
