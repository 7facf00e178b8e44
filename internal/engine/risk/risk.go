// Package risk folds a snapshot, an optional diff and optional behavior
// evidence into named signals and a single risk level.
package risk

import (
	"fmt"
	"strings"
	"supravault/internal/engine/diff"
	"supravault/internal/engine/model"
	"supravault/internal/shared/observability"
)

type Input struct {
	Snapshot *model.Snapshot
	Diff     *model.DiffResult
	// Behavior overrides Snapshot.Behavior when set.
	Behavior *model.BehaviorEvidence
}

// signalLevel is the level each signal pushes the verdict to. Signals that
// map to SAFE_STATIC are informational.
var signalLevel = map[model.Signal]model.RiskLevel{
	model.SignalHashPinned:                model.RiskSafeStatic,
	model.SignalHashUnpinned:              model.RiskOpaqueButActive,
	model.SignalHashConflict:              model.RiskElevated,
	model.SignalMultiRPCConflict:          model.RiskElevated,
	model.SignalParityUnknown:             model.RiskSafeStatic,
	model.SignalPhantomEntrypoints:        model.RiskElevated,
	model.SignalOpaqueButActive:           model.RiskOpaqueButActive,
	model.SignalOpaqueSurface:             model.RiskOpaqueButActive,
	model.SignalMintReachable:             model.RiskElevated,
	model.SignalBurnReachable:             model.RiskSafeStatic,
	model.SignalFreezeReachable:           model.RiskElevated,
	model.SignalCapabilityUnreachable:     model.RiskSafeStatic,
	model.SignalInvariantViolation:        model.RiskDangerous,
	model.SignalInvariantWarning:          model.RiskElevated,
	model.SignalInvariantsUnknown:         model.RiskSafeStatic,
	model.SignalSupplyUnexplainedIncrease: model.RiskDangerous,
	model.SignalSupplyExceedsMax:          model.RiskDangerous,
	model.SignalOwnerChanged:              model.RiskElevated,
	model.SignalHooksChanged:              model.RiskElevated,
	model.SignalStealthUpgrade:            model.RiskDangerous,
	model.SignalABISurfaceChanged:         model.RiskElevated,
	model.SignalCoveragePartial:           model.RiskOpaqueButActive,
	model.SignalBehaviorUnavailable:       model.RiskSafeStatic,
	model.SignalBehaviorSampledClean:      model.RiskSafeDynamic,
	model.SignalCriticalChange:            model.RiskDangerous,
}

type probe struct {
	signal model.Signal
	check  func(in Input, b *model.BehaviorEvidence) (string, bool)
}

// probes run in signal vocabulary order.
var probes = []probe{
	{model.SignalHashPinned, hashPinned},
	{model.SignalHashUnpinned, hashUnpinned},
	{model.SignalHashConflict, hashConflict},
	{model.SignalMultiRPCConflict, multiRPCConflict},
	{model.SignalParityUnknown, parityUnknown},
	{model.SignalPhantomEntrypoints, phantomEntrypoints},
	{model.SignalOpaqueButActive, opaqueButActive},
	{model.SignalOpaqueSurface, opaqueSurface},
	{model.SignalMintReachable, findingProbe("MINT_CAP_REACHABLE")},
	{model.SignalBurnReachable, findingProbe("BURN_CAP_REACHABLE")},
	{model.SignalFreezeReachable, findingProbe("FREEZE_CAP_REACHABLE")},
	{model.SignalCapabilityUnreachable, capabilityUnreachable},
	{model.SignalInvariantViolation, invariantProbe(model.InvariantViolation)},
	{model.SignalInvariantWarning, invariantProbe(model.InvariantWarning)},
	{model.SignalInvariantsUnknown, invariantProbe(model.InvariantUnknown)},
	{model.SignalSupplyUnexplainedIncrease, supplyUnexplained},
	{model.SignalSupplyExceedsMax, supplyExceedsMax},
	{model.SignalOwnerChanged, changeProbe(model.ChangeOwner)},
	{model.SignalHooksChanged, changeProbe(model.ChangeHooks)},
	{model.SignalStealthUpgrade, stealthUpgrade},
	{model.SignalABISurfaceChanged, changeProbe(model.ChangeABISurface)},
	{model.SignalCoveragePartial, coveragePartial},
	{model.SignalBehaviorUnavailable, behaviorUnavailable},
	{model.SignalBehaviorSampledClean, behaviorClean},
	{model.SignalCriticalChange, criticalChange},
}

// Signals lists the closed signal vocabulary in emission order.
func Signals() []model.Signal {
	out := make([]model.Signal, len(probes))
	for i, p := range probes {
		out[i] = p.signal
	}
	return out
}

// Synthesize never returns a SAFE level for a snapshot whose surface is
// opaque or whose coverage is partial.
func Synthesize(in Input) model.RiskSynthesis {
	out := model.RiskSynthesis{Signals: []model.Signal{}, RiskLevel: model.RiskSafeStatic, Rationale: []string{}}
	if in.Snapshot == nil {
		return out
	}
	b := in.Behavior
	if b == nil {
		b = in.Snapshot.Behavior
	}
	for _, p := range probes {
		why, ok := p.check(in, b)
		if !ok {
			continue
		}
		out.Signals = append(out.Signals, p.signal)
		out.Rationale = append(out.Rationale, string(p.signal)+": "+why)
		if lvl := signalLevel[p.signal]; lvl.Rank() > out.RiskLevel.Rank() {
			out.RiskLevel = lvl
		}
	}
	if out.RiskLevel.Rank() < model.RiskOpaqueButActive.Rank() && (in.Snapshot.Privileges.HasOpaqueControl || in.Snapshot.Coverage.Status == model.CoveragePartial) {
		out.RiskLevel = model.RiskOpaqueButActive
	}
	observability.RiskVerdictsTotal.WithLabelValues(string(out.RiskLevel)).Inc()
	return out
}

func hashPinned(in Input, _ *model.BehaviorEvidence) (string, bool) {
	pins := in.Snapshot.Hashes.Pins
	if len(pins) == 0 {
		return "", false
	}
	for _, p := range pins {
		if p.CodeHash == nil {
			return "", false
		}
	}
	return fmt.Sprintf("all %d module(s) pinned, aggregate %s", len(pins), in.Snapshot.Hashes.Aggregate), true
}

func hashUnpinned(in Input, _ *model.BehaviorEvidence) (string, bool) {
	var missing []string
	for _, p := range in.Snapshot.Hashes.Pins {
		if p.CodeHash == nil {
			missing = append(missing, p.ModuleID)
		}
	}
	if len(missing) == 0 {
		return "", false
	}
	return "no code hash for " + strings.Join(missing, ", "), true
}

func hashConflict(in Input, _ *model.BehaviorEvidence) (string, bool) {
	if in.Diff == nil {
		return "", false
	}
	c, ok := in.Diff.Find(model.ChangeAggregateHash)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("aggregate hash %v -> %v", c.Before, c.After), true
}

func multiRPCConflict(in Input, _ *model.BehaviorEvidence) (string, bool) {
	var ids []string
	for _, p := range in.Snapshot.Evidence.Parity {
		if p.Status == model.ParityMismatch {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	return "sources disagree on " + strings.Join(ids, ", "), true
}

func parityUnknown(in Input, _ *model.BehaviorEvidence) (string, bool) {
	if len(in.Snapshot.Evidence.Parity) == 0 || in.Snapshot.Evidence.AllUnknown() {
		return "no independent source corroborated the rpc facts", true
	}
	return "", false
}

func phantomEntrypoints(_ Input, b *model.BehaviorEvidence) (string, bool) {
	if b == nil || len(b.PhantomEntries) == 0 {
		return "", false
	}
	ids := make([]string, 0, len(b.PhantomEntries))
	for _, p := range b.PhantomEntries {
		ids = append(ids, p.FunctionID)
	}
	return "invoked but not pinned: " + strings.Join(ids, ", "), true
}

func opaqueButActive(_ Input, b *model.BehaviorEvidence) (string, bool) {
	if b == nil || !b.OpaqueActive {
		return "", false
	}
	return fmt.Sprintf("%d invoked entr(ies) against an unreadable surface", len(b.InvokedEntries)), true
}

func opaqueSurface(in Input, _ *model.BehaviorEvidence) (string, bool) {
	cs := in.Snapshot.ControlSurface
	if len(cs.Opaque) == 0 && !in.Snapshot.Privileges.HasOpaqueControl {
		return "", false
	}
	if len(cs.Opaque) == 0 {
		return "control surface could not be read", true
	}
	return "opaque modules: " + strings.Join(cs.Opaque, ", "), true
}

func findingProbe(id string) func(Input, *model.BehaviorEvidence) (string, bool) {
	return func(in Input, _ *model.BehaviorEvidence) (string, bool) {
		for _, f := range in.Snapshot.Findings {
			if f.ID == id {
				return "reachable via " + strings.Join(f.Evidence, ", "), true
			}
		}
		return "", false
	}
}

func capabilityUnreachable(in Input, _ *model.BehaviorEvidence) (string, bool) {
	var ids []string
	for _, f := range in.Snapshot.Findings {
		if strings.HasSuffix(f.ID, "_CAP_NO_PUBLIC_PATH") {
			ids = append(ids, strings.TrimSuffix(f.ID, "_CAP_NO_PUBLIC_PATH"))
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	return "held without an exposed path: " + strings.Join(ids, ", "), true
}

func invariantProbe(status model.InvariantStatus) func(Input, *model.BehaviorEvidence) (string, bool) {
	return func(in Input, _ *model.BehaviorEvidence) (string, bool) {
		inv := in.Snapshot.Invariants
		if inv.Overall != status {
			return "", false
		}
		var ids []string
		for _, it := range inv.Items {
			if it.Status == status {
				ids = append(ids, it.ID)
			}
		}
		if len(ids) == 0 {
			return "overall " + string(status), true
		}
		return string(status) + ": " + strings.Join(ids, ", "), true
	}
}

func supplyUnexplained(in Input, _ *model.BehaviorEvidence) (string, bool) {
	if in.Diff == nil || in.Snapshot.Capabilities.HasMintCap {
		return "", false
	}
	c, ok := in.Diff.Find(model.ChangeSupply)
	if !ok || !hasEvidence(c, "direction=increase") {
		return "", false
	}
	return fmt.Sprintf("supply %v -> %v without a mint capability", c.Before, c.After), true
}

func supplyExceedsMax(in Input, _ *model.BehaviorEvidence) (string, bool) {
	s := in.Snapshot.Supply
	if !diff.SupplyExceedsMax(s) {
		return "", false
	}
	return fmt.Sprintf("supply %s above max %s", *s.Current, *s.Max), true
}

func changeProbe(t model.ChangeType) func(Input, *model.BehaviorEvidence) (string, bool) {
	return func(in Input, _ *model.BehaviorEvidence) (string, bool) {
		if in.Diff == nil {
			return "", false
		}
		c, ok := in.Diff.Find(t)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%s at %s", t, c.Severity), true
	}
}

func stealthUpgrade(in Input, _ *model.BehaviorEvidence) (string, bool) {
	if in.Diff == nil {
		return "", false
	}
	var modules []string
	for _, c := range in.Diff.Changes {
		if c.Type == model.ChangeModuleCode && c.Severity.Rank() >= model.ChangeHigh.Rank() {
			for _, e := range c.Evidence {
				if m, ok := strings.CutPrefix(e, "module="); ok {
					modules = append(modules, m)
				}
			}
		}
	}
	if len(modules) == 0 {
		return "", false
	}
	return "code changed for " + strings.Join(modules, ", "), true
}

func coveragePartial(in Input, _ *model.BehaviorEvidence) (string, bool) {
	cov := in.Snapshot.Coverage
	if cov.Status != model.CoveragePartial {
		return "", false
	}
	if len(cov.Reasons) == 0 {
		return "inventory incomplete", true
	}
	return strings.Join(cov.Reasons, "; "), true
}

func behaviorUnavailable(_ Input, b *model.BehaviorEvidence) (string, bool) {
	if b == nil {
		return "", false
	}
	switch b.Status {
	case model.BehaviorUnavailable, model.BehaviorError:
		return "behavior status " + string(b.Status), true
	}
	return "", false
}

func behaviorClean(_ Input, b *model.BehaviorEvidence) (string, bool) {
	if b == nil || b.Status != model.BehaviorSampled || len(b.PhantomEntries) > 0 || b.OpaqueActive {
		return "", false
	}
	return fmt.Sprintf("%d transaction(s) from %s matched the pinned surface", b.TxCount, b.Source), true
}

func criticalChange(in Input, _ *model.BehaviorEvidence) (string, bool) {
	if in.Diff == nil || in.Diff.MaxSeverity != model.ChangeCritical {
		return "", false
	}
	var types []string
	for _, c := range in.Diff.Changes {
		if c.Severity == model.ChangeCritical {
			types = append(types, string(c.Type))
		}
	}
	return "critical: " + strings.Join(types, ", "), true
}

func hasEvidence(c model.ChangeItem, want string) bool {
	for _, e := range c.Evidence {
		if e == want {
			return true
		}
	}
	return false
}
