package diff

import (
	"strings"
	"supravault/internal/engine/classify"
	"supravault/internal/engine/model"
)

type escalation struct {
	severity model.ChangeSeverity
	reason   string
}

type rule func(prev, cur *model.Snapshot, c model.ChangeItem, all []model.ChangeItem) (escalation, bool)

var rules = map[model.ChangeType]rule{
	model.ChangeSupply:       supplyRule,
	model.ChangeABISurface:   abiRule,
	model.ChangeOwner:        ownerRule,
	model.ChangeModuleCode:   moduleCodeRule,
	model.ChangeInvariants:   invariantsRule,
	model.ChangeCapabilities: capabilitiesRule,
	model.ChangeFindings:     findingsRule,
	model.ChangePrivileges:   privilegesRule,
}

// Escalate raises change severities using context from both snapshots.
// A severity is never lowered, so running it again is a no-op.
func Escalate(prev, cur *model.Snapshot, changes []model.ChangeItem) []model.ChangeItem {
	if prev == nil || cur == nil || len(changes) == 0 {
		return changes
	}
	out := make([]model.ChangeItem, len(changes))
	copy(out, changes)
	for i, c := range out {
		r, ok := rules[c.Type]
		if !ok {
			continue
		}
		esc, ok := r(prev, cur, c, changes)
		if !ok {
			continue
		}
		raised := model.MaxSeverity(c.Severity, esc.severity)
		if raised.Rank() > c.Severity.Rank() {
			out[i].Severity = raised
			out[i].Escalated = true
			out[i].EscalationReason = esc.reason
		}
	}
	return out
}

func supplyRule(prev, cur *model.Snapshot, _ model.ChangeItem, _ []model.ChangeItem) (escalation, bool) {
	if SupplyDirection(prev.Supply, cur.Supply) != "increase" {
		return escalation{}, false
	}
	if SupplyExceedsMax(cur.Supply) {
		return escalation{model.ChangeCritical, "supply exceeds declared max supply"}, true
	}
	if !cur.Capabilities.HasMintCap && !prev.Capabilities.HasMintCap {
		return escalation{model.ChangeHigh, "supply increased without an observed mint capability"}, true
	}
	return escalation{model.ChangeMedium, "supply increase backed by mint capability"}, true
}

// SupplyExceedsMax reports a parseable current supply above a parseable max.
func SupplyExceedsMax(s model.Supply) bool {
	cur, okC := model.ParseAmount(s.Current)
	ceiling, okM := model.ParseAmount(s.Max)
	return okC && okM && cur.Cmp(ceiling) > 0
}

func abiRule(_, _ *model.Snapshot, c model.ChangeItem, _ []model.ChangeItem) (escalation, bool) {
	for _, fn := range taggedValues(c.Evidence, "added:") {
		if classify.IsMintLike(fn) {
			return escalation{model.ChangeCritical, "mint-like function added: " + fn}, true
		}
	}
	return escalation{model.ChangeHigh, "exposed function surface changed"}, true
}

func ownerRule(_, _ *model.Snapshot, _ model.ChangeItem, all []model.ChangeItem) (escalation, bool) {
	for _, other := range all {
		if other.Type == model.ChangeHooks {
			return escalation{model.ChangeCritical, "owner changed together with dispatch hooks"}, true
		}
	}
	return escalation{model.ChangeHigh, "owner changed"}, true
}

func moduleCodeRule(_, cur *model.Snapshot, c model.ChangeItem, _ []model.ChangeItem) (escalation, bool) {
	role := strings.Join(taggedValues(c.Evidence, "role="), "")
	module := strings.Join(taggedValues(c.Evidence, "module="), "")
	if role == model.RoleHook || role == model.RoleDefining || isHookModule(cur, module) {
		return escalation{model.ChangeHigh, "stealth upgrade of " + module}, true
	}
	return escalation{}, false
}

func isHookModule(s *model.Snapshot, moduleID string) bool {
	for _, h := range s.ControlSurface.Hooks {
		if model.CanonicalModuleID(h.Address, h.Module) == moduleID {
			return true
		}
	}
	return false
}

func invariantsRule(prev, cur *model.Snapshot, _ model.ChangeItem, _ []model.ChangeItem) (escalation, bool) {
	if cur.Invariants.Overall == model.InvariantViolation && prev.Invariants.Overall != model.InvariantViolation {
		return escalation{model.ChangeCritical, "invariants now in violation"}, true
	}
	worsened := false
	for _, it := range cur.Invariants.Items {
		old, _ := prev.Invariants.Item(it.ID)
		if it.Status == model.InvariantViolation && old.Status != model.InvariantViolation {
			return escalation{model.ChangeCritical, "new violation: " + it.ID}, true
		}
		if it.Status.Rank() >= model.InvariantWarning.Rank() && it.Status.Rank() > old.Status.Rank() {
			worsened = true
		}
	}
	if worsened {
		return escalation{model.ChangeHigh, "invariant escalated to warning"}, true
	}
	return escalation{model.ChangeMedium, "invariant status changed"}, true
}

func capabilitiesRule(prev, cur *model.Snapshot, _ model.ChangeItem, _ []model.ChangeItem) (escalation, bool) {
	switch {
	case cur.Capabilities.HasMintCap && !prev.Capabilities.HasMintCap:
		return escalation{model.ChangeHigh, "mint capability gained"}, true
	case cur.Capabilities.HasFreezeCap && !prev.Capabilities.HasFreezeCap:
		return escalation{model.ChangeHigh, "freeze capability gained"}, true
	}
	return escalation{}, false
}

func findingsRule(_, _ *model.Snapshot, c model.ChangeItem, _ []model.ChangeItem) (escalation, bool) {
	for _, key := range taggedValues(c.Evidence, "added:") {
		if strings.HasSuffix(key, "/"+string(model.SeverityHigh)) {
			return escalation{model.ChangeHigh, "new HIGH finding " + strings.TrimSuffix(key, "/"+string(model.SeverityHigh))}, true
		}
	}
	return escalation{}, false
}

var sensitiveClasses = []classify.Category{classify.Mint, classify.Admin, classify.Upgrade}

func privilegesRule(_, _ *model.Snapshot, c model.ChangeItem, _ []model.ChangeItem) (escalation, bool) {
	for _, key := range taggedValues(c.Evidence, "added:") {
		for _, class := range sensitiveClasses {
			if strings.HasPrefix(key, string(class)+":") {
				return escalation{model.ChangeHigh, "privileged function added: " + key}, true
			}
		}
	}
	return escalation{}, false
}
