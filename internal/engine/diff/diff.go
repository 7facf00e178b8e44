// Package diff compares two snapshots of the same asset and ranks what
// changed. Detection assigns a default severity; Escalate may only raise it.
package diff

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"supravault/internal/core/errors"
	"supravault/internal/engine/model"
	"supravault/internal/shared/observability"
)

type detector func(prev, cur *model.Snapshot) []model.ChangeItem

// detectors run in vocabulary order so the emitted change list is stable.
var detectors = []detector{
	detectSupply,
	detectMaxSupply,
	detectOwner,
	detectAdmin,
	detectCapabilities,
	detectHooks,
	detectRefHolders,
	detectMetadata,
	detectModuleCode,
	detectModulesAdded,
	detectModulesRemoved,
	detectABISurface,
	detectAggregate,
	detectCoverage,
	detectFindings,
	detectPrivileges,
	detectInvariants,
	detectOpaqueSurface,
}

// Compare detects changes from prev to cur. With no previous snapshot there
// is nothing to compare against and the result is unchanged.
func Compare(prev, cur *model.Snapshot) (model.DiffResult, error) {
	if cur == nil {
		return model.DiffResult{}, errors.New(errors.CodeValidationError, "current snapshot is required")
	}
	res := model.DiffResult{
		IdentityKey:   cur.Identity.Key(),
		CurrentScanID: cur.Meta.ScanID,
		Changes:       []model.ChangeItem{},
	}
	if prev == nil {
		return res, nil
	}
	if prev.Identity.Key() != cur.Identity.Key() {
		return model.DiffResult{}, errors.Newf(errors.CodeValidationError, "snapshots describe different assets: %s vs %s", prev.Identity.Key(), cur.Identity.Key())
	}
	res.PreviousScanID = prev.Meta.ScanID
	for _, d := range detectors {
		res.Changes = append(res.Changes, d(prev, cur)...)
	}
	res.Changed = len(res.Changes) > 0
	res.MaxSeverity = maxSeverity(res.Changes)
	return res, nil
}

// Run compares and escalates in one step.
func Run(prev, cur *model.Snapshot) (model.DiffResult, error) {
	res, err := Compare(prev, cur)
	if err != nil {
		return res, err
	}
	res.Changes = Escalate(prev, cur, res.Changes)
	res.MaxSeverity = maxSeverity(res.Changes)
	for _, c := range res.Changes {
		observability.DiffChangesTotal.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
	}
	return res, nil
}

func maxSeverity(changes []model.ChangeItem) model.ChangeSeverity {
	if len(changes) == 0 {
		return ""
	}
	out := model.ChangeInfo
	for _, c := range changes {
		out = model.MaxSeverity(out, c.Severity)
	}
	return out
}

func change(t model.ChangeType, sev model.ChangeSeverity, before, after any, evidence ...string) []model.ChangeItem {
	if evidence == nil {
		evidence = []string{}
	}
	return []model.ChangeItem{{Type: t, Severity: sev, Before: before, After: after, Evidence: evidence}}
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// SupplyDirection reports "increase", "decrease", "same" or "unknown".
func SupplyDirection(prev, cur model.Supply) string {
	a, okA := model.ParseAmount(prev.Current)
	b, okB := model.ParseAmount(cur.Current)
	if !okA || !okB {
		if reflect.DeepEqual(prev.Current, cur.Current) {
			return "same"
		}
		return "unknown"
	}
	switch b.Cmp(a) {
	case 1:
		return "increase"
	case -1:
		return "decrease"
	default:
		return "same"
	}
}

func detectSupply(prev, cur *model.Snapshot) []model.ChangeItem {
	dir := SupplyDirection(prev.Supply, cur.Supply)
	sev := model.ChangeMedium
	switch dir {
	case "same":
		return nil
	case "decrease":
		sev = model.ChangeInfo
	}
	evidence := []string{"direction=" + dir}
	a, okA := model.ParseAmount(prev.Supply.Current)
	b, okB := model.ParseAmount(cur.Supply.Current)
	if okA && okB {
		delta := b.Sub(b, a)
		evidence = append(evidence, "delta="+delta.RatString())
	}
	return change(model.ChangeSupply, sev, strOrNil(prev.Supply.Current), strOrNil(cur.Supply.Current), evidence...)
}

func detectMaxSupply(prev, cur *model.Snapshot) []model.ChangeItem {
	a, okA := model.ParseAmount(prev.Supply.Max)
	b, okB := model.ParseAmount(cur.Supply.Max)
	if okA && okB && a.Cmp(b) == 0 {
		return nil
	}
	if !okA && !okB && reflect.DeepEqual(prev.Supply.Max, cur.Supply.Max) {
		return nil
	}
	return change(model.ChangeMaxSupply, model.ChangeHigh, strOrNil(prev.Supply.Max), strOrNil(cur.Supply.Max))
}

func sameAddress(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	return model.CanonicalAddress(a) == model.CanonicalAddress(b)
}

func detectOwner(prev, cur *model.Snapshot) []model.ChangeItem {
	if sameAddress(prev.ControlSurface.Owner, cur.ControlSurface.Owner) {
		return nil
	}
	return change(model.ChangeOwner, model.ChangeHigh, prev.ControlSurface.Owner, cur.ControlSurface.Owner)
}

func detectAdmin(prev, cur *model.Snapshot) []model.ChangeItem {
	if sameAddress(prev.ControlSurface.Admin, cur.ControlSurface.Admin) {
		return nil
	}
	return change(model.ChangeAdmin, model.ChangeHigh, prev.ControlSurface.Admin, cur.ControlSurface.Admin)
}

func capabilityFlags(c model.Capabilities) map[string]bool {
	return map[string]bool{
		"has_mint_cap":       c.HasMintCap,
		"has_burn_cap":       c.HasBurnCap,
		"has_freeze_cap":     c.HasFreezeCap,
		"has_transfer_ref":   c.HasTransferRef,
		"has_metadata_ref":   c.HasMetadataRef,
		"has_dispatch_hooks": c.HasDispatchHooks,
	}
}

func detectCapabilities(prev, cur *model.Snapshot) []model.ChangeItem {
	if prev.Capabilities == cur.Capabilities {
		return nil
	}
	before, after := capabilityFlags(prev.Capabilities), capabilityFlags(cur.Capabilities)
	var evidence []string
	for _, k := range sortedKeys(before) {
		if before[k] != after[k] {
			evidence = append(evidence, fmt.Sprintf("%s:%v->%v", k, before[k], after[k]))
		}
	}
	return change(model.ChangeCapabilities, model.ChangeMedium, prev.Capabilities, cur.Capabilities, evidence...)
}

func hookKeys(hooks []model.HookDecl) []string {
	out := make([]string, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, fmt.Sprintf("%s:%s::%s", h.Kind, model.CanonicalModuleID(h.Address, h.Module), h.Function))
	}
	sort.Strings(out)
	return out
}

func detectHooks(prev, cur *model.Snapshot) []model.ChangeItem {
	a, b := hookKeys(prev.ControlSurface.Hooks), hookKeys(cur.ControlSurface.Hooks)
	added, removed := setDiff(a, b)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return change(model.ChangeHooks, model.ChangeHigh, a, b, tagged(added, removed)...)
}

func canonicalSet(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.CanonicalAddress(a))
	}
	sort.Strings(out)
	return out
}

func detectRefHolders(prev, cur *model.Snapshot) []model.ChangeItem {
	a, b := canonicalSet(prev.ControlSurface.RefHolders), canonicalSet(cur.ControlSurface.RefHolders)
	added, removed := setDiff(a, b)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	return change(model.ChangeRefHolders, model.ChangeMedium, a, b, tagged(added, removed)...)
}

func detectMetadata(prev, cur *model.Snapshot) []model.ChangeItem {
	p, c := prev.Identity, cur.Identity
	var evidence []string
	check := func(field, a, b string) {
		if a != b {
			evidence = append(evidence, fmt.Sprintf("%s:%q->%q", field, a, b))
		}
	}
	check("name", p.Name, c.Name)
	check("symbol", p.Symbol, c.Symbol)
	check("icon_uri", p.IconURI, c.IconURI)
	check("project_uri", p.ProjectURI, c.ProjectURI)
	if !reflect.DeepEqual(p.Decimals, c.Decimals) {
		evidence = append(evidence, fmt.Sprintf("decimals:%s->%s", intText(p.Decimals), intText(c.Decimals)))
	}
	if len(evidence) == 0 {
		return nil
	}
	return change(model.ChangeMetadata, model.ChangeLow, p, c, evidence...)
}

func intText(v *int) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprint(*v)
}

func detectModuleCode(prev, cur *model.Snapshot) []model.ChangeItem {
	var out []model.ChangeItem
	for _, pin := range cur.Hashes.Pins {
		old, ok := prev.Hashes.PinByID(pin.ModuleID)
		if !ok || old.CodeHash == nil || pin.CodeHash == nil || old.HashBasis != pin.HashBasis {
			continue
		}
		if *old.CodeHash == *pin.CodeHash {
			continue
		}
		out = append(out, change(model.ChangeModuleCode, model.ChangeMedium, *old.CodeHash, *pin.CodeHash,
			"module="+pin.ModuleID, "role="+pin.Role, "basis="+string(pin.HashBasis))...)
	}
	return out
}

func detectModulesAdded(prev, cur *model.Snapshot) []model.ChangeItem {
	var out []model.ChangeItem
	for _, pin := range cur.Hashes.Pins {
		if _, ok := prev.Hashes.PinByID(pin.ModuleID); !ok {
			out = append(out, change(model.ChangeModuleAdded, model.ChangeMedium, nil, pin.ModuleID, "module="+pin.ModuleID, "role="+pin.Role)...)
		}
	}
	return out
}

func detectModulesRemoved(prev, cur *model.Snapshot) []model.ChangeItem {
	var out []model.ChangeItem
	for _, pin := range prev.Hashes.Pins {
		if _, ok := cur.Hashes.PinByID(pin.ModuleID); !ok {
			out = append(out, change(model.ChangeModuleRemoved, model.ChangeLow, pin.ModuleID, nil, "module="+pin.ModuleID, "role="+pin.Role)...)
		}
	}
	return out
}

func detectABISurface(prev, cur *model.Snapshot) []model.ChangeItem {
	var out []model.ChangeItem
	for _, id := range sortedKeys(cur.ControlSurface.Functions) {
		before, ok := prev.ControlSurface.Functions[id]
		if !ok {
			continue
		}
		after := cur.ControlSurface.Functions[id]
		added, removed := setDiff(sortedCopy(before), sortedCopy(after))
		if len(added) == 0 && len(removed) == 0 {
			continue
		}
		evidence := append([]string{"module=" + id}, tagged(added, removed)...)
		out = append(out, change(model.ChangeABISurface, model.ChangeHigh, before, after, evidence...)...)
	}
	return out
}

func detectAggregate(prev, cur *model.Snapshot) []model.ChangeItem {
	if prev.Hashes.Aggregate == cur.Hashes.Aggregate {
		return nil
	}
	return change(model.ChangeAggregateHash, model.ChangeInfo, prev.Hashes.Aggregate, cur.Hashes.Aggregate)
}

func detectCoverage(prev, cur *model.Snapshot) []model.ChangeItem {
	if prev.Coverage.Status == cur.Coverage.Status {
		return nil
	}
	sev := model.ChangeInfo
	if cur.Coverage.Status == model.CoveragePartial {
		sev = model.ChangeMedium
	}
	return change(model.ChangeCoverage, sev, prev.Coverage.Status, cur.Coverage.Status, cur.Coverage.Reasons...)
}

func findingKeys(fs []model.Finding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.ID+"/"+string(f.Severity))
	}
	sort.Strings(out)
	return out
}

func detectFindings(prev, cur *model.Snapshot) []model.ChangeItem {
	a, b := findingKeys(prev.Findings), findingKeys(cur.Findings)
	added, removed := setDiff(a, b)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	sev := model.ChangeInfo
	if len(added) > 0 {
		sev = model.ChangeMedium
	}
	return change(model.ChangeFindings, sev, a, b, tagged(added, removed)...)
}

func privilegeKeys(r model.PrivilegeReport) []string {
	var out []string
	for class, fns := range r.Classes {
		for _, fn := range fns {
			out = append(out, class+":"+fn)
		}
	}
	sort.Strings(out)
	return out
}

func detectPrivileges(prev, cur *model.Snapshot) []model.ChangeItem {
	a, b := privilegeKeys(prev.Privileges), privilegeKeys(cur.Privileges)
	added, removed := setDiff(a, b)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	sev := model.ChangeLow
	if len(added) > 0 {
		sev = model.ChangeMedium
	}
	return change(model.ChangePrivileges, sev, a, b, tagged(added, removed)...)
}

func detectInvariants(prev, cur *model.Snapshot) []model.ChangeItem {
	var evidence []string
	for _, it := range cur.Invariants.Items {
		old, ok := prev.Invariants.Item(it.ID)
		switch {
		case !ok:
			evidence = append(evidence, fmt.Sprintf("%s:none->%s", it.ID, it.Status))
		case old.Status != it.Status:
			evidence = append(evidence, fmt.Sprintf("%s:%s->%s", it.ID, old.Status, it.Status))
		}
	}
	for _, it := range prev.Invariants.Items {
		if _, ok := cur.Invariants.Item(it.ID); !ok {
			evidence = append(evidence, fmt.Sprintf("%s:%s->none", it.ID, it.Status))
		}
	}
	if len(evidence) == 0 && prev.Invariants.Overall == cur.Invariants.Overall {
		return nil
	}
	return change(model.ChangeInvariants, model.ChangeMedium, prev.Invariants.Overall, cur.Invariants.Overall, evidence...)
}

func detectOpaqueSurface(prev, cur *model.Snapshot) []model.ChangeItem {
	a, b := sortedCopy(prev.ControlSurface.Opaque), sortedCopy(cur.ControlSurface.Opaque)
	added, removed := setDiff(a, b)
	if len(added) == 0 && len(removed) == 0 && prev.Privileges.HasOpaqueControl == cur.Privileges.HasOpaqueControl {
		return nil
	}
	sev := model.ChangeInfo
	if len(added) > 0 || (!prev.Privileges.HasOpaqueControl && cur.Privileges.HasOpaqueControl) {
		sev = model.ChangeHigh
	}
	return change(model.ChangeOpaqueSurface, sev, a, b, tagged(added, removed)...)
}

// setDiff expects sorted, duplicate-free inputs.
func setDiff(before, after []string) (added, removed []string) {
	inBefore := make(map[string]bool, len(before))
	for _, s := range before {
		inBefore[s] = true
	}
	inAfter := make(map[string]bool, len(after))
	for _, s := range after {
		inAfter[s] = true
		if !inBefore[s] {
			added = append(added, s)
		}
	}
	for _, s := range before {
		if !inAfter[s] {
			removed = append(removed, s)
		}
	}
	return added, removed
}

func tagged(added, removed []string) []string {
	out := make([]string, 0, len(added)+len(removed))
	for _, s := range added {
		out = append(out, "added:"+s)
	}
	for _, s := range removed {
		out = append(out, "removed:"+s)
	}
	return out
}

func taggedValues(evidence []string, prefix string) []string {
	var out []string
	for _, e := range evidence {
		if v, ok := strings.CutPrefix(e, prefix); ok {
			out = append(out, v)
		}
	}
	return out
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
