// Package reachability decides whether held capabilities have a public path
// and checks the asset's control invariants. Matching is by function name, so
// an opaque module turns conclusions into "unknown" rather than "safe".
package reachability

import (
	"fmt"
	"sort"
	"strings"
	"supravault/internal/engine/classify"
	"supravault/internal/engine/model"
)

// ModuleSurface is what is known about one relevant module's exposed API.
type ModuleSurface struct {
	ModuleID  string
	Functions []string
	Opaque    bool
}

type Input struct {
	Capabilities model.Capabilities
	Surfaces     []ModuleSurface
	Supply       model.Supply
	Hooks        []model.HookDecl
}

type Result struct {
	Findings   []model.Finding
	Privileges model.PrivilegeReport
	Invariants model.InvariantReport
	Functions  map[string][]string
	Opaque     []string
}

type capabilityRule struct {
	label     string
	category  classify.Category
	severity  model.FindingSeverity
	held      func(model.Capabilities) bool
	invariant string
}

var capabilityRules = []capabilityRule{
	{
		label:     "MINT",
		category:  classify.Mint,
		severity:  model.SeverityHigh,
		held:      func(c model.Capabilities) bool { return c.HasMintCap },
		invariant: "MINT_REACHABLE_WITH_CAP",
	},
	{
		label:     "BURN",
		category:  classify.Burn,
		severity:  model.SeverityMedium,
		held:      func(c model.Capabilities) bool { return c.HasBurnCap },
		invariant: "BURN_REACHABLE_WITH_CAP",
	},
	{
		label:     "FREEZE",
		category:  classify.Freeze,
		severity:  model.SeverityHigh,
		held:      func(c model.Capabilities) bool { return c.HasFreezeCap || c.HasTransferRef },
		invariant: "FREEZE_REACHABLE_WITH_CAP",
	},
	{
		label:    "METADATA",
		category: classify.Metadata,
		severity: model.SeverityMedium,
		held:     func(c model.Capabilities) bool { return c.HasMetadataRef },
	},
}

// SurfacesFromInventory lists relevant modules with their exposed functions.
// Nameless entries and modules without a readable ABI are opaque.
func SurfacesFromInventory(inv model.ModuleInventory, artifacts map[string]model.ModuleArtifact) []ModuleSurface {
	var out []ModuleSurface
	for _, e := range inv.Relevant() {
		if e.Nameless() {
			out = append(out, ModuleSurface{ModuleID: e.Address + "::*", Opaque: true})
			continue
		}
		id := model.CanonicalModuleID(e.Address, e.Name)
		art, ok := artifacts[id]
		if !ok || (len(art.ABI) == 0 && len(art.Functions) == 0) {
			out = append(out, ModuleSurface{ModuleID: id, Opaque: true})
			continue
		}
		out = append(out, ModuleSurface{ModuleID: id, Functions: art.ExposedFunctions()})
	}
	return out
}

func Analyze(in Input) Result {
	res := Result{
		Findings:  []model.Finding{},
		Functions: make(map[string][]string),
		Opaque:    []string{},
	}

	byCategory := make(map[classify.Category][]string)
	for _, s := range in.Surfaces {
		if s.Opaque {
			res.Opaque = append(res.Opaque, s.ModuleID)
			continue
		}
		fns := append([]string(nil), s.Functions...)
		sort.Strings(fns)
		res.Functions[s.ModuleID] = fns
		classified := classify.Classify(fns)
		for _, c := range classify.Categories {
			for _, fn := range classified.Category(c) {
				byCategory[c] = append(byCategory[c], s.ModuleID+"::"+fn)
			}
		}
	}
	for c := range byCategory {
		sort.Strings(byCategory[c])
	}

	reachable := make(map[string][]string, len(capabilityRules))
	for _, rule := range capabilityRules {
		if !rule.held(in.Capabilities) {
			continue
		}
		fns := byCategory[rule.category]
		reachable[rule.label] = fns
		res.Findings = append(res.Findings, capabilityFinding(rule, fns))
	}

	allOpaque := len(in.Surfaces) > 0 && len(res.Opaque) == len(in.Surfaces)
	if len(res.Opaque) > 0 {
		res.Findings = append(res.Findings, model.Finding{
			ID:             "OPAQUE_MODULE_SURFACE",
			Severity:       model.SeverityMedium,
			Title:          "Relevant modules could not be read",
			Detail:         fmt.Sprintf("%d of %d relevant module(s) have no readable ABI; reachability over them is unknown.", len(res.Opaque), len(in.Surfaces)),
			Evidence:       append([]string(nil), res.Opaque...),
			Recommendation: "Verify these modules' source or ABI through another provider before trusting the verdict.",
		})
	}
	if allOpaque && model.Positive(in.Supply.Current) && !in.Capabilities.Any() {
		res.Findings = append(res.Findings, model.Finding{
			ID:             "OPAQUE_CONTROL_SURFACE",
			Severity:       model.SeverityHigh,
			Title:          "Control surface is opaque",
			Detail:         "Supply is non-zero, no capability was observed and every relevant module is unreadable. Control is unknown, not absent.",
			Evidence:       append([]string(nil), res.Opaque...),
			Recommendation: "Treat the asset as unverified until module surfaces can be read.",
		})
	}

	res.Privileges = model.PrivilegeReport{
		Classes:          make(map[string][]string),
		HasOpaqueControl: len(res.Opaque) > 0,
	}
	for _, c := range classify.Categories {
		if fns := byCategory[c]; len(fns) > 0 {
			res.Privileges.Classes[string(c)] = fns
		}
	}

	items := make([]model.InvariantItem, 0, 7)
	for _, rule := range capabilityRules {
		if rule.invariant == "" {
			continue
		}
		items = append(items, capabilityInvariant(rule, rule.held(in.Capabilities), reachable[rule.label]))
	}
	items = append(items,
		mintWithoutCapInvariant(in.Capabilities, byCategory[classify.Mint], len(res.Opaque) > 0),
		supplyInvariant(in.Supply),
		hookInvariant(in.Hooks, res.Functions),
		readableInvariant(len(in.Surfaces), len(res.Opaque)),
	)
	res.Invariants = model.InvariantReport{Items: items, Overall: model.WorstInvariant(items)}
	return res
}

func capabilityFinding(rule capabilityRule, fns []string) model.Finding {
	lower := strings.ToLower(rule.label)
	if len(fns) > 0 {
		return model.Finding{
			ID:             rule.label + "_CAP_REACHABLE",
			Severity:       rule.severity,
			Title:          fmt.Sprintf("%s capability is present and reachable", rule.label),
			Detail:         fmt.Sprintf("%d exposed function(s) in relevant modules match the %s category.", len(fns), lower),
			Evidence:       append([]string(nil), fns...),
			Recommendation: fmt.Sprintf("Review who can call the %s functions and whether they are gated.", lower),
		}
	}
	return model.Finding{
		ID:             rule.label + "_CAP_NO_PUBLIC_PATH",
		Severity:       model.SeverityLow,
		Title:          fmt.Sprintf("%s capability is present with no public path (yet)", rule.label),
		Detail:         fmt.Sprintf("No exposed function in relevant modules matches the %s category. This is not proof of restriction: an upgrade or an unnamed function can add a path.", lower),
		Evidence:       []string{},
		Recommendation: "Pin module hashes and watch for upgrades.",
	}
}

func capabilityInvariant(rule capabilityRule, held bool, fns []string) model.InvariantItem {
	lower := strings.ToLower(rule.label)
	switch {
	case !held:
		return model.InvariantItem{ID: rule.invariant, Status: model.InvariantUnknown, Detail: fmt.Sprintf("no %s capability observed", lower)}
	case len(fns) > 0:
		return model.InvariantItem{ID: rule.invariant, Status: model.InvariantOK, Detail: fmt.Sprintf("%s capability reachable via %s", lower, strings.Join(fns, ", "))}
	default:
		return model.InvariantItem{ID: rule.invariant, Status: model.InvariantWarning, Detail: fmt.Sprintf("%s capability held but no exposed function reaches it", lower)}
	}
}

func mintWithoutCapInvariant(caps model.Capabilities, mintFns []string, anyOpaque bool) model.InvariantItem {
	const id = "NO_MINT_PATH_WITHOUT_CAP"
	switch {
	case len(mintFns) > 0 && !caps.HasMintCap:
		return model.InvariantItem{ID: id, Status: model.InvariantWarning, Detail: "mint-like functions are exposed but no mint capability was observed: " + strings.Join(mintFns, ", ")}
	case len(mintFns) == 0 && anyOpaque:
		return model.InvariantItem{ID: id, Status: model.InvariantUnknown, Detail: "no mint-like functions in readable modules; some modules are opaque"}
	default:
		return model.InvariantItem{ID: id, Status: model.InvariantOK, Detail: "mint paths are consistent with observed capabilities"}
	}
}

func supplyInvariant(s model.Supply) model.InvariantItem {
	const id = "SUPPLY_WITHIN_MAX"
	maxSupply, okMax := model.ParseAmount(s.Max)
	if !okMax {
		return model.InvariantItem{ID: id, Status: model.InvariantUnknown, Detail: "no declared max supply"}
	}
	current, okCur := model.ParseAmount(s.Current)
	if !okCur {
		return model.InvariantItem{ID: id, Status: model.InvariantUnknown, Detail: "current supply unavailable"}
	}
	if current.Cmp(maxSupply) > 0 {
		return model.InvariantItem{ID: id, Status: model.InvariantViolation, Detail: fmt.Sprintf("supply %s exceeds max %s", *s.Current, *s.Max)}
	}
	return model.InvariantItem{ID: id, Status: model.InvariantOK, Detail: fmt.Sprintf("supply %s within max %s", *s.Current, *s.Max)}
}

func hookInvariant(hooks []model.HookDecl, readable map[string][]string) model.InvariantItem {
	const id = "HOOK_MODULES_RESOLVED"
	if len(hooks) == 0 {
		return model.InvariantItem{ID: id, Status: model.InvariantOK, Detail: "no dispatch hooks registered"}
	}
	var unresolved []string
	for _, h := range hooks {
		mid := model.CanonicalModuleID(h.Address, h.Module)
		if _, ok := readable[mid]; !ok {
			unresolved = append(unresolved, mid)
		}
	}
	if len(unresolved) > 0 {
		return model.InvariantItem{ID: id, Status: model.InvariantWarning, Detail: "hook modules not readable: " + strings.Join(unresolved, ", ")}
	}
	return model.InvariantItem{ID: id, Status: model.InvariantOK, Detail: fmt.Sprintf("%d hook module(s) readable", len(hooks))}
}

func readableInvariant(total, opaque int) model.InvariantItem {
	const id = "SURFACE_READABLE"
	switch {
	case total == 0:
		return model.InvariantItem{ID: id, Status: model.InvariantUnknown, Detail: "no relevant modules"}
	case opaque == 0:
		return model.InvariantItem{ID: id, Status: model.InvariantOK, Detail: fmt.Sprintf("%d relevant module(s) readable", total)}
	case opaque == total:
		return model.InvariantItem{ID: id, Status: model.InvariantUnknown, Detail: "every relevant module is opaque"}
	default:
		return model.InvariantItem{ID: id, Status: model.InvariantWarning, Detail: fmt.Sprintf("%d of %d relevant module(s) opaque", opaque, total)}
	}
}
