// Package inventory builds the set of modules that can influence an asset and
// records how complete that picture is.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"supravault/internal/core/errors"
	"supravault/internal/core/ports"
	"supravault/internal/engine/model"
	"supravault/internal/shared/observability"

	"github.com/gobwas/glob"
)

var DefaultSystemAddresses = []string{"0x1", "0x3", "0x4", "0xa"}

var DefaultProbeNames = []string{"coin", "token", "fa", "fungible_asset", "managed_coin", "asset"}

const (
	StrategyAlternateListing = "alternate_listing"
	StrategyNameProbe        = "name_probe"

	OutcomeRecovered  = "recovered"
	OutcomeEmpty      = "empty"
	OutcomeMiss       = "miss"
	OutcomeMismatch   = "mismatch"
	OutcomeUnverified = "unverified"
	OutcomeError      = "error"
	OutcomeSkipped    = "skipped"
)

type Options struct {
	SystemAddresses []string
	ExcludeModules  []string
	ProbeNames      []string
	Logger          *slog.Logger
}

// Request carries the facts the relevance set is derived from.
type Request struct {
	Kind          model.AssetKind
	AssetID       string
	Symbol        string
	Owner         string
	Publisher     string
	Hooks         []model.HookDecl
	RefHolders    []string
	ResourceTypes []string
}

type Builder struct {
	primary    ports.ModuleLister
	alternate  ports.ModuleLister
	fetcher    ports.ArtifactFetcher
	system     map[string]bool
	exclude    []glob.Glob
	probeNames []string
	logger     *slog.Logger
}

// NewBuilder wires the listing collaborators. alternate and fetcher may be nil,
// which disables the matching recovery strategy.
func NewBuilder(primary, alternate ports.ModuleLister, fetcher ports.ArtifactFetcher, opts Options) (*Builder, error) {
	if primary == nil {
		return nil, errors.New(errors.CodeValidationError, "inventory builder requires a module lister")
	}
	systemAddrs := opts.SystemAddresses
	if len(systemAddrs) == 0 {
		systemAddrs = DefaultSystemAddresses
	}
	system := make(map[string]bool, len(systemAddrs))
	for _, a := range systemAddrs {
		system[model.CanonicalAddress(a)] = true
	}
	exclude := make([]glob.Glob, 0, len(opts.ExcludeModules))
	for _, pattern := range opts.ExcludeModules {
		g, err := glob.Compile(strings.TrimSpace(pattern))
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("invalid exclude pattern %q", pattern))
		}
		exclude = append(exclude, g)
	}
	probeNames := opts.ProbeNames
	if len(probeNames) == 0 {
		probeNames = DefaultProbeNames
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		primary:    primary,
		alternate:  alternate,
		fetcher:    fetcher,
		system:     system,
		exclude:    exclude,
		probeNames: probeNames,
		logger:     logger,
	}, nil
}

func (b *Builder) IsSystem(address string) bool {
	return b.system[model.CanonicalAddress(address)]
}

func (b *Builder) excluded(moduleID string) bool {
	for _, g := range b.exclude {
		if g.Match(moduleID) {
			return true
		}
	}
	return false
}

// RelevanceSet returns canonical addresses in discovery order: hook addresses,
// owner, ref-holders for FA; the publisher for coins. System addresses are
// never relevant.
func (b *Builder) RelevanceSet(req Request) []string {
	var candidates []string
	if req.Kind == model.KindCoin {
		candidates = []string{req.Publisher}
	} else {
		for _, h := range req.Hooks {
			candidates = append(candidates, h.Address)
		}
		candidates = append(candidates, req.Owner)
		candidates = append(candidates, req.RefHolders...)
	}
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.TrimSpace(c) == "" {
			continue
		}
		addr := model.CanonicalAddress(c)
		if seen[addr] || b.system[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// Build never fails: listing errors become coverage reasons.
func (b *Builder) Build(ctx context.Context, req Request) model.ModuleInventory {
	relevant := b.RelevanceSet(req)
	inRelevant := make(map[string]bool, len(relevant))
	for _, a := range relevant {
		inRelevant[a] = true
	}

	set := newEntrySet()
	isRelevant := func(addr, name string) bool {
		return inRelevant[addr] && !b.excluded(model.ModuleID(addr, name))
	}

	for _, h := range req.Hooks {
		addr := model.CanonicalAddress(h.Address)
		if h.Module == "" {
			continue
		}
		set.add(addr, h.Module, model.SourceHook, isRelevant(addr, h.Module))
	}
	for _, typ := range req.ResourceTypes {
		for _, id := range model.TypeModuleIDs(typ) {
			rawAddr, name, _ := model.SplitModuleID(id)
			addr := model.CanonicalAddress(rawAddr)
			switch {
			case b.system[addr]:
				set.add(addr, name, model.SourceResourceType, false)
			case inRelevant[addr]:
				set.add(addr, name, model.SourceResourceType, isRelevant(addr, name))
			}
		}
	}
	for _, addr := range relevant {
		if !set.hasAddress(addr) {
			set.addPlaceholder(addr)
		}
	}

	var reasons []string
	listingFailed := false
	for _, addr := range relevant {
		if err := ctx.Err(); err != nil {
			reasons = append(reasons, fmt.Sprintf("listing skipped for %s: %v", addr, err))
			listingFailed = true
			continue
		}
		listing, err := b.primary.ListModules(ctx, addr)
		if err != nil {
			listingFailed = true
			reasons = append(reasons, fmt.Sprintf("listing failed for %s via %s: %v", addr, b.primary.Tag(), err))
			b.logger.Warn("module listing failed", "address", addr, "source", b.primary.Tag(), "error", err)
			continue
		}
		source := listing.Source
		if source == "" {
			source = b.primary.Tag()
		}
		for _, name := range listing.Names {
			set.merge(addr, name, source, isRelevant(addr, name))
		}
	}

	inv := model.ModuleInventory{}
	if req.Kind == model.KindCoin && len(set.namelessRelevant()) > 0 {
		inv.Recovery = b.recover(ctx, req, set, isRelevant)
	}

	inv.Entries = set.entries
	nameless := set.namelessRelevant()
	if len(nameless) > 0 {
		reasons = append(reasons, fmt.Sprintf("%d relevant address(es) without module names: %s", len(nameless), strings.Join(nameless, ", ")))
	}
	inv.Coverage = model.Coverage{Status: model.CoverageComplete, Reasons: reasons}
	if listingFailed || len(nameless) > 0 {
		inv.Coverage.Status = model.CoveragePartial
	}
	if inv.Coverage.Reasons == nil {
		inv.Coverage.Reasons = []string{}
	}
	observability.InventoryBuildsTotal.WithLabelValues(string(inv.Coverage.Status)).Inc()
	return inv
}

// recover runs the coin-only name recovery chain over addresses that are
// still nameless, recording every attempt.
func (b *Builder) recover(ctx context.Context, req Request, set *entrySet, isRelevant func(addr, name string) bool) *model.RecoveryRecord {
	rec := &model.RecoveryRecord{Attempts: []model.RecoveryAttempt{}, Recovered: []string{}}
	record := func(a model.RecoveryAttempt) {
		rec.Attempts = append(rec.Attempts, a)
		observability.RecoveryAttemptsTotal.WithLabelValues(a.Strategy, a.Outcome).Inc()
	}

	for _, addr := range set.namelessRelevant() {
		if b.alternate == nil {
			record(model.RecoveryAttempt{Strategy: StrategyAlternateListing, Address: addr, Outcome: OutcomeSkipped, Detail: "no alternate listing endpoint configured"})
			continue
		}
		listing, err := b.alternate.ListModules(ctx, addr)
		if err != nil {
			record(model.RecoveryAttempt{Strategy: StrategyAlternateListing, Address: addr, Outcome: OutcomeError, Detail: err.Error()})
			continue
		}
		if len(listing.Names) == 0 {
			record(model.RecoveryAttempt{Strategy: StrategyAlternateListing, Address: addr, Outcome: OutcomeEmpty})
			continue
		}
		for _, name := range listing.Names {
			if set.merge(addr, name, model.SourceRecovered+StrategyAlternateListing, isRelevant(addr, name)) {
				rec.Recovered = append(rec.Recovered, model.ModuleID(addr, name))
			}
		}
		record(model.RecoveryAttempt{Strategy: StrategyAlternateListing, Address: addr, Outcome: OutcomeRecovered, Detail: fmt.Sprintf("%d module(s)", len(listing.Names))})
	}

	candidates := b.probeCandidates(req)
	for _, addr := range set.namelessRelevant() {
		if b.fetcher == nil {
			record(model.RecoveryAttempt{Strategy: StrategyNameProbe, Address: addr, Outcome: OutcomeSkipped, Detail: "no module fetcher configured"})
			continue
		}
		for _, candidate := range candidates {
			if ctx.Err() != nil {
				record(model.RecoveryAttempt{Strategy: StrategyNameProbe, Address: addr, Candidate: candidate, Outcome: OutcomeSkipped, Detail: ctx.Err().Error()})
				break
			}
			art, err := b.fetcher.FetchModule(ctx, addr, candidate)
			switch {
			case errors.IsCode(err, errors.CodeNotFound):
				record(model.RecoveryAttempt{Strategy: StrategyNameProbe, Address: addr, Candidate: candidate, Outcome: OutcomeMiss})
			case err != nil:
				record(model.RecoveryAttempt{Strategy: StrategyNameProbe, Address: addr, Candidate: candidate, Outcome: OutcomeError, Detail: err.Error()})
			case art.Name == "":
				record(model.RecoveryAttempt{Strategy: StrategyNameProbe, Address: addr, Candidate: candidate, Outcome: OutcomeUnverified, Detail: "module exists but declares no name"})
			case art.Name != candidate:
				record(model.RecoveryAttempt{Strategy: StrategyNameProbe, Address: addr, Candidate: candidate, Outcome: OutcomeMismatch, Detail: fmt.Sprintf("declared name %q", art.Name)})
			default:
				if set.merge(addr, candidate, model.SourceRecovered+StrategyNameProbe, isRelevant(addr, candidate)) {
					rec.Recovered = append(rec.Recovered, model.ModuleID(addr, candidate))
				}
				record(model.RecoveryAttempt{Strategy: StrategyNameProbe, Address: addr, Candidate: candidate, Outcome: OutcomeRecovered})
			}
		}
	}
	b.logger.Debug("name recovery finished", "asset", req.AssetID, "attempts", len(rec.Attempts), "recovered", len(rec.Recovered))
	return rec
}

// probeCandidates puts names implied by the asset first, then configured ones.
func (b *Builder) probeCandidates(req Request) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(n string) {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}
	if _, mod, _, ok := model.SplitFunctionID(req.AssetID); ok {
		add(mod)
	}
	if req.Symbol != "" {
		add(strings.ToLower(req.Symbol))
	}
	for _, n := range b.probeNames {
		add(n)
	}
	return out
}

type entryKey struct {
	address string
	name    string
}

// entrySet keeps insertion order and upgrades nameless placeholders in place.
type entrySet struct {
	entries []model.ModuleEntry
	index   map[entryKey]int
}

func newEntrySet() *entrySet {
	return &entrySet{index: make(map[entryKey]int)}
}

func (s *entrySet) add(addr, name, source string, relevant bool) {
	k := entryKey{addr, name}
	if _, ok := s.index[k]; ok {
		return
	}
	s.index[k] = len(s.entries)
	s.entries = append(s.entries, model.ModuleEntry{Address: addr, Name: name, Source: source, Relevant: relevant})
}

func (s *entrySet) addPlaceholder(addr string) {
	s.add(addr, "", model.SourcePlaceholder, true)
}

func (s *entrySet) hasAddress(addr string) bool {
	for _, e := range s.entries {
		if e.Address == addr {
			return true
		}
	}
	return false
}

// merge adds (addr, name), filling a nameless entry for addr first. It reports
// whether anything new was recorded.
func (s *entrySet) merge(addr, name, source string, relevant bool) bool {
	if name == "" {
		return false
	}
	if _, ok := s.index[entryKey{addr, name}]; ok {
		return false
	}
	if i, ok := s.index[entryKey{addr, ""}]; ok {
		delete(s.index, entryKey{addr, ""})
		s.entries[i].Name = name
		s.entries[i].Source = source
		s.entries[i].Relevant = relevant
		s.index[entryKey{addr, name}] = i
		return true
	}
	s.add(addr, name, source, relevant)
	return true
}

func (s *entrySet) namelessRelevant() []string {
	var out []string
	for _, e := range s.entries {
		if e.Relevant && e.Nameless() {
			out = append(out, e.Address)
		}
	}
	sort.Strings(out)
	return out
}
