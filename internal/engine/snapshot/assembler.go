// Package snapshot runs one scan pass over an asset and folds every stage's
// output into an immutable model.Snapshot.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"supravault/internal/core/errors"
	"supravault/internal/core/ports"
	"supravault/internal/engine/behavior"
	"supravault/internal/engine/facts"
	"supravault/internal/engine/inventory"
	"supravault/internal/engine/model"
	"supravault/internal/engine/parity"
	"supravault/internal/engine/pinning"
	"supravault/internal/engine/reachability"
	"supravault/internal/shared/observability"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	faIDPattern   = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}$`)
	coinIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{1,64}::[A-Za-z_][A-Za-z0-9_]*::[A-Za-z_][A-Za-z0-9_]*(<.*>)?$`)
)

// Stages are the collaborators an Assembler drives. Parity and Sampler may be
// nil.
type Stages struct {
	Resources ports.ResourceReader
	Inventory *inventory.Builder
	Pinner    *pinning.Pinner
	Sampler   *behavior.Sampler
	Parity    ports.ParityIndexer
}

type Options struct {
	Chain           string
	SystemAddresses []string
	Logger          *slog.Logger
	Now             func() time.Time
	NewID           func() string
}

type Request struct {
	Kind    model.AssetKind
	AssetID string
	// SampleBehavior turns on transaction sampling when a sampler is wired.
	SampleBehavior bool
	ProbeAddresses []string
	SampleLimit    int
}

type Assembler struct {
	stages Stages
	opts   Options
	logger *slog.Logger
}

func NewAssembler(stages Stages, opts Options) *Assembler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if len(opts.SystemAddresses) == 0 {
		opts.SystemAddresses = inventory.DefaultSystemAddresses
	}
	return &Assembler{stages: stages, opts: opts, logger: opts.Logger}
}

// Validate rejects requests that could never describe an asset.
func Validate(req Request) error {
	id := strings.TrimSpace(req.AssetID)
	if id == "" {
		return errors.New(errors.CodeValidationError, "asset id is required")
	}
	switch req.Kind {
	case model.KindFA:
		if !faIDPattern.MatchString(id) {
			return errors.AddContext(errors.Newf(errors.CodeValidationError, "fungible asset id must be a hex address, got %q", id), errors.CtxAddress, id)
		}
	case model.KindCoin:
		if !coinIDPattern.MatchString(id) {
			return errors.Newf(errors.CodeValidationError, "coin type must look like 0xADDR::module::Name, got %q", id)
		}
	default:
		return errors.Newf(errors.CodeValidationError, "unknown asset kind %q", req.Kind)
	}
	return nil
}

// Assemble only fails on invalid input. Every gathering failure is absorbed
// into coverage reasons or per-stage statuses.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*model.Snapshot, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { observability.ScanDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds()) }()

	ctx, span := observability.Tracer.Start(ctx, "snapshot.Assemble")
	defer span.End()

	assetID := strings.TrimSpace(req.AssetID)
	accounts, readReasons := a.readAccounts(ctx, req.Kind, assetID)
	f := facts.Build(req.Kind, assetID, accounts)

	inv := a.stages.Inventory.Build(ctx, inventory.Request{
		Kind:          req.Kind,
		AssetID:       assetID,
		Symbol:        f.Identity.Symbol,
		Owner:         f.Owner,
		Publisher:     f.Identity.Publisher,
		Hooks:         f.Hooks,
		RefHolders:    f.RefHolders,
		ResourceTypes: f.ResourceTypes,
	})
	if len(readReasons) > 0 {
		inv.Coverage.Status = model.CoveragePartial
		inv.Coverage.Reasons = append(readReasons, inv.Coverage.Reasons...)
	}

	var (
		pins     pinning.Result
		evidence model.EvidenceBundle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pins = a.stages.Pinner.Pin(gctx, PinRefs(req.Kind, assetID, f, inv))
		return nil
	})
	g.Go(func() error {
		evidence = a.parity(gctx, req.Kind, assetID, f)
		return nil
	})
	_ = g.Wait()

	reach := reachability.Analyze(reachability.Input{
		Capabilities: f.Capabilities,
		Surfaces:     reachability.SurfacesFromInventory(inv, pins.Artifacts),
		Supply:       f.Supply,
		Hooks:        f.Hooks,
	})

	snap := &model.Snapshot{
		Meta: model.Meta{
			SchemaVersion: model.SnapshotSchemaVersion,
			ScanID:        a.opts.NewID(),
			CapturedAt:    a.opts.Now().UTC(),
			Chain:         a.opts.Chain,
		},
		Identity:     f.Identity,
		Supply:       f.Supply,
		Capabilities: f.Capabilities,
		ControlSurface: model.ControlSurface{
			Owner:      f.Owner,
			Admin:      f.Admin,
			Hooks:      nonNilHooks(f.Hooks),
			RefHolders: nonNil(f.RefHolders),
			Modules:    inv.Entries,
			Functions:  reach.Functions,
			Opaque:     reach.Opaque,
		},
		Coverage:   inv.Coverage,
		Recovery:   inv.Recovery,
		Findings:   reach.Findings,
		Hashes:     pins.Hashes,
		Privileges: reach.Privileges,
		Invariants: reach.Invariants,
		Evidence:   evidence,
	}
	if snap.ControlSurface.Modules == nil {
		snap.ControlSurface.Modules = []model.ModuleEntry{}
	}

	if req.SampleBehavior && a.stages.Sampler != nil {
		ev := a.stages.Sampler.Sample(ctx, behavior.Request{
			Owner:           f.Owner,
			ModuleAddresses: moduleAddresses(inv),
			RefHolders:      f.RefHolders,
			ProbeAddresses:  req.ProbeAddresses,
			Limit:           req.SampleLimit,
			Pinned:          reach.Functions,
			ABIOpaque:       len(reach.Opaque) > 0,
			IgnoreAddresses: a.opts.SystemAddresses,
		})
		snap.Behavior = &ev
	}
	snap.Meta.Sources = sources(snap)

	a.logger.Info("snapshot assembled",
		"asset", snap.Identity.Key(),
		"scan_id", snap.Meta.ScanID,
		"coverage", snap.Coverage.Status,
		"pins", len(snap.Hashes.Pins),
		"findings", len(snap.Findings),
		"invariants", snap.Invariants.Overall)
	return snap, nil
}

// readAccounts reads the asset's own address first, then the owner when it
// differs, since refs are usually stored with the deployer.
func (a *Assembler) readAccounts(ctx context.Context, kind model.AssetKind, assetID string) ([]facts.AccountResources, []string) {
	primary := assetID
	if kind == model.KindCoin {
		primary, _, _ = strings.Cut(assetID, "::")
	}
	primary = model.CanonicalAddress(primary)
	var reasons []string
	read := func(addr string) (facts.AccountResources, bool) {
		res, err := a.stages.Resources.ListResources(ctx, addr)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("resources unavailable for %s: %v", addr, err))
			a.logger.Warn("resource read failed", "address", addr, "error", err)
			return facts.AccountResources{}, false
		}
		return facts.AccountResources{Address: addr, Resources: res}, true
	}

	var accounts []facts.AccountResources
	first, ok := read(primary)
	if !ok {
		return accounts, reasons
	}
	accounts = append(accounts, first)
	if kind != model.KindFA {
		return accounts, reasons
	}
	owner := facts.Build(kind, assetID, accounts).Owner
	if owner != "" && model.CanonicalAddress(owner) != model.CanonicalAddress(primary) {
		if acct, ok := read(owner); ok {
			accounts = append(accounts, acct)
		}
	}
	return accounts, reasons
}

func (a *Assembler) parity(ctx context.Context, kind model.AssetKind, assetID string, f model.AssetFacts) model.EvidenceBundle {
	obs := parity.Observed{Owner: f.Owner, Supply: f.Supply.Current, HasMintCap: f.Capabilities.HasMintCap}
	if a.stages.Parity == nil {
		return parity.Compare(obs, nil, errors.New(errors.CodeNotFound, "no parity indexer configured"))
	}
	idx, err := a.stages.Parity.AssetFacts(ctx, kind, assetID)
	if err != nil {
		a.logger.Warn("parity indexer failed", "asset", assetID, "error", err)
		return parity.Compare(obs, nil, err)
	}
	return parity.Compare(obs, &idx, nil)
}

// PinRefs lists every named relevant module plus hook modules, tagged with
// the role that made them relevant.
func PinRefs(kind model.AssetKind, assetID string, f model.AssetFacts, inv model.ModuleInventory) []model.ModuleRef {
	hookMods := make(map[string]bool)
	for _, h := range f.Hooks {
		hookMods[model.CanonicalModuleID(h.Address, h.Module)] = true
	}
	definingMod := ""
	if kind == model.KindCoin {
		parts := strings.SplitN(assetID, "::", 3)
		if len(parts) == 3 {
			definingMod = model.CanonicalModuleID(parts[0], parts[1])
		}
	}
	owner := ""
	if f.Owner != "" {
		owner = model.CanonicalAddress(f.Owner)
	}
	holders := make(map[string]bool)
	for _, h := range f.RefHolders {
		holders[model.CanonicalAddress(h)] = true
	}

	var refs []model.ModuleRef
	seen := make(map[string]bool)
	add := func(addr, name, role string) {
		id := model.CanonicalModuleID(addr, name)
		if seen[id] {
			return
		}
		seen[id] = true
		refs = append(refs, model.ModuleRef{Address: model.CanonicalAddress(addr), Name: name, Role: role})
	}
	for _, e := range inv.Relevant() {
		if e.Nameless() {
			continue
		}
		id := model.CanonicalModuleID(e.Address, e.Name)
		addr := model.CanonicalAddress(e.Address)
		switch {
		case id == definingMod:
			add(e.Address, e.Name, model.RoleDefining)
		case hookMods[id]:
			add(e.Address, e.Name, model.RoleHook)
		case addr == owner:
			add(e.Address, e.Name, model.RoleOwner)
		case holders[addr]:
			add(e.Address, e.Name, model.RoleRefHolder)
		case kind == model.KindCoin:
			add(e.Address, e.Name, model.RolePublisher)
		default:
			add(e.Address, e.Name, model.RoleDependency)
		}
	}
	for _, h := range f.Hooks {
		if h.Module != "" {
			add(h.Address, h.Module, model.RoleHook)
		}
	}
	return refs
}

func moduleAddresses(inv model.ModuleInventory) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range inv.Relevant() {
		addr := model.CanonicalAddress(e.Address)
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	return out
}

func sources(s *model.Snapshot) []string {
	set := make(map[string]bool)
	for _, src := range s.Evidence.SourcesUsed {
		set[src] = true
	}
	for _, e := range s.ControlSurface.Modules {
		switch e.Source {
		case "", model.SourceHook, model.SourceResourceType, model.SourcePlaceholder:
		default:
			set["listing:"+e.Source] = true
		}
	}
	if s.Behavior != nil && s.Behavior.Source != "" && s.Behavior.Source != "none" {
		set["behavior:"+s.Behavior.Source] = true
	}
	out := make([]string, 0, len(set))
	for src := range set {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilHooks(h []model.HookDecl) []model.HookDecl {
	if h == nil {
		return []model.HookDecl{}
	}
	return h
}
