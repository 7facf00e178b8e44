// Package pinning content-addresses the modules that control an asset so a
// later scan can tell whether any of them changed.
package pinning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"supravault/internal/core/ports"
	"supravault/internal/engine/model"
	"supravault/internal/shared/observability"

	"golang.org/x/sync/errgroup"
)

// Result carries the pins plus the artifacts fetched for them, keyed by
// canonical module id, so the surface can be read without a second fetch.
type Result struct {
	Hashes    model.Hashes
	Artifacts map[string]model.ModuleArtifact
	Failures  map[string]string
}

type Pinner struct {
	fetcher     ports.ArtifactFetcher
	concurrency int
	logger      *slog.Logger
}

// NewPinner fetches at most concurrency modules at once; values below one
// mean one at a time.
func NewPinner(fetcher ports.ArtifactFetcher, concurrency int, logger *slog.Logger) *Pinner {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pinner{fetcher: fetcher, concurrency: concurrency, logger: logger}
}

type fetched struct {
	pin      model.ModulePin
	artifact *model.ModuleArtifact
	failure  string
}

// Pin emits exactly one pin per distinct module. Fetch failures yield a pin
// with a null hash and basis "none".
func (p *Pinner) Pin(ctx context.Context, refs []model.ModuleRef) Result {
	unique := dedupe(refs)
	results := make([]fetched, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, ref := range unique {
		g.Go(func() error {
			results[i] = p.pinOne(gctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	out := Result{
		Artifacts: make(map[string]model.ModuleArtifact, len(results)),
		Failures:  make(map[string]string),
	}
	pins := make([]model.ModulePin, 0, len(results))
	for _, r := range results {
		pins = append(pins, r.pin)
		observability.PinsTotal.WithLabelValues(string(r.pin.HashBasis)).Inc()
		if r.artifact != nil {
			out.Artifacts[r.pin.ModuleID] = *r.artifact
		}
		if r.failure != "" {
			out.Failures[r.pin.ModuleID] = r.failure
		}
	}
	sort.SliceStable(pins, func(i, j int) bool { return pins[i].ModuleID < pins[j].ModuleID })
	out.Hashes = model.Hashes{Pins: pins, Aggregate: Aggregate(pins)}
	return out
}

func (p *Pinner) pinOne(ctx context.Context, ref model.ModuleRef) fetched {
	addr := model.CanonicalAddress(ref.Address)
	pin := model.ModulePin{
		Address:     addr,
		Name:        ref.Name,
		ModuleID:    model.ModuleID(addr, ref.Name),
		HashBasis:   model.BasisNone,
		FetchedFrom: "none",
		Role:        ref.Role,
	}
	if p.fetcher == nil {
		return fetched{pin: pin, failure: "no module fetcher configured"}
	}
	art, err := p.fetcher.FetchModule(ctx, addr, ref.Name)
	if err != nil {
		p.logger.Warn("module fetch failed", "module", pin.ModuleID, "error", err)
		return fetched{pin: pin, failure: err.Error()}
	}
	pin.CodeHash, pin.HashBasis = CodeHash(art)
	if art.FetchedFrom != "" {
		pin.FetchedFrom = art.FetchedFrom
	}
	return fetched{pin: pin, artifact: &art}
}

// CodeHash prefers bytecode, then the canonical ABI text.
func CodeHash(art model.ModuleArtifact) (*string, model.HashBasis) {
	if len(art.Bytecode) > 0 {
		h := sha256Hex(art.Bytecode)
		return &h, model.BasisBytecode
	}
	if abi := canonicalJSON(art.ABI); len(abi) > 0 {
		h := sha256Hex(abi)
		return &h, model.BasisABI
	}
	return nil, model.BasisNone
}

// Aggregate hashes (moduleId, codeHash, basis) triples in module id order, so
// fetch order never affects it.
func Aggregate(pins []model.ModulePin) string {
	sorted := append([]model.ModulePin(nil), pins...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ModuleID < sorted[j].ModuleID })
	var b strings.Builder
	for _, p := range sorted {
		hash := ""
		if p.CodeHash != nil {
			hash = *p.CodeHash
		}
		b.WriteString(p.ModuleID)
		b.WriteByte('|')
		b.WriteString(hash)
		b.WriteByte('|')
		b.WriteString(string(p.HashBasis))
		b.WriteByte('\n')
	}
	return sha256Hex([]byte(b.String()))
}

func dedupe(refs []model.ModuleRef) []model.ModuleRef {
	seen := make(map[string]bool, len(refs))
	out := make([]model.ModuleRef, 0, len(refs))
	for _, r := range refs {
		if r.Name == "" {
			continue
		}
		id := model.CanonicalModuleID(r.Address, r.Name)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r)
	}
	return out
}

// canonicalJSON re-encodes valid JSON with sorted keys; anything else is
// hashed as given.
func canonicalJSON(raw []byte) []byte {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return []byte(trimmed)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return []byte(trimmed)
	}
	return out
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
