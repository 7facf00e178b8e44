// Package behavior samples recent transactions around an asset's control
// addresses and compares what was actually invoked with the pinned surface.
package behavior

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
)

const DefaultLimit = 25

const (
	RoleOwner     = "owner"
	RoleModule    = "module"
	RoleRefHolder = "ref_holder"
	RoleProbe     = "probe"

	SourceIndexer = "indexer"
)

type Request struct {
	Owner           string
	ModuleAddresses []string
	RefHolders      []string
	ProbeAddresses  []string
	Limit           int
	// Pinned maps "addr::module" to the functions its pinned surface exposes.
	Pinned map[string][]string
	// ABIOpaque marks that at least one relevant module's ABI was unreadable.
	ABIOpaque bool
	// IgnoreAddresses excludes modules at these addresses from phantom
	// detection (framework calls such as 0x1::coin::transfer).
	IgnoreAddresses []string
}

type Options struct {
	Preferred    ports.Generation
	DefaultLimit int
	Logger       *slog.Logger
}

type Sampler struct {
	rpc     ports.TransactionSource
	indexer ports.TransactionIndexer
	opts    Options
	logger  *slog.Logger
}

// NewSampler builds a sampler; indexer may be nil.
func NewSampler(rpc ports.TransactionSource, indexer ports.TransactionIndexer, opts Options) *Sampler {
	if opts.Preferred != ports.GenerationV1 {
		opts.Preferred = ports.GenerationV2
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{rpc: rpc, indexer: indexer, opts: opts, logger: logger}
}

type candidate struct {
	address string
	role    string
}

// outcome accumulates what every source attempt produced for one sampling run.
type outcome struct {
	attempts   []model.SourceAttempt
	details    map[string]string
	txs        []Transaction
	rpcOK      bool
	indexerTxs int
	fetchOrder int
	winning    map[string]bool
}

func (o *outcome) record(a model.SourceAttempt) {
	o.attempts = append(o.attempts, a)
}

// Sample never returns an error: every failure ends up in the evidence's
// status, attempted sources or warnings.
func (s *Sampler) Sample(ctx context.Context, req Request) model.BehaviorEvidence {
	ev := model.BehaviorEvidence{
		InvokedEntries:   []model.InvokedEntry{},
		PhantomEntries:   []model.PhantomEntry{},
		SampledAddresses: []string{},
		AttemptedSources: []model.SourceAttempt{},
		SourceDetails:    map[string]string{},
		Warnings:         []string{},
		Source:           "none",
	}

	candidates, warnings := buildCandidates(req)
	ev.Warnings = append(ev.Warnings, warnings...)
	if len(candidates) == 0 {
		ev.Status = model.BehaviorError
		ev.Warnings = append(ev.Warnings, "no valid address to sample")
		observability.SamplerRunsTotal.WithLabelValues(string(ev.Status)).Inc()
		return ev
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}

	out := &outcome{details: map[string]string{}, winning: map[string]bool{}}
	for _, c := range candidates {
		if ctx.Err() != nil {
			ev.Warnings = append(ev.Warnings, "sampling cancelled")
			break
		}
		ev.SampledAddresses = append(ev.SampledAddresses, c.address)
		s.sampleAddress(ctx, c.address, limit, out)
	}

	ev.AttemptedSources = out.attempts
	ev.SourceDetails = out.details
	ev.Source = sourceLabel(out.winning)

	merged := mergeTransactions(out.txs, limit)
	ev.TxCount = len(merged)
	invoked, hashes := invokedEntries(merged)
	ev.InvokedEntries = invoked

	switch {
	case !out.rpcOK && out.indexerTxs == 0:
		ev.Status = model.BehaviorUnavailable
	case len(merged) == 0:
		ev.Status = model.BehaviorOKEmpty
	case len(invoked) == 0:
		ev.Status = model.BehaviorNoActivity
	default:
		ev.Status = model.BehaviorSampled
	}

	var skipped []model.InvokedEntry
	ev.PhantomEntries, skipped = Phantoms(invoked, hashes, req.Pinned, req.IgnoreAddresses)
	if len(skipped) > 0 {
		calls := 0
		for _, e := range skipped {
			calls += e.Count
		}
		ev.Warnings = append(ev.Warnings, fmt.Sprintf("phantom check skipped %d system-module entry point(s), %d invocation(s)", len(skipped), calls))
	}
	ev.OpaqueActive = (req.ABIOpaque && ev.Status == model.BehaviorSampled) || (len(req.Pinned) == 0 && len(invoked) > 0)

	observability.SamplerRunsTotal.WithLabelValues(string(ev.Status)).Inc()
	observability.PhantomEntriesTotal.Add(float64(len(ev.PhantomEntries)))
	s.logger.Debug("behavior sampled", "status", ev.Status, "tx_count", ev.TxCount, "invoked", len(invoked), "phantoms", len(ev.PhantomEntries))
	return ev
}

// sampleAddress walks the ordered source list for one address: preferred
// generation, its no-limit retry on not-found, the other generation, and the
// indexer only once both generations failed.
func (s *Sampler) sampleAddress(ctx context.Context, addr string, limit int, out *outcome) {
	if s.rpc != nil {
		for _, gen := range []ports.Generation{s.opts.Preferred, s.opts.Preferred.Other()} {
			source := "rpc_" + string(gen)
			body, err := s.rpc.AccountTransactions(ctx, gen, addr, limit)
			if errors.IsCode(err, errors.CodeNotFound) {
				out.record(model.SourceAttempt{Address: addr, Source: source, Status: model.AttemptNotFound, Detail: err.Error()})
				source += "_nolimit"
				body, err = s.rpc.AccountTransactions(ctx, gen, addr, 0)
			}
			if s.accept(addr, source, body, err, out) {
				out.rpcOK = true
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	} else {
		out.record(model.SourceAttempt{Address: addr, Source: "rpc", Status: model.AttemptSkipped, Detail: "no rpc source configured"})
	}

	if s.indexer == nil {
		out.record(model.SourceAttempt{Address: addr, Source: SourceIndexer, Status: model.AttemptSkipped, Detail: "no indexer configured"})
		out.details[addr] = "failed"
		return
	}
	body, err := s.indexer.IndexerTransactions(ctx, addr, limit)
	before := len(out.txs)
	if s.accept(addr, SourceIndexer, body, err, out) {
		out.indexerTxs += len(out.txs) - before
		return
	}
	out.details[addr] = "failed"
}

// accept records one attempt and keeps its transactions when it produced a
// decodable envelope.
func (s *Sampler) accept(addr, source string, body []byte, err error, out *outcome) bool {
	if err != nil {
		status := model.AttemptError
		if errors.IsCode(err, errors.CodeNotFound) {
			status = model.AttemptNotFound
		}
		out.record(model.SourceAttempt{Address: addr, Source: source, Status: status, Detail: err.Error()})
		s.logger.Debug("transaction source failed", "address", addr, "source", source, "error", err)
		return false
	}
	env, err := DecodeEnvelope(body)
	if err != nil {
		out.record(model.SourceAttempt{Address: addr, Source: source, Status: model.AttemptDecodeError, Detail: err.Error()})
		return false
	}
	for _, item := range env.Items {
		tx := parseTransaction(item)
		tx.order = out.fetchOrder
		out.fetchOrder++
		out.txs = append(out.txs, tx)
	}
	out.record(model.SourceAttempt{Address: addr, Source: source, Status: model.AttemptOK, Count: len(env.Items), Detail: string(env.Shape)})
	out.details[addr] = source
	out.winning[source] = true
	return true
}

func buildCandidates(req Request) ([]candidate, []string) {
	var raw []candidate
	raw = append(raw, candidate{req.Owner, RoleOwner})
	for _, a := range req.ModuleAddresses {
		raw = append(raw, candidate{a, RoleModule})
	}
	for _, a := range req.RefHolders {
		raw = append(raw, candidate{a, RoleRefHolder})
	}

	var warnings []string
	seen := make(map[string]bool)
	out := make([]candidate, 0, len(raw)+len(req.ProbeAddresses))
	add := func(c candidate) {
		if seen[c.address] {
			return
		}
		seen[c.address] = true
		out = append(out, c)
	}
	for _, c := range raw {
		addr := strings.ToLower(strings.TrimSpace(c.address))
		if addr == "" {
			continue
		}
		if padded := model.PadAddress(addr); model.IsFullAddress(padded) {
			add(candidate{padded, c.role})
			continue
		}
		warnings = append(warnings, fmt.Sprintf("dropped invalid %s address %q", c.role, c.address))
	}
	for _, p := range req.ProbeAddresses {
		addr := strings.ToLower(strings.TrimSpace(p))
		if !model.IsFullAddress(addr) {
			warnings = append(warnings, fmt.Sprintf("dropped invalid probe address %q", p))
			continue
		}
		add(candidate{addr, RoleProbe})
	}
	return out, warnings
}

// mergeTransactions dedupes by hash, orders newest first (timestamp, then
// block height, then fetch order) and truncates.
func mergeTransactions(txs []Transaction, limit int) []Transaction {
	seen := make(map[string]bool, len(txs))
	out := make([]Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Hash != "" {
			if seen[tx.Hash] {
				continue
			}
			seen[tx.Hash] = true
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.HasTimestamp != b.HasTimestamp {
			return a.HasTimestamp
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		if a.HasHeight != b.HasHeight {
			return a.HasHeight
		}
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.order < b.order
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// invokedEntries dedupes by canonical function id, keeping the newest
// transaction as representative and every hash for phantom reporting.
func invokedEntries(txs []Transaction) ([]model.InvokedEntry, map[string][]string) {
	entries := []model.InvokedEntry{}
	index := make(map[string]int)
	hashes := make(map[string][]string)
	for _, tx := range txs {
		for _, id := range tx.Functions {
			addr, mod, fn, _ := model.SplitFunctionID(id)
			key := model.CanonicalModuleID(addr, mod) + "::" + fn
			if tx.Hash != "" {
				hashes[key] = append(hashes[key], tx.Hash)
			}
			if i, ok := index[key]; ok {
				entries[i].Count++
				continue
			}
			index[key] = len(entries)
			entries = append(entries, model.InvokedEntry{
				Module:     model.ModuleID(addr, mod),
				Function:   fn,
				FunctionID: id,
				TxHash:     tx.Hash,
				Timestamp:  tx.Timestamp,
				Count:      1,
			})
		}
	}
	return entries, hashes
}

// Phantoms returns invoked entries missing from the pinned surface. A module
// with no pinned entry contributes all of its invoked functions. Entries at
// ignored addresses are returned separately as skipped.
func Phantoms(invoked []model.InvokedEntry, hashes map[string][]string, pinned map[string][]string, ignore []string) (phantoms []model.PhantomEntry, skipped []model.InvokedEntry) {
	surface := make(map[string]map[string]bool, len(pinned))
	for id, fns := range pinned {
		addr, mod, ok := model.SplitModuleID(id)
		if !ok {
			continue
		}
		set := make(map[string]bool, len(fns))
		for _, fn := range fns {
			set[fn] = true
		}
		surface[model.CanonicalModuleID(addr, mod)] = set
	}
	ignored := make(map[string]bool, len(ignore))
	for _, a := range ignore {
		ignored[model.CanonicalAddress(a)] = true
	}

	out := []model.PhantomEntry{}
	for _, e := range invoked {
		addr, mod, ok := model.SplitModuleID(e.Module)
		if !ok {
			continue
		}
		if ignored[model.CanonicalAddress(addr)] {
			skipped = append(skipped, e)
			continue
		}
		canon := model.CanonicalModuleID(addr, mod)
		key := canon + "::" + e.Function
		fns, pinnedModule := surface[canon]
		var reason string
		switch {
		case !pinnedModule:
			reason = "module has no pinned surface"
		case !fns[e.Function]:
			reason = "function not in pinned surface"
		default:
			continue
		}
		txHashes := append([]string{}, hashes[key]...)
		out = append(out, model.PhantomEntry{
			Module:     e.Module,
			Function:   e.Function,
			FunctionID: e.FunctionID,
			TxHashes:   txHashes,
			Reason:     reason,
		})
	}
	return out, skipped
}

func sourceLabel(winning map[string]bool) string {
	switch len(winning) {
	case 0:
		return "none"
	case 1:
		for s := range winning {
			return s
		}
	}
	return "mixed"
}
