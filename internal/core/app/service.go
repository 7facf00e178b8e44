package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"supravault/internal/core/contracts"
	"supravault/internal/core/errors"
	"supravault/internal/core/ports"
	"supravault/internal/data/history"
	"supravault/internal/engine/diff"
	"supravault/internal/engine/model"
	"supravault/internal/engine/risk"
	"supravault/internal/engine/snapshot"
	"supravault/internal/shared/observability"
	"supravault/internal/shared/util"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ScanRequest struct {
	Kind           model.AssetKind
	AssetID        string
	SampleBehavior bool
	ProbeAddresses []string
	SampleLimit    int
	// Persist stores the emitted bytes when a history store is wired.
	Persist bool
}

type ScanResult struct {
	Snapshot  *model.Snapshot
	Payload   []byte
	Risk      model.RiskSynthesis
	Persisted bool
}

type DiffReport struct {
	Diff model.DiffResult    `json:"diff"`
	Risk model.RiskSynthesis `json:"risk"`
}

type ScanAndDiffResult struct {
	Scan     ScanResult
	Previous *model.Snapshot
	Report   DiffReport
}

// EncodeSnapshot is the one serialization used for output and storage, so
// stored bytes equal emitted bytes.
func EncodeSnapshot(s *model.Snapshot) ([]byte, error) {
	if s == nil {
		return nil, errors.New(errors.CodeValidationError, "snapshot is required")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "encode snapshot")
	}
	return append(data, '\n'), nil
}

func DecodeSnapshot(data []byte) (*model.Snapshot, error) {
	var s model.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.CodeDecode, "decode snapshot")
	}
	if strings.TrimSpace(s.Identity.AssetID) == "" {
		return nil, errors.New(errors.CodeDecode, "snapshot has no identity")
	}
	return &s, nil
}

func (a *App) Scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	ctx, span := observability.Tracer.Start(ctx, "app.Scan", trace.WithAttributes(
		attribute.String("asset.kind", string(req.Kind)),
		attribute.String("asset.id", req.AssetID),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return ScanResult{}, err
	}

	probes := req.ProbeAddresses
	if req.SampleBehavior && a.Config.Sampler.ProbeAddressesFile != "" {
		extra, err := util.ReadAddressList(a.Config.Sampler.ProbeAddressesFile)
		if err != nil {
			return ScanResult{}, errors.AddContext(
				errors.Wrap(err, errors.CodeValidationError, "read probe address file"),
				errors.CtxOperation, "probe_addresses",
			)
		}
		probes = util.DedupeStrings(append(append([]string(nil), probes...), extra...))
	}

	snap, err := a.assembler.Assemble(ctx, snapshot.Request{
		Kind:           req.Kind,
		AssetID:        req.AssetID,
		SampleBehavior: req.SampleBehavior,
		ProbeAddresses: probes,
		SampleLimit:    req.SampleLimit,
	})
	if err != nil {
		return ScanResult{}, err
	}
	if snap.Behavior != nil {
		if err := contracts.ValidateBehavior(*snap.Behavior); err != nil {
			return ScanResult{}, err
		}
	}

	payload, err := EncodeSnapshot(snap)
	if err != nil {
		return ScanResult{}, err
	}
	verdict := risk.Synthesize(risk.Input{Snapshot: snap})
	if err := contracts.ValidateRisk(verdict); err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{Snapshot: snap, Payload: payload, Risk: verdict}
	if req.Persist && a.store != nil {
		if err := a.persist(ctx, snap, payload); err != nil {
			return res, err
		}
		res.Persisted = true
	}
	a.Logger.Info("scan complete",
		"asset", snap.Identity.Key(),
		"scan_id", snap.Meta.ScanID,
		"coverage", snap.Coverage.Status,
		"risk", verdict.RiskLevel,
	)
	return res, nil
}

func (a *App) persist(ctx context.Context, snap *model.Snapshot, payload []byte) error {
	rec := ports.SnapshotRecord{
		IdentityKey: snap.Identity.Key(),
		ScanID:      snap.Meta.ScanID,
		CapturedAt:  snap.Meta.CapturedAt.UTC().Format(time.RFC3339Nano),
		Aggregate:   snap.Hashes.Aggregate,
		Payload:     payload,
	}
	if err := a.store.SaveSnapshot(ctx, rec); err != nil {
		return errors.AddContext(errors.Wrap(err, errors.CodeInternal, "save snapshot"), errors.CtxOperation, "persist")
	}
	return nil
}

// Diff compares two snapshots and synthesizes a verdict for cur in light of
// the change set.
func (a *App) Diff(ctx context.Context, prev, cur *model.Snapshot) (DiffReport, error) {
	_, span := observability.Tracer.Start(ctx, "app.Diff")
	defer span.End()

	res, err := diff.Run(prev, cur)
	if err != nil {
		return DiffReport{}, err
	}
	verdict := risk.Synthesize(risk.Input{Snapshot: cur, Diff: &res})
	if err := contracts.ValidateRisk(verdict); err != nil {
		return DiffReport{}, err
	}
	return DiffReport{Diff: res, Risk: verdict}, nil
}

// DiffPayloads decodes two emitted snapshots and diffs them.
func (a *App) DiffPayloads(ctx context.Context, prevRaw, curRaw []byte) (DiffReport, error) {
	prev, err := DecodeSnapshot(prevRaw)
	if err != nil {
		return DiffReport{}, errors.AddContext(err, errors.CtxOperation, "previous")
	}
	cur, err := DecodeSnapshot(curRaw)
	if err != nil {
		return DiffReport{}, errors.AddContext(err, errors.CtxOperation, "current")
	}
	return a.Diff(ctx, prev, cur)
}

// ScanAndDiff scans, compares against the newest stored snapshot for the same
// asset, then stores both the snapshot and the diff. The first scan of an
// asset yields an empty diff.
func (a *App) ScanAndDiff(ctx context.Context, req ScanRequest) (ScanAndDiffResult, error) {
	if a.store == nil {
		return ScanAndDiffResult{}, errors.New(errors.CodeValidationError, "scan-and-diff requires a history store (db.enabled)")
	}
	req.Persist = false
	scan, err := a.Scan(ctx, req)
	if err != nil {
		return ScanAndDiffResult{}, err
	}
	key := scan.Snapshot.Identity.Key()

	var prev *model.Snapshot
	latest, err := a.store.LatestSnapshots(ctx, key, 1)
	if err != nil {
		return ScanAndDiffResult{}, errors.Wrap(err, errors.CodeInternal, "load previous snapshot")
	}
	if len(latest) > 0 {
		prev, err = DecodeSnapshot(latest[0].Payload)
		if err != nil {
			a.Logger.Warn("stored snapshot unreadable, diffing against nothing", "asset", key, "scan_id", latest[0].ScanID, "error", err)
			prev = nil
		}
	}

	if err := a.persist(ctx, scan.Snapshot, scan.Payload); err != nil {
		return ScanAndDiffResult{}, err
	}
	scan.Persisted = true

	report, err := a.Diff(ctx, prev, scan.Snapshot)
	if err != nil {
		return ScanAndDiffResult{}, err
	}
	if err := a.store.SaveDiff(ctx, key, report.Diff, report.Risk); err != nil {
		return ScanAndDiffResult{}, errors.Wrap(err, errors.CodeInternal, "save diff")
	}
	return ScanAndDiffResult{Scan: scan, Previous: prev, Report: report}, nil
}

type diffLister interface {
	ListDiffs(ctx context.Context, identityKey string, limit int) ([]history.DiffRecord, error)
}

// History returns stored diffs for an asset, newest first.
func (a *App) History(ctx context.Context, kind model.AssetKind, assetID string, limit int) ([]history.DiffRecord, error) {
	lister, ok := a.store.(diffLister)
	if !ok || a.store == nil {
		return nil, errors.New(errors.CodeValidationError, "history requires a history store (db.enabled)")
	}
	if err := snapshot.Validate(snapshot.Request{Kind: kind, AssetID: assetID}); err != nil {
		return nil, err
	}
	key := model.Identity{Kind: kind, AssetID: assetID}.Key()
	records, err := lister.ListDiffs(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("list diffs for %s: %w", key, err)
	}
	return records, nil
}
