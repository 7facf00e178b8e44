package ports

import (
	"context"
	"supravault/internal/engine/model"
)

// Generation selects an RPC API version.
type Generation string

const (
	GenerationV1 Generation = "v1"
	GenerationV2 Generation = "v2"
)

// Other returns the generation tried when this one fails.
func (g Generation) Other() Generation {
	if g == GenerationV1 {
		return GenerationV2
	}
	return GenerationV1
}

// ModuleLister returns the module names published under an account.
type ModuleLister interface {
	ListModules(ctx context.Context, address string) (model.ModuleListing, error)
	Tag() string
}

// ArtifactFetcher returns one module's bytecode and/or ABI. The returned
// artifact's Name is the name the chain declares, which may differ from the
// name asked for, and is empty when no declaration came back.
type ArtifactFetcher interface {
	FetchModule(ctx context.Context, address, name string) (model.ModuleArtifact, error)
}

// ResourceReader lists resources stored under an account or object address.
type ResourceReader interface {
	ListResources(ctx context.Context, address string) ([]model.Resource, error)
}

// TransactionSource returns the raw body of an account-transactions call.
// A zero limit omits the limit parameter. Missing accounts or routes must be
// reported with errors.CodeNotFound.
type TransactionSource interface {
	AccountTransactions(ctx context.Context, gen Generation, address string, limit int) ([]byte, error)
}

// TransactionIndexer is the third-party fallback used only when every RPC
// generation failed for an address.
type TransactionIndexer interface {
	IndexerTransactions(ctx context.Context, address string, limit int) ([]byte, error)
}

// ParityIndexer reports an independent view of an asset for cross-checking.
type ParityIndexer interface {
	AssetFacts(ctx context.Context, kind model.AssetKind, assetID string) (model.IndexerFacts, error)
}

// SnapshotRecord is a persisted snapshot with its exact emitted bytes.
type SnapshotRecord struct {
	IdentityKey string
	ScanID      string
	CapturedAt  string
	Aggregate   string
	Payload     []byte
}

// SnapshotStore persists snapshots and diffs per asset identity.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, rec SnapshotRecord) error
	LatestSnapshots(ctx context.Context, identityKey string, n int) ([]SnapshotRecord, error)
	SaveDiff(ctx context.Context, identityKey string, diff model.DiffResult, risk model.RiskSynthesis) error
}
