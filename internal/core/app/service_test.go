package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"supravault/internal/core/config"
	"supravault/internal/core/errors"
	"supravault/internal/core/ports"
	"supravault/internal/data/history"
	"supravault/internal/engine/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResources struct{ byAddr map[string][]model.Resource }

func (f *fakeResources) ListResources(_ context.Context, address string) ([]model.Resource, error) {
	res, ok := f.byAddr[address]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "account not found")
	}
	return res, nil
}

type fakeLister struct{ names map[string][]string }

func (f *fakeLister) ListModules(_ context.Context, address string) (model.ModuleListing, error) {
	return model.ModuleListing{Address: address, Names: f.names[address], Source: "rpc_v2"}, nil
}

func (f *fakeLister) Tag() string { return "rpc_v2" }

type fakeFetcher struct{ artifacts map[string]model.ModuleArtifact }

func (f *fakeFetcher) FetchModule(_ context.Context, address, name string) (model.ModuleArtifact, error) {
	art, ok := f.artifacts[address+"::"+name]
	if !ok {
		return model.ModuleArtifact{}, errors.New(errors.CodeNotFound, "module not found")
	}
	return art, nil
}

type fakeRPC struct{ bodies map[string]string }

func (f *fakeRPC) AccountTransactions(_ context.Context, _ ports.Generation, address string, _ int) ([]byte, error) {
	body, ok := f.bodies[address]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "404")
	}
	return []byte(body), nil
}

func resource(t *testing.T, typ string, data any) model.Resource {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return model.Resource{Type: typ, Data: raw}
}

func supplyResource(t *testing.T, current string) model.Resource {
	return resource(t, "0x1::fungible_asset::ConcurrentSupply", map[string]any{"current": map[string]any{"value": current, "max_value": "5000"}})
}

type fixture struct {
	resources *fakeResources
	rpc       *fakeRPC
	deps      Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	resources := &fakeResources{byAddr: map[string][]model.Resource{
		"0xa11ce": {
			resource(t, "0x1::object::ObjectCore", map[string]any{"owner": "0xb0b"}),
			resource(t, "0x1::fungible_asset::Metadata", map[string]any{"name": "Token", "symbol": "TKN", "decimals": 8}),
			supplyResource(t, "1000"),
		},
		"0xb0b": {
			resource(t, "0xb0b::token::Refs", map[string]any{"mint_ref": map[string]any{"metadata": "0xa11ce"}}),
		},
	}}
	fetcher := &fakeFetcher{artifacts: map[string]model.ModuleArtifact{
		"0xb0b::token": {
			Address:  "0xb0b",
			Name:     "token",
			Bytecode: []byte{0xa1, 0x1c, 0xe0},
			Functions: []model.ABIFunction{
				{Name: "mint", Visibility: "public"},
				{Name: "transfer", IsEntry: true},
			},
		},
	}}
	rpc := &fakeRPC{bodies: map[string]string{}}
	return &fixture{
		resources: resources,
		rpc:       rpc,
		deps: Deps{
			Resources:    resources,
			Primary:      &fakeLister{names: map[string][]string{"0xb0b": {"token"}}},
			Fetcher:      fetcher,
			Transactions: rpc,
		},
	}
}

func newTestApp(t *testing.T, f *fixture, withStore bool) (*App, *history.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	var store *history.Store
	if withStore {
		var err error
		store, err = history.Open(filepath.Join(t.TempDir(), "history.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		f.deps.Store = store
	}
	a, err := NewWithDeps(cfg, nil, f.deps)
	require.NoError(t, err)
	return a, store
}

func TestScanProducesPayloadAndVerdict(t *testing.T) {
	f := newFixture(t)
	a, store := newTestApp(t, f, true)
	ctx := context.Background()

	res, err := a.Scan(ctx, ScanRequest{Kind: model.KindFA, AssetID: "0xa11ce", Persist: true})
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	assert.True(t, res.Persisted)
	assert.NotEmpty(t, res.Risk.RiskLevel)
	assert.Len(t, res.Risk.Rationale, len(res.Risk.Signals))

	decoded, err := DecodeSnapshot(res.Payload)
	require.NoError(t, err)
	assert.Equal(t, res.Snapshot.Identity.Key(), decoded.Identity.Key())

	stored, err := store.LatestSnapshots(ctx, res.Snapshot.Identity.Key(), 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, string(res.Payload), string(stored[0].Payload))
	assert.Equal(t, res.Snapshot.Hashes.Aggregate, stored[0].Aggregate)
}

func TestScanRejectsInvalidAsset(t *testing.T) {
	a, _ := newTestApp(t, newFixture(t), false)
	_, err := a.Scan(context.Background(), ScanRequest{Kind: model.KindFA, AssetID: "not-hex"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestScanWithoutStoreDoesNotPersist(t *testing.T) {
	a, _ := newTestApp(t, newFixture(t), false)
	res, err := a.Scan(context.Background(), ScanRequest{Kind: model.KindFA, AssetID: "0xa11ce", Persist: true})
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.False(t, a.HasStore())
}

func TestScanMergesProbeAddressFile(t *testing.T) {
	f := newFixture(t)
	probe := model.PadAddress("0xc0ffee")
	f.rpc.bodies[probe] = `[{"hash":"0x9","timestamp":"5","payload":{"function":"0xb0b::token::transfer"}}]`

	path := filepath.Join(t.TempDir(), "probes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- "+probe+"\n"), 0o644))

	a, _ := newTestApp(t, f, false)
	a.Config.Sampler.ProbeAddressesFile = path

	res, err := a.Scan(context.Background(), ScanRequest{Kind: model.KindFA, AssetID: "0xa11ce", SampleBehavior: true})
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot.Behavior)
	assert.Contains(t, res.Snapshot.Behavior.SampledAddresses, probe)
	assert.Equal(t, 1, res.Snapshot.Behavior.TxCount)
}

func TestScanProbeFileMissing(t *testing.T) {
	a, _ := newTestApp(t, newFixture(t), false)
	a.Config.Sampler.ProbeAddressesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := a.Scan(context.Background(), ScanRequest{Kind: model.KindFA, AssetID: "0xa11ce", SampleBehavior: true})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestScanAndDiffTracksChanges(t *testing.T) {
	f := newFixture(t)
	a, _ := newTestApp(t, f, true)
	ctx := context.Background()
	req := ScanRequest{Kind: model.KindFA, AssetID: "0xa11ce"}

	first, err := a.ScanAndDiff(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, first.Previous)
	assert.False(t, first.Report.Diff.Changed)
	assert.Empty(t, first.Report.Diff.Changes)

	f.resources.byAddr["0xa11ce"][2] = supplyResource(t, "1500")

	second, err := a.ScanAndDiff(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, second.Previous)
	assert.True(t, second.Report.Diff.Changed)
	assert.True(t, second.Report.Diff.Has(model.ChangeSupply))
	assert.Equal(t, first.Scan.Snapshot.Meta.ScanID, second.Report.Diff.PreviousScanID)

	records, err := a.History(ctx, model.KindFA, "0xa11ce", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Changed)
	assert.False(t, records[1].Changed)
}

func TestScanAndDiffRequiresStore(t *testing.T) {
	a, _ := newTestApp(t, newFixture(t), false)
	_, err := a.ScanAndDiff(context.Background(), ScanRequest{Kind: model.KindFA, AssetID: "0xa11ce"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))

	_, err = a.History(context.Background(), model.KindFA, "0xa11ce", 5)
	assert.Error(t, err)
}

func TestDiffPayloads(t *testing.T) {
	f := newFixture(t)
	a, _ := newTestApp(t, f, false)
	ctx := context.Background()

	before, err := a.Scan(ctx, ScanRequest{Kind: model.KindFA, AssetID: "0xa11ce"})
	require.NoError(t, err)
	f.resources.byAddr["0xa11ce"][2] = supplyResource(t, "900")
	after, err := a.Scan(ctx, ScanRequest{Kind: model.KindFA, AssetID: "0xa11ce"})
	require.NoError(t, err)

	report, err := a.DiffPayloads(ctx, before.Payload, after.Payload)
	require.NoError(t, err)
	item, ok := report.Diff.Find(model.ChangeSupply)
	require.True(t, ok)
	assert.Equal(t, model.ChangeInfo, item.Severity)

	self, err := a.DiffPayloads(ctx, after.Payload, after.Payload)
	require.NoError(t, err)
	assert.False(t, self.Diff.Changed)
}

func TestDiffPayloadsErrors(t *testing.T) {
	a, _ := newTestApp(t, newFixture(t), false)
	ctx := context.Background()

	_, err := a.DiffPayloads(ctx, []byte("{"), []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDecode))

	fa := `{"identity":{"kind":"fa","asset_id":"0xa"}}`
	coin := `{"identity":{"kind":"coin","asset_id":"0x1::c::T"}}`
	_, err = a.DiffPayloads(ctx, []byte(fa), []byte(coin))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestEncodeSnapshotIsStable(t *testing.T) {
	snap := &model.Snapshot{Identity: model.Identity{Kind: model.KindFA, AssetID: "0xa"}}
	a, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	b, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(string(a), "\n"))

	_, err = EncodeSnapshot(nil)
	assert.Error(t, err)
}

func TestNewWithDepsValidates(t *testing.T) {
	_, err := NewWithDeps(config.DefaultConfig(), nil, Deps{})
	assert.Error(t, err)
	_, err = NewWithDeps(nil, nil, newFixture(t).deps)
	assert.Error(t, err)
}
