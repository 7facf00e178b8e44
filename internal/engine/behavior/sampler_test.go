package behavior

import (
	"context"
	"fmt"
	"strings"
	"supravault/internal/core/errors"
	"supravault/internal/core/ports"
	"supravault/internal/engine/model"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addr(n int) string {
	return model.PadAddress(fmt.Sprintf("0x%x", n))
}

type call struct {
	gen   ports.Generation
	addr  string
	limit int
}

type reply struct {
	body string
	err  error
}

type fakeRPC struct {
	replies map[string]reply
	calls   []call
}

func key(gen ports.Generation, address string, limited bool) string {
	return fmt.Sprintf("%s|%s|%v", gen, address, limited)
}

func (f *fakeRPC) AccountTransactions(_ context.Context, gen ports.Generation, address string, limit int) ([]byte, error) {
	f.calls = append(f.calls, call{gen, address, limit})
	r, ok := f.replies[key(gen, address, limit > 0)]
	if !ok {
		return nil, errors.New(errors.CodeUpstream, "503 service unavailable")
	}
	return []byte(r.body), r.err
}

type fakeIndexer struct {
	body  string
	err   error
	calls int
}

func (f *fakeIndexer) IndexerTransactions(context.Context, string, int) ([]byte, error) {
	f.calls++
	return []byte(f.body), f.err
}

func notFound() error { return errors.New(errors.CodeNotFound, "404") }

func TestSampleRejectsInvalidProbes(t *testing.T) {
	s := NewSampler(&fakeRPC{}, nil, Options{})
	ev := s.Sample(context.Background(), Request{ProbeAddresses: []string{"0xZZ"}})

	assert.Equal(t, model.BehaviorError, ev.Status)
	require.NotEmpty(t, ev.Warnings)
	assert.Contains(t, ev.Warnings[0], `"0xZZ"`)
	assert.Empty(t, ev.AttemptedSources, "no network call without a valid address")
}

func TestSampleInvalidProbeDroppedOthersProceed(t *testing.T) {
	owner := addr(0xaa)
	rpc := &fakeRPC{replies: map[string]reply{
		key(ports.GenerationV2, owner, true): {body: `[]`},
	}}
	ev := NewSampler(rpc, nil, Options{}).Sample(context.Background(), Request{Owner: owner, ProbeAddresses: []string{"0xZZ"}})

	assert.Equal(t, model.BehaviorOKEmpty, ev.Status)
	assert.Len(t, ev.Warnings, 1)
	assert.Equal(t, []string{owner}, ev.SampledAddresses)
}

func TestSampleNotFoundRetriesWithoutLimitThenOtherGeneration(t *testing.T) {
	owner := addr(0xaa)
	rpc := &fakeRPC{replies: map[string]reply{
		key(ports.GenerationV2, owner, true):  {err: notFound()},
		key(ports.GenerationV2, owner, false): {err: notFound()},
		key(ports.GenerationV1, owner, true):  {body: `{"record":[{"hash":"0x1","timestamp":"10","payload":{"function":"0x1::coin::transfer"}}]}`},
	}}
	ev := NewSampler(rpc, nil, Options{Preferred: ports.GenerationV2}).Sample(context.Background(), Request{Owner: owner})

	require.Len(t, rpc.calls, 3)
	assert.Equal(t, call{ports.GenerationV2, owner, DefaultLimit}, rpc.calls[0])
	assert.Equal(t, call{ports.GenerationV2, owner, 0}, rpc.calls[1])
	assert.Equal(t, call{ports.GenerationV1, owner, DefaultLimit}, rpc.calls[2])

	sources := make([]string, 0, len(ev.AttemptedSources))
	for _, a := range ev.AttemptedSources {
		sources = append(sources, a.Source+"="+a.Status)
	}
	assert.Equal(t, []string{"rpc_v2=not_found", "rpc_v2_nolimit=not_found", "rpc_v1=ok"}, sources)
	assert.Equal(t, "rpc_v1", ev.Source)
	assert.Equal(t, "rpc_v1", ev.SourceDetails[owner])
	assert.Equal(t, model.BehaviorSampled, ev.Status)
}

func TestSampleIndexerOnlyAfterBothGenerationsFail(t *testing.T) {
	owner := addr(0xaa)
	idx := &fakeIndexer{body: `{"data":{"account_transactions":[{"hash":"0x5","transaction_version":"7","entry_function_id_str":"0xA::m::withdraw"}]}}`}
	ev := NewSampler(&fakeRPC{}, idx, Options{}).Sample(context.Background(), Request{Owner: owner})

	assert.Equal(t, 1, idx.calls)
	assert.Equal(t, model.BehaviorSampled, ev.Status)
	assert.Equal(t, SourceIndexer, ev.Source)
	assert.Equal(t, 1, ev.TxCount)
}

func TestSampleUnavailableWhenEverythingFails(t *testing.T) {
	idx := &fakeIndexer{body: `[]`}
	ev := NewSampler(&fakeRPC{}, idx, Options{}).Sample(context.Background(), Request{Owner: addr(1), RefHolders: []string{addr(2)}})

	assert.Equal(t, model.BehaviorUnavailable, ev.Status)
	assert.Equal(t, 2, idx.calls)
	last := ev.AttemptedSources[len(ev.AttemptedSources)-1]
	assert.Equal(t, SourceIndexer, last.Source)
	assert.Equal(t, 0, last.Count)
}

func TestSampleDecodeErrorIsNoData(t *testing.T) {
	owner := addr(0xaa)
	rpc := &fakeRPC{replies: map[string]reply{
		key(ports.GenerationV2, owner, true): {body: `{"weird":true}`},
		key(ports.GenerationV1, owner, true): {body: `[{"hash":"0x1","timestamp":"1"}]`},
	}}
	ev := NewSampler(rpc, nil, Options{}).Sample(context.Background(), Request{Owner: owner})

	assert.Equal(t, model.AttemptDecodeError, ev.AttemptedSources[0].Status)
	assert.Equal(t, model.BehaviorNoActivity, ev.Status, "transactions without extractable function")
}

func TestSampleMergeOrderAndTruncation(t *testing.T) {
	owner, hook := addr(0xaa), addr(0xbb)
	rpc := &fakeRPC{replies: map[string]reply{
		key(ports.GenerationV2, owner, true): {body: `[
			{"hash":"0xo1","timestamp":"100","payload":{"function":"0xA::m::a"}},
			{"hash":"0xo2","timestamp":"300","payload":{"function":"0xA::m::b"}},
			{"hash":"0xtie1","timestamp":"200","block_height":5,"payload":{"function":"0xA::m::c"}}
		]`},
		key(ports.GenerationV2, hook, true): {body: `[
			{"hash":"0xtie2","timestamp":"200","block_height":9,"payload":{"function":"0xA::m::d"}},
			{"hash":"0xo2","timestamp":"300","payload":{"function":"0xA::m::b"}},
			{"hash":"0xnots","payload":{"function":"0xA::m::e"}}
		]`},
	}}
	ev := NewSampler(rpc, nil, Options{}).Sample(context.Background(), Request{Owner: owner, ModuleAddresses: []string{hook}, Limit: 4})

	require.Equal(t, 4, ev.TxCount)
	var order []string
	for _, e := range ev.InvokedEntries {
		order = append(order, e.Function)
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, order)
	assert.Equal(t, "rpc_v2", ev.Source)
}

func TestPhantomDetection(t *testing.T) {
	owner := addr(0xaa)
	rpc := &fakeRPC{replies: map[string]reply{
		key(ports.GenerationV2, owner, true): {body: `[
			{"hash":"0x1","timestamp":"3","payload":{"function":"0xA::m::withdraw"}},
			{"hash":"0x2","timestamp":"2","payload":{"function":"0xA::m::swap"}},
			{"hash":"0x3","timestamp":"1","payload":{"function":"0xa::m::withdraw"}},
			{"hash":"0x4","timestamp":"0","payload":{"function":"0x1::coin::transfer"}}
		]`},
	}}
	ev := NewSampler(rpc, nil, Options{}).Sample(context.Background(), Request{
		Owner:           owner,
		Pinned:          map[string][]string{"0xA::m": {"swap"}},
		IgnoreAddresses: []string{"0x1"},
	})

	require.Len(t, ev.PhantomEntries, 1)
	p := ev.PhantomEntries[0]
	assert.Equal(t, "0xA::m", p.Module)
	assert.Equal(t, "withdraw", p.Function)
	assert.Equal(t, []string{"0x1", "0x3"}, p.TxHashes)
	assert.False(t, ev.OpaqueActive)
	assert.Contains(t, ev.Warnings, "phantom check skipped 1 system-module entry point(s), 1 invocation(s)")

	withdraw := ev.InvokedEntries[0]
	assert.Equal(t, 2, withdraw.Count)
	assert.Equal(t, "0x1", withdraw.TxHash)
}

func TestPhantomsForUnpinnedModule(t *testing.T) {
	invoked := []model.InvokedEntry{{Module: "0xB::x", Function: "f", FunctionID: "0xB::x::f"}}
	got, skipped := Phantoms(invoked, map[string][]string{"0xb::x::f": {"0xh"}}, map[string][]string{"0xA::m": {"swap"}}, nil)
	assert.Empty(t, skipped)
	require.Len(t, got, 1)
	assert.True(t, strings.Contains(got[0].Reason, "no pinned surface"))
	assert.Equal(t, []string{"0xh"}, got[0].TxHashes)
}

func TestPhantomsReportsIgnoredEntries(t *testing.T) {
	invoked := []model.InvokedEntry{
		{Module: "0x1::coin", Function: "transfer", FunctionID: "0x1::coin::transfer", Count: 3},
		{Module: "0x0001::coin", Function: "register", FunctionID: "0x0001::coin::register", Count: 1},
		{Module: "0xB::x", Function: "f", FunctionID: "0xB::x::f", Count: 1},
	}
	got, skipped := Phantoms(invoked, nil, map[string][]string{"0xB::x": {"f"}}, []string{"0x1"})
	assert.Empty(t, got)
	require.Len(t, skipped, 2)
	assert.Equal(t, "transfer", skipped[0].Function)
	assert.Equal(t, "register", skipped[1].Function)
}

func TestOpaqueActive(t *testing.T) {
	owner := addr(0xaa)
	body := `[{"hash":"0x1","timestamp":"1","payload":{"function":"0xA::m::f"}}]`
	rpc := &fakeRPC{replies: map[string]reply{key(ports.GenerationV2, owner, true): {body: body}}}

	ev := NewSampler(rpc, nil, Options{}).Sample(context.Background(), Request{Owner: owner})
	assert.True(t, ev.OpaqueActive, "no pinned surface yet activity observed")

	ev = NewSampler(rpc, nil, Options{}).Sample(context.Background(), Request{
		Owner:     owner,
		Pinned:    map[string][]string{"0xA::m": {"f"}},
		ABIOpaque: true,
	})
	assert.True(t, ev.OpaqueActive)
}

func TestSampleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rpc := &fakeRPC{}
	ev := NewSampler(rpc, nil, Options{}).Sample(ctx, Request{Owner: addr(1)})

	assert.Empty(t, rpc.calls)
	assert.Contains(t, ev.Warnings, "sampling cancelled")
	assert.Equal(t, model.BehaviorUnavailable, ev.Status)
}
