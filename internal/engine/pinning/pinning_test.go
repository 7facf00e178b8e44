package pinning

import (
	"context"
	"supravault/internal/core/errors"
	"supravault/internal/engine/model"
	"sync"
	"testing"
)

type stubFetcher struct {
	mu        sync.Mutex
	artifacts map[string]model.ModuleArtifact
	calls     int
}

func (s *stubFetcher) FetchModule(_ context.Context, address, name string) (model.ModuleArtifact, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	art, ok := s.artifacts[address+"::"+name]
	if !ok {
		return model.ModuleArtifact{}, errors.New(errors.CodeUpstream, "unreachable")
	}
	return art, nil
}

func TestPinBasisPreferenceAndFailure(t *testing.T) {
	fetcher := &stubFetcher{artifacts: map[string]model.ModuleArtifact{
		"0xa::code": {Name: "code", Bytecode: []byte{0xa1, 0x1c}, ABI: []byte(`{"name":"code"}`), FetchedFrom: "rpc_v2"},
		"0xa::abi":  {Name: "abi", ABI: []byte(`{"b":1,"a":2}`), FetchedFrom: "rpc_v1"},
		"0xa::bare": {Name: "bare", FetchedFrom: "rpc_v2"},
	}}
	p := NewPinner(fetcher, 2, nil)

	res := p.Pin(context.Background(), []model.ModuleRef{
		{Address: "0xA", Name: "code", Role: model.RoleHook},
		{Address: "0xa", Name: "abi", Role: model.RoleOwner},
		{Address: "0xa", Name: "bare"},
		{Address: "0xa", Name: "gone"},
		{Address: "0x000a", Name: "code"},
		{Address: "0xa", Name: ""},
	})

	if len(res.Hashes.Pins) != 4 {
		t.Fatalf("expected one pin per distinct named module, got %d", len(res.Hashes.Pins))
	}
	if fetcher.calls != 4 {
		t.Fatalf("expected 4 fetches, got %d", fetcher.calls)
	}
	wantBasis := map[string]model.HashBasis{
		"0xa::abi":  model.BasisABI,
		"0xa::bare": model.BasisNone,
		"0xa::code": model.BasisBytecode,
		"0xa::gone": model.BasisNone,
	}
	for i, pin := range res.Hashes.Pins {
		if i > 0 && res.Hashes.Pins[i-1].ModuleID > pin.ModuleID {
			t.Fatalf("pins not sorted by module id: %v", res.Hashes.Pins)
		}
		if pin.HashBasis != wantBasis[pin.ModuleID] {
			t.Fatalf("%s: basis %s, want %s", pin.ModuleID, pin.HashBasis, wantBasis[pin.ModuleID])
		}
		if (pin.HashBasis == model.BasisNone) != (pin.CodeHash == nil) {
			t.Fatalf("%s: null hash must coincide with basis none", pin.ModuleID)
		}
	}
	gone, _ := res.Hashes.PinByID("0xa::gone")
	if gone.FetchedFrom != "none" {
		t.Fatalf("failed fetch should report fetched_from none, got %q", gone.FetchedFrom)
	}
	if _, ok := res.Failures["0xa::gone"]; !ok {
		t.Fatal("expected failure recorded for 0xa::gone")
	}
	if _, ok := res.Artifacts["0xa::code"]; !ok {
		t.Fatal("expected artifact kept for surface analysis")
	}
}

func TestABIHashIgnoresKeyOrder(t *testing.T) {
	a, basisA := CodeHash(model.ModuleArtifact{ABI: []byte(`{"b":1,"a":[1,2]}`)})
	b, basisB := CodeHash(model.ModuleArtifact{ABI: []byte(`{ "a":[1,2], "b":1 }`)})
	if basisA != model.BasisABI || basisB != model.BasisABI {
		t.Fatal("expected abi basis")
	}
	if *a != *b {
		t.Fatalf("expected equal hashes for equivalent ABI text")
	}
}

func TestAggregateIndependentOfOrderAndConcurrency(t *testing.T) {
	arts := map[string]model.ModuleArtifact{}
	var refs []model.ModuleRef
	for _, n := range []string{"m1", "m2", "m3", "m4", "m5"} {
		arts["0xb::"+n] = model.ModuleArtifact{Name: n, Bytecode: []byte(n)}
		refs = append(refs, model.ModuleRef{Address: "0xb", Name: n})
	}
	serial := NewPinner(&stubFetcher{artifacts: arts}, 1, nil).Pin(context.Background(), refs)

	reversed := make([]model.ModuleRef, len(refs))
	for i := range refs {
		reversed[len(refs)-1-i] = refs[i]
	}
	parallel := NewPinner(&stubFetcher{artifacts: arts}, 4, nil).Pin(context.Background(), reversed)

	if serial.Hashes.Aggregate != parallel.Hashes.Aggregate {
		t.Fatalf("aggregate differs: %s vs %s", serial.Hashes.Aggregate, parallel.Hashes.Aggregate)
	}
	if Aggregate(nil) == "" {
		t.Fatal("aggregate of nothing is still a hash")
	}
}

func TestAggregateChangesWithBasis(t *testing.T) {
	h := "abc"
	a := Aggregate([]model.ModulePin{{ModuleID: "0x1::m", CodeHash: &h, HashBasis: model.BasisABI}})
	b := Aggregate([]model.ModulePin{{ModuleID: "0x1::m", CodeHash: &h, HashBasis: model.BasisBytecode}})
	if a == b {
		t.Fatal("basis must participate in the aggregate")
	}
}
