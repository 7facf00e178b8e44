package parity

import (
	"supravault/internal/core/errors"
	"supravault/internal/engine/model"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestCompareIndexerAbsentIsUnknown(t *testing.T) {
	b := Compare(Observed{Owner: "0x1", Supply: ptr("5"), HasMintCap: true}, nil, errors.New(errors.CodeUpstream, "down"))
	if len(b.SourcesUsed) != 1 || b.SourcesUsed[0] != SourceRPC {
		t.Fatalf("expected only rpc source, got %v", b.SourcesUsed)
	}
	if !b.AllUnknown() {
		t.Fatalf("expected all parity unknown, got %+v", b.Parity)
	}
}

func TestCompareMatchAndMismatch(t *testing.T) {
	facts := &model.IndexerFacts{
		Source:     "graphql",
		Owner:      ptr("0x00AB"),
		Supply:     ptr("1000.0"),
		HasMintCap: ptr(false),
	}
	b := Compare(Observed{Owner: "0xab", Supply: ptr("1000"), HasMintCap: true}, facts, nil)

	want := map[string]model.ParityStatus{
		"OWNER_PARITY":    model.ParityMatch,
		"SUPPLY_PARITY":   model.ParityMatch,
		"MINT_CAP_PARITY": model.ParityMismatch,
	}
	for _, rec := range b.Parity {
		if rec.Status != want[rec.ID] {
			t.Fatalf("%s: got %s, want %s", rec.ID, rec.Status, want[rec.ID])
		}
	}
	if !b.HasMismatch() {
		t.Fatal("expected mismatch reported")
	}
	if b.SourcesUsed[1] != "graphql" {
		t.Fatalf("expected indexer source name, got %v", b.SourcesUsed)
	}
}

func TestComparePartialIndexerFacts(t *testing.T) {
	b := Compare(Observed{}, &model.IndexerFacts{Owner: ptr("0x1")}, nil)
	for _, rec := range b.Parity {
		if rec.Status != model.ParityUnknown {
			t.Fatalf("%s: expected unknown when one side is missing, got %s", rec.ID, rec.Status)
		}
	}
}

func TestCompareRecordsEvidenceFromBothSides(t *testing.T) {
	facts := &model.IndexerFacts{Source: "graphql", Owner: ptr("0xab"), Supply: ptr("7")}
	b := Compare(Observed{Owner: "0xab", Supply: ptr("9")}, facts, nil)

	got := map[string][]string{}
	for _, rec := range b.Parity {
		if rec.Evidence == nil {
			t.Fatalf("%s: evidence must be an empty list, not nil", rec.ID)
		}
		got[rec.ID] = rec.Evidence
	}
	if ev := got["OWNER_PARITY"]; len(ev) != 2 || ev[0] != "rpc=0xab" || ev[1] != "graphql=0xab" {
		t.Fatalf("unexpected owner evidence %v", ev)
	}
	if ev := got["SUPPLY_PARITY"]; len(ev) != 2 || ev[0] != "rpc=9" || ev[1] != "graphql=7" {
		t.Fatalf("unexpected supply evidence %v", ev)
	}
	if ev := got["MINT_CAP_PARITY"]; len(ev) != 0 {
		t.Fatalf("unreported mint cap must carry no evidence, got %v", ev)
	}
}
