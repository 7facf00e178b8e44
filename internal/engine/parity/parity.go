// Package parity cross-checks RPC-derived facts against an independent
// indexer. A missing source yields "unknown", never a fabricated match.
package parity

import (
	"supravault/internal/engine/model"
)

const SourceRPC = "rpc"

// Observed is the RPC-side view being checked.
type Observed struct {
	Owner      string
	Supply     *string
	HasMintCap bool
}

// Compare builds the evidence bundle. facts is ignored when err is non-nil.
func Compare(obs Observed, facts *model.IndexerFacts, err error) model.EvidenceBundle {
	bundle := model.EvidenceBundle{SourcesUsed: []string{SourceRPC}}
	if err != nil {
		facts = nil
	}
	name := "indexer"
	if facts != nil {
		if facts.Source != "" {
			name = facts.Source
		}
		bundle.SourcesUsed = append(bundle.SourcesUsed, name)
	}

	bundle.Parity = []model.ParityRecord{
		ownerParity(obs, facts, err),
		supplyParity(obs, facts, err),
		mintCapParity(obs, facts, err),
	}
	for i := range bundle.Parity {
		bundle.Parity[i].Evidence = evidence(bundle.Parity[i], name)
	}
	return bundle
}

func evidence(rec model.ParityRecord, indexer string) []string {
	out := []string{}
	if rec.RPC != "" {
		out = append(out, SourceRPC+"="+rec.RPC)
	}
	if rec.Indexer != "" {
		out = append(out, indexer+"="+rec.Indexer)
	}
	return out
}

func unknown(id string, err error, detail string) model.ParityRecord {
	if err != nil {
		detail = "indexer unavailable: " + err.Error()
	}
	return model.ParityRecord{ID: id, Status: model.ParityUnknown, Detail: detail}
}

func ownerParity(obs Observed, facts *model.IndexerFacts, err error) model.ParityRecord {
	const id = "OWNER_PARITY"
	if facts == nil || facts.Owner == nil {
		return unknown(id, err, "indexer did not report an owner")
	}
	if obs.Owner == "" {
		return model.ParityRecord{ID: id, Status: model.ParityUnknown, Indexer: *facts.Owner, Detail: "rpc did not report an owner"}
	}
	rec := model.ParityRecord{ID: id, RPC: obs.Owner, Indexer: *facts.Owner, Status: model.ParityMismatch}
	if model.CanonicalAddress(obs.Owner) == model.CanonicalAddress(*facts.Owner) {
		rec.Status = model.ParityMatch
	}
	return rec
}

func supplyParity(obs Observed, facts *model.IndexerFacts, err error) model.ParityRecord {
	const id = "SUPPLY_PARITY"
	if facts == nil || facts.Supply == nil {
		return unknown(id, err, "indexer did not report supply")
	}
	theirs, okTheirs := model.ParseAmount(facts.Supply)
	ours, okOurs := model.ParseAmount(obs.Supply)
	if !okTheirs || !okOurs {
		return model.ParityRecord{ID: id, Status: model.ParityUnknown, Indexer: *facts.Supply, Detail: "supply not comparable"}
	}
	rec := model.ParityRecord{ID: id, RPC: *obs.Supply, Indexer: *facts.Supply, Status: model.ParityMismatch}
	if ours.Cmp(theirs) == 0 {
		rec.Status = model.ParityMatch
	}
	return rec
}

func mintCapParity(obs Observed, facts *model.IndexerFacts, err error) model.ParityRecord {
	const id = "MINT_CAP_PARITY"
	if facts == nil || facts.HasMintCap == nil {
		return unknown(id, err, "indexer did not report mint capability")
	}
	rec := model.ParityRecord{ID: id, RPC: boolText(obs.HasMintCap), Indexer: boolText(*facts.HasMintCap), Status: model.ParityMismatch}
	if obs.HasMintCap == *facts.HasMintCap {
		rec.Status = model.ParityMatch
	}
	return rec
}

func boolText(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
