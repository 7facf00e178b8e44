package model

type ParityStatus string

const (
	ParityMatch    ParityStatus = "match"
	ParityMismatch ParityStatus = "mismatch"
	ParityUnknown  ParityStatus = "unknown"
)

// ParityRecord compares one fact across sources. Evidence lists each side's
// reported value as "source=value"; a side that reported nothing is absent.
type ParityRecord struct {
	ID       string       `json:"id"`
	Status   ParityStatus `json:"status"`
	RPC      string       `json:"rpc,omitempty"`
	Indexer  string       `json:"indexer,omitempty"`
	Detail   string       `json:"detail,omitempty"`
	Evidence []string     `json:"evidence"`
}

type EvidenceBundle struct {
	SourcesUsed []string       `json:"sources_used"`
	Parity      []ParityRecord `json:"parity"`
}

func (b EvidenceBundle) HasMismatch() bool {
	for _, p := range b.Parity {
		if p.Status == ParityMismatch {
			return true
		}
	}
	return false
}

func (b EvidenceBundle) AllUnknown() bool {
	for _, p := range b.Parity {
		if p.Status != ParityUnknown {
			return false
		}
	}
	return true
}

// IndexerFacts is what a third-party indexer claims about an asset. Nil fields
// were not reported.
type IndexerFacts struct {
	Source     string
	Owner      *string
	Supply     *string
	HasMintCap *bool
}
