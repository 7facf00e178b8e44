package model

type BehaviorStatus string

const (
	BehaviorSampled     BehaviorStatus = "sampled"
	BehaviorNoActivity  BehaviorStatus = "no_activity"
	BehaviorOKEmpty     BehaviorStatus = "ok_empty"
	BehaviorUnavailable BehaviorStatus = "unavailable"
	BehaviorError       BehaviorStatus = "error"
)

type InvokedEntry struct {
	Module     string `json:"module"`
	Function   string `json:"function"`
	FunctionID string `json:"function_id"`
	TxHash     string `json:"tx_hash"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Count      int    `json:"count"`
}

// PhantomEntry is an invoked function that the pinned surface does not list.
type PhantomEntry struct {
	Module     string   `json:"module"`
	Function   string   `json:"function"`
	FunctionID string   `json:"function_id"`
	TxHashes   []string `json:"tx_hashes"`
	Reason     string   `json:"reason"`
}

type SourceAttempt struct {
	Address string `json:"address"`
	Source  string `json:"source"`
	Status  string `json:"status"`
	Count   int    `json:"count"`
	Detail  string `json:"detail,omitempty"`
}

const (
	AttemptOK          = "ok"
	AttemptNotFound    = "not_found"
	AttemptError       = "error"
	AttemptDecodeError = "decode_error"
	AttemptSkipped     = "skipped"
)

type BehaviorEvidence struct {
	Status           BehaviorStatus    `json:"status"`
	TxCount          int               `json:"tx_count"`
	InvokedEntries   []InvokedEntry    `json:"invoked_entries"`
	PhantomEntries   []PhantomEntry    `json:"phantom_entries"`
	OpaqueActive     bool              `json:"opaque_active"`
	Source           string            `json:"source"`
	SampledAddresses []string          `json:"sampled_addresses"`
	AttemptedSources []SourceAttempt   `json:"attempted_sources"`
	SourceDetails    map[string]string `json:"source_details"`
	Warnings         []string          `json:"warnings"`
}
