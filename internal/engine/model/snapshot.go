package model

import "time"

const SnapshotSchemaVersion = 1

type Meta struct {
	SchemaVersion int       `json:"schema_version"`
	ScanID        string    `json:"scan_id"`
	CapturedAt    time.Time `json:"captured_at"`
	Chain         string    `json:"chain"`
	Sources       []string  `json:"sources"`
}

// Snapshot is immutable once assembled. Two snapshots are comparable only
// when their Identity keys match.
type Snapshot struct {
	Meta           Meta              `json:"meta"`
	Identity       Identity          `json:"identity"`
	Supply         Supply            `json:"supply"`
	Capabilities   Capabilities      `json:"capabilities"`
	ControlSurface ControlSurface    `json:"control_surface"`
	Coverage       Coverage          `json:"coverage"`
	Recovery       *RecoveryRecord   `json:"recovery,omitempty"`
	Findings       []Finding         `json:"findings"`
	Hashes         Hashes            `json:"hashes"`
	Privileges     PrivilegeReport   `json:"privileges"`
	Invariants     InvariantReport   `json:"invariants"`
	Evidence       EvidenceBundle    `json:"evidence"`
	Behavior       *BehaviorEvidence `json:"behavior,omitempty"`
}
