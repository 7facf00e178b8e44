package model

type ChangeSeverity string

const (
	ChangeInfo     ChangeSeverity = "info"
	ChangeLow      ChangeSeverity = "low"
	ChangeMedium   ChangeSeverity = "medium"
	ChangeHigh     ChangeSeverity = "high"
	ChangeCritical ChangeSeverity = "critical"
)

var changeRank = map[ChangeSeverity]int{
	ChangeInfo:     0,
	ChangeLow:      1,
	ChangeMedium:   2,
	ChangeHigh:     3,
	ChangeCritical: 4,
}

func (s ChangeSeverity) Rank() int {
	return changeRank[s]
}

// MaxSeverity is the explicit floor used everywhere severities combine.
func MaxSeverity(a, b ChangeSeverity) ChangeSeverity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

type ChangeType string

const (
	ChangeSupply        ChangeType = "SUPPLY_CHANGED"
	ChangeMaxSupply     ChangeType = "MAX_SUPPLY_CHANGED"
	ChangeOwner         ChangeType = "OWNER_CHANGED"
	ChangeAdmin         ChangeType = "ADMIN_CHANGED"
	ChangeCapabilities  ChangeType = "CAPABILITIES_CHANGED"
	ChangeHooks         ChangeType = "HOOKS_CHANGED"
	ChangeRefHolders    ChangeType = "REF_HOLDERS_CHANGED"
	ChangeMetadata      ChangeType = "METADATA_CHANGED"
	ChangeModuleCode    ChangeType = "MODULE_CODE_CHANGED"
	ChangeModuleAdded   ChangeType = "MODULE_ADDED"
	ChangeModuleRemoved ChangeType = "MODULE_REMOVED"
	ChangeABISurface    ChangeType = "ABI_SURFACE_CHANGED"
	ChangeAggregateHash ChangeType = "AGGREGATE_HASH_CHANGED"
	ChangeCoverage      ChangeType = "COVERAGE_CHANGED"
	ChangeFindings      ChangeType = "FINDINGS_CHANGED"
	ChangePrivileges    ChangeType = "PRIVILEGES_CHANGED"
	ChangeInvariants    ChangeType = "INVARIANTS_CHANGED"
	ChangeOpaqueSurface ChangeType = "OPAQUE_SURFACE_CHANGED"
)

// ChangeTypes is the closed vocabulary in emission order.
var ChangeTypes = []ChangeType{
	ChangeSupply,
	ChangeMaxSupply,
	ChangeOwner,
	ChangeAdmin,
	ChangeCapabilities,
	ChangeHooks,
	ChangeRefHolders,
	ChangeMetadata,
	ChangeModuleCode,
	ChangeModuleAdded,
	ChangeModuleRemoved,
	ChangeABISurface,
	ChangeAggregateHash,
	ChangeCoverage,
	ChangeFindings,
	ChangePrivileges,
	ChangeInvariants,
	ChangeOpaqueSurface,
}

type ChangeItem struct {
	Type             ChangeType     `json:"type"`
	Severity         ChangeSeverity `json:"severity"`
	Before           any            `json:"before"`
	After            any            `json:"after"`
	Evidence         []string       `json:"evidence"`
	Escalated        bool           `json:"escalated,omitempty"`
	EscalationReason string         `json:"escalation_reason,omitempty"`
}

type DiffResult struct {
	IdentityKey    string         `json:"identity_key"`
	PreviousScanID string         `json:"previous_scan_id,omitempty"`
	CurrentScanID  string         `json:"current_scan_id"`
	Changed        bool           `json:"changed"`
	Changes        []ChangeItem   `json:"changes"`
	MaxSeverity    ChangeSeverity `json:"max_severity,omitempty"`
}

func (d DiffResult) Has(t ChangeType) bool {
	_, ok := d.Find(t)
	return ok
}

func (d DiffResult) Find(t ChangeType) (ChangeItem, bool) {
	for _, c := range d.Changes {
		if c.Type == t {
			return c, true
		}
	}
	return ChangeItem{}, false
}
