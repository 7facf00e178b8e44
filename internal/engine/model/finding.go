package model

type FindingSeverity string

const (
	SeverityInfo   FindingSeverity = "INFO"
	SeverityLow    FindingSeverity = "LOW"
	SeverityMedium FindingSeverity = "MEDIUM"
	SeverityHigh   FindingSeverity = "HIGH"
)

var findingRank = map[FindingSeverity]int{
	SeverityInfo:   0,
	SeverityLow:    1,
	SeverityMedium: 2,
	SeverityHigh:   3,
}

func (s FindingSeverity) Rank() int {
	return findingRank[s]
}

type Finding struct {
	ID             string          `json:"id"`
	Severity       FindingSeverity `json:"severity"`
	Title          string          `json:"title"`
	Detail         string          `json:"detail"`
	Evidence       []string        `json:"evidence"`
	Recommendation string          `json:"recommendation,omitempty"`
}

// PrivilegeReport groups exposed privileged functions by class.
type PrivilegeReport struct {
	Classes          map[string][]string `json:"classes"`
	HasOpaqueControl bool                `json:"has_opaque_control"`
}

type InvariantStatus string

const (
	InvariantUnknown   InvariantStatus = "unknown"
	InvariantOK        InvariantStatus = "ok"
	InvariantWarning   InvariantStatus = "warning"
	InvariantViolation InvariantStatus = "violation"
)

var invariantRank = map[InvariantStatus]int{
	InvariantUnknown:   0,
	InvariantOK:        1,
	InvariantWarning:   2,
	InvariantViolation: 3,
}

func (s InvariantStatus) Rank() int {
	return invariantRank[s]
}

type InvariantItem struct {
	ID     string          `json:"id"`
	Status InvariantStatus `json:"status"`
	Detail string          `json:"detail"`
}

type InvariantReport struct {
	Items   []InvariantItem `json:"items"`
	Overall InvariantStatus `json:"overall"`
}

// WorstInvariant folds items over unknown < ok < warning < violation.
func WorstInvariant(items []InvariantItem) InvariantStatus {
	worst := InvariantUnknown
	for _, it := range items {
		if it.Status.Rank() > worst.Rank() {
			worst = it.Status
		}
	}
	return worst
}

func (r InvariantReport) Item(id string) (InvariantItem, bool) {
	for _, it := range r.Items {
		if it.ID == id {
			return it, true
		}
	}
	return InvariantItem{}, false
}
