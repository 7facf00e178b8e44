package model

const (
	SourceHook         = "hook"
	SourceResourceType = "resource_type"
	SourcePlaceholder  = "placeholder"
	SourceRecovered    = "recovered:"
)

// ModuleEntry is keyed by (address, name). A nameless entry stands for an
// account known to matter whose modules could not be listed yet.
type ModuleEntry struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	Source   string `json:"source"`
	Relevant bool   `json:"is_relevant"`
}

func (e ModuleEntry) ModuleID() string {
	return ModuleID(e.Address, e.Name)
}

func (e ModuleEntry) Nameless() bool {
	return e.Name == ""
}

type CoverageStatus string

const (
	CoverageComplete CoverageStatus = "complete"
	CoveragePartial  CoverageStatus = "partial"
)

type Coverage struct {
	Status  CoverageStatus `json:"status"`
	Reasons []string       `json:"reasons"`
}

type RecoveryAttempt struct {
	Strategy  string `json:"strategy"`
	Address   string `json:"address"`
	Candidate string `json:"candidate,omitempty"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
}

// RecoveryRecord keeps every name-recovery strategy that ran, successful or not.
type RecoveryRecord struct {
	Attempts  []RecoveryAttempt `json:"attempts"`
	Recovered []string          `json:"recovered"`
}

type ModuleInventory struct {
	Entries  []ModuleEntry   `json:"entries"`
	Coverage Coverage        `json:"coverage"`
	Recovery *RecoveryRecord `json:"recovery,omitempty"`
}

// Relevant returns relevant entries in inventory order.
func (inv ModuleInventory) Relevant() []ModuleEntry {
	out := make([]ModuleEntry, 0, len(inv.Entries))
	for _, e := range inv.Entries {
		if e.Relevant {
			out = append(out, e)
		}
	}
	return out
}

// ModuleListing is one listing call's result.
type ModuleListing struct {
	Address string
	Names   []string
	Source  string
}

type ABIFunction struct {
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
	IsEntry    bool   `json:"is_entry"`
	IsView     bool   `json:"is_view"`
}

// Exposed reports whether the function can be called from outside its module.
func (f ABIFunction) Exposed() bool {
	return f.IsEntry || f.Visibility == "public"
}

// ModuleArtifact is a fetched module. Bytecode or ABI may be missing.
type ModuleArtifact struct {
	Address     string
	Name        string
	Bytecode    []byte
	ABI         []byte
	Functions   []ABIFunction
	FetchedFrom string
}

func (a ModuleArtifact) ExposedFunctions() []string {
	out := make([]string, 0, len(a.Functions))
	for _, f := range a.Functions {
		if f.Exposed() {
			out = append(out, f.Name)
		}
	}
	return out
}

// ModuleRef names a module to pin and why it matters.
type ModuleRef struct {
	Address string
	Name    string
	Role    string
}

const (
	RoleHook       = "hook"
	RoleOwner      = "owner"
	RolePublisher  = "publisher"
	RoleRefHolder  = "ref_holder"
	RoleDefining   = "defining"
	RoleDependency = "dependency"
)
