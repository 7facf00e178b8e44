package model

type HashBasis string

const (
	BasisBytecode HashBasis = "bytecode"
	BasisABI      HashBasis = "abi"
	BasisNone     HashBasis = "none"
)

// ModulePin is emitted for every requested module, even when the fetch failed.
type ModulePin struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	ModuleID    string    `json:"module_id"`
	CodeHash    *string   `json:"code_hash"`
	HashBasis   HashBasis `json:"hash_basis"`
	FetchedFrom string    `json:"fetched_from"`
	Role        string    `json:"role"`
}

type Hashes struct {
	Pins      []ModulePin `json:"pins"`
	Aggregate string      `json:"aggregate"`
}

func (h Hashes) PinByID(moduleID string) (ModulePin, bool) {
	for _, p := range h.Pins {
		if p.ModuleID == moduleID {
			return p, true
		}
	}
	return ModulePin{}, false
}
