package model

import (
	"encoding/json"
	"strings"
)

// AssetKind distinguishes legacy coins from object-based fungible assets.
type AssetKind string

const (
	KindCoin AssetKind = "coin"
	KindFA   AssetKind = "fa"
)

func ParseAssetKind(raw string) (AssetKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "coin":
		return KindCoin, true
	case "fa", "fungible_asset":
		return KindFA, true
	default:
		return "", false
	}
}

// Identity is what two snapshots must share to be comparable.
type Identity struct {
	Kind       AssetKind `json:"kind"`
	AssetID    string    `json:"asset_id"`
	Name       string    `json:"name,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	Decimals   *int      `json:"decimals,omitempty"`
	Publisher  string    `json:"publisher,omitempty"`
	IconURI    string    `json:"icon_uri,omitempty"`
	ProjectURI string    `json:"project_uri,omitempty"`
}

// Key is the store/comparison key. Coin type addresses are canonicalized so
// "0x0a::c::T" and "0xa::c::T" collide.
func (i Identity) Key() string {
	id := strings.TrimSpace(i.AssetID)
	if i.Kind == KindCoin {
		if addr, rest, ok := strings.Cut(id, "::"); ok {
			id = CanonicalAddress(addr) + "::" + rest
		}
	} else {
		id = CanonicalAddress(id)
	}
	return string(i.Kind) + ":" + id
}

// Supply values are decimal strings; nil means the upstream gave no usable data.
type Supply struct {
	Current *string `json:"current"`
	Max     *string `json:"max,omitempty"`
}

type Capabilities struct {
	HasMintCap       bool `json:"has_mint_cap"`
	HasBurnCap       bool `json:"has_burn_cap"`
	HasFreezeCap     bool `json:"has_freeze_cap"`
	HasTransferRef   bool `json:"has_transfer_ref"`
	HasMetadataRef   bool `json:"has_metadata_ref"`
	HasDispatchHooks bool `json:"has_dispatch_hooks"`
}

func (c Capabilities) Any() bool {
	return c.HasMintCap || c.HasBurnCap || c.HasFreezeCap || c.HasTransferRef || c.HasMetadataRef
}

// HookDecl is a dispatchable function registered on an FA.
type HookDecl struct {
	Kind     string `json:"kind"`
	Address  string `json:"address"`
	Module   string `json:"module"`
	Function string `json:"function"`
}

func (h HookDecl) ModuleID() string {
	return ModuleID(h.Address, h.Module)
}

type ControlSurface struct {
	Owner      string              `json:"owner,omitempty"`
	Admin      string              `json:"admin,omitempty"`
	Hooks      []HookDecl          `json:"hooks"`
	RefHolders []string            `json:"ref_holders"`
	Modules    []ModuleEntry       `json:"modules"`
	Functions  map[string][]string `json:"functions"`
	Opaque     []string            `json:"opaque_modules"`
}

// Resource is one on-chain resource as listed under an account.
type Resource struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// AssetFacts is everything read from resources before any analysis runs.
type AssetFacts struct {
	Identity      Identity
	Supply        Supply
	Capabilities  Capabilities
	Owner         string
	Admin         string
	Hooks         []HookDecl
	RefHolders    []string
	ResourceTypes []string
}
