// Package facts turns raw account resources into identity, supply and
// capability facts. Anything it cannot parse is left empty, never zeroed.
package facts

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"supravault/internal/engine/model"

	"github.com/spf13/cast"
)

// u128 max is what unlimited supplies report as their ceiling.
const unlimitedSupply = "340282366920938463463374607431768211455"

// AccountResources is one address's resource listing, in read order.
type AccountResources struct {
	Address   string
	Resources []model.Resource
}

type capabilityMarker struct {
	typeRE *regexp.Regexp
	keyRE  *regexp.Regexp
	set    func(*model.Capabilities)
}

var capabilityMarkers = []capabilityMarker{
	{
		typeRE: regexp.MustCompile(`MintCapability|MintRef`),
		keyRE:  regexp.MustCompile(`^mint_(cap|ref|capability)$`),
		set:    func(c *model.Capabilities) { c.HasMintCap = true },
	},
	{
		typeRE: regexp.MustCompile(`BurnCapability|BurnRef`),
		keyRE:  regexp.MustCompile(`^burn_(cap|ref|capability)$`),
		set:    func(c *model.Capabilities) { c.HasBurnCap = true },
	},
	{
		typeRE: regexp.MustCompile(`FreezeCapability`),
		keyRE:  regexp.MustCompile(`^freeze_(cap|capability)$`),
		set:    func(c *model.Capabilities) { c.HasFreezeCap = true },
	},
	{
		typeRE: regexp.MustCompile(`TransferRef`),
		keyRE:  regexp.MustCompile(`^transfer_ref$`),
		set:    func(c *model.Capabilities) { c.HasTransferRef = true },
	},
	{
		typeRE: regexp.MustCompile(`MutateMetadataRef`),
		keyRE:  regexp.MustCompile(`^(mutate_)?metadata_ref$`),
		set:    func(c *model.Capabilities) { c.HasMetadataRef = true },
	},
}

// Build derives facts for one asset. accounts must list the asset's own
// address (metadata object for FA, publisher for coin) first.
func Build(kind model.AssetKind, assetID string, accounts []AccountResources) model.AssetFacts {
	f := model.AssetFacts{
		Identity: model.Identity{Kind: kind, AssetID: strings.TrimSpace(assetID)},
	}
	if kind == model.KindCoin {
		if addr, _, ok := strings.Cut(f.Identity.AssetID, "::"); ok {
			f.Identity.Publisher = addr
		}
	}

	assetAddr := ""
	if kind == model.KindFA {
		assetAddr = model.CanonicalAddress(f.Identity.AssetID)
	}

	holders := make(map[string]bool)
	typeSeen := make(map[string]bool)
	for _, acct := range accounts {
		for _, res := range acct.Resources {
			if !typeSeen[res.Type] {
				typeSeen[res.Type] = true
				f.ResourceTypes = append(f.ResourceTypes, res.Type)
			}
			data := decodeObject(res.Data)
			switch {
			case kind == model.KindFA && strings.HasSuffix(res.Type, "::object::ObjectCore"):
				if f.Owner == "" {
					f.Owner = cast.ToString(data["owner"])
				}
			case kind == model.KindFA && strings.HasSuffix(res.Type, "::fungible_asset::Metadata"):
				readMetadata(&f.Identity, data)
			case kind == model.KindFA && strings.HasSuffix(res.Type, "::fungible_asset::ConcurrentSupply"):
				readConcurrentSupply(&f.Supply, data)
			case kind == model.KindFA && strings.HasSuffix(res.Type, "::fungible_asset::Supply"):
				readFixedSupply(&f.Supply, data)
			case kind == model.KindFA && strings.HasSuffix(res.Type, "::fungible_asset::DispatchFunctionStore"):
				f.Hooks = append(f.Hooks, readHooks(data)...)
			case kind == model.KindCoin && isCoinInfo(res.Type, f.Identity.AssetID):
				readMetadata(&f.Identity, data)
				readCoinSupply(&f.Supply, data)
			}

			if kind == model.KindCoin && !mentionsCoin(res.Type, f.Identity.AssetID) {
				continue
			}
			if markCapabilities(&f.Capabilities, res.Type, data) {
				addr := model.CanonicalAddress(acct.Address)
				if addr != assetAddr {
					holders[acct.Address] = true
				}
			}
			if f.Admin == "" {
				if admin := cast.ToString(data["admin"]); admin != "" {
					f.Admin = admin
				}
			}
		}
	}

	f.Capabilities.HasDispatchHooks = len(f.Hooks) > 0
	for addr := range holders {
		f.RefHolders = append(f.RefHolders, addr)
	}
	sort.Strings(f.RefHolders)
	if kind == model.KindFA && f.Identity.Publisher == "" {
		f.Identity.Publisher = f.Owner
	}
	return f
}

func decodeObject(raw json.RawMessage) map[string]any {
	var out map[string]any
	if len(raw) == 0 {
		return map[string]any{}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if dec.Decode(&out) != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func markCapabilities(c *model.Capabilities, typ string, data map[string]any) bool {
	found := false
	for _, m := range capabilityMarkers {
		hit := m.typeRE.MatchString(typ)
		if !hit {
			for key := range data {
				if m.keyRE.MatchString(key) && !isEmptyOption(data[key]) {
					hit = true
					break
				}
			}
		}
		if hit {
			m.set(c)
			found = true
		}
	}
	return found
}

// isEmptyOption treats Move's empty Option ({"vec": []}) as absent.
func isEmptyOption(v any) bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return v == nil
	}
	vec, ok := obj["vec"].([]any)
	return ok && len(vec) == 0
}

func readMetadata(id *model.Identity, data map[string]any) {
	if v := cast.ToString(data["name"]); v != "" {
		id.Name = v
	}
	if v := cast.ToString(data["symbol"]); v != "" {
		id.Symbol = v
	}
	if raw, ok := data["decimals"]; ok {
		if d, err := cast.ToIntE(raw); err == nil {
			id.Decimals = &d
		}
	}
	if v := cast.ToString(data["icon_uri"]); v != "" {
		id.IconURI = v
	}
	if v := cast.ToString(data["project_uri"]); v != "" {
		id.ProjectURI = v
	}
}

func readConcurrentSupply(s *model.Supply, data map[string]any) {
	current, _ := data["current"].(map[string]any)
	if current == nil {
		return
	}
	if v := numericString(current["value"]); v != "" {
		s.Current = &v
	}
	if v := numericString(current["max_value"]); v != "" && v != unlimitedSupply {
		s.Max = &v
	}
}

func readFixedSupply(s *model.Supply, data map[string]any) {
	if v := numericString(data["current"]); v != "" {
		s.Current = &v
	}
	if v := numericString(optionValue(data["maximum"])); v != "" && v != unlimitedSupply {
		s.Max = &v
	}
}

func readCoinSupply(s *model.Supply, data map[string]any) {
	opt, _ := optionValue(data["supply"]).(map[string]any)
	if opt == nil {
		return
	}
	if integer, ok := optionValue(opt["integer"]).(map[string]any); ok {
		if v := numericString(integer["value"]); v != "" {
			s.Current = &v
		}
		if v := numericString(integer["limit"]); v != "" && v != unlimitedSupply {
			s.Max = &v
		}
		return
	}
	if agg, ok := optionValue(opt["aggregator"]).(map[string]any); ok {
		if v := numericString(agg["value"]); v != "" {
			s.Current = &v
		}
		if v := numericString(agg["limit"]); v != "" && v != unlimitedSupply {
			s.Max = &v
		}
	}
}

func readHooks(data map[string]any) []model.HookDecl {
	var hooks []model.HookDecl
	for _, kind := range []string{"withdraw", "deposit", "derived_balance"} {
		fn, ok := optionValue(data[kind+"_function"]).(map[string]any)
		if !ok {
			continue
		}
		h := model.HookDecl{
			Kind:     kind,
			Address:  cast.ToString(fn["module_address"]),
			Module:   cast.ToString(fn["module_name"]),
			Function: cast.ToString(fn["function_name"]),
		}
		if h.Address == "" || h.Module == "" {
			continue
		}
		hooks = append(hooks, h)
	}
	return hooks
}

// optionValue unwraps Move's Option encoding ({"vec": [x]}) and passes other
// values through unchanged.
func optionValue(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	vec, ok := obj["vec"].([]any)
	if !ok {
		return v
	}
	if len(vec) == 0 {
		return nil
	}
	return vec[0]
}

var digitsPattern = regexp.MustCompile(`^[0-9]+$`)

func numericString(v any) string {
	if v == nil {
		return ""
	}
	s := strings.TrimSpace(cast.ToString(v))
	if !digitsPattern.MatchString(s) {
		return ""
	}
	return s
}

func isCoinInfo(typ, coinType string) bool {
	return strings.Contains(typ, "::coin::CoinInfo<") && mentionsCoin(typ, coinType)
}

// mentionsCoin is true for non-generic resources and for generic resources
// parameterized by coinType.
func mentionsCoin(typ, coinType string) bool {
	open := strings.Index(typ, "<")
	if open < 0 {
		return true
	}
	want := canonicalType(coinType)
	for _, t := range structTypePattern.FindAllString(typ[open:], -1) {
		if canonicalType(t) == want {
			return true
		}
	}
	return false
}

var structTypePattern = regexp.MustCompile(`0x[0-9a-fA-F]+::[A-Za-z_][A-Za-z0-9_]*::[A-Za-z_][A-Za-z0-9_]*`)

func canonicalType(t string) string {
	addr, rest, ok := strings.Cut(strings.TrimSpace(t), "::")
	if !ok {
		return t
	}
	return model.CanonicalAddress(addr) + "::" + rest
}
