package behavior

import (
	"strings"
	"supravault/internal/engine/model"

	"github.com/spf13/cast"
)

// Transaction is the normalized subset of a provider transaction the sampler
// needs. Missing timestamps or heights are flagged, never defaulted to zero.
type Transaction struct {
	Hash         string
	Timestamp    int64
	HasTimestamp bool
	Height       int64
	HasHeight    bool
	Functions    []string
	order        int
}

var (
	hashPaths      = [][]string{{"hash"}, {"txn_hash"}, {"transaction_hash"}, {"tx_hash"}, {"header", "hash"}, {"transaction", "hash"}}
	timestampPaths = [][]string{{"timestamp"}, {"block_timestamp"}, {"header", "timestamp"}, {"block_header", "timestamp"}, {"transaction_timestamp"}, {"transaction", "timestamp"}}
	heightPaths    = [][]string{{"block_height"}, {"height"}, {"block_number"}, {"header", "block_height"}, {"block_header", "height"}, {"version"}, {"transaction_version"}}
	functionPaths  = [][]string{
		{"payload", "function"},
		{"payload", "entry_function_payload", "function"},
		{"payload", "Move", "function"},
		{"payload", "value", "function"},
		{"transaction", "payload", "function"},
		{"function"},
		{"entry_function_id_str"},
	}
)

func parseTransaction(item map[string]any) Transaction {
	tx := Transaction{}
	for _, p := range hashPaths {
		if s := cast.ToString(lookup(item, p)); s != "" {
			tx.Hash = s
			break
		}
	}
	for _, p := range timestampPaths {
		if ts, ok := toMicros(lookup(item, p)); ok {
			tx.Timestamp, tx.HasTimestamp = ts, true
			break
		}
	}
	for _, p := range heightPaths {
		if v := lookup(item, p); v != nil {
			if h, err := cast.ToInt64E(v); err == nil {
				tx.Height, tx.HasHeight = h, true
				break
			}
		}
	}
	tx.Functions = extractFunctions(item)
	return tx
}

// extractFunctions reads the invoked entry function from the payload shapes
// seen across providers and returns "addr::module::function" ids.
func extractFunctions(item map[string]any) []string {
	for _, p := range functionPaths {
		if id, ok := normalizeFunctionID(cast.ToString(lookup(item, p))); ok {
			return []string{id}
		}
	}
	for _, p := range [][]string{{"payload", "EntryFunction"}, {"payload", "entry_function"}, {"payload", "Move", "EntryFunction"}} {
		obj, ok := lookup(item, p).(map[string]any)
		if !ok {
			continue
		}
		addr := cast.ToString(obj["module_address"])
		mod := cast.ToString(obj["module_name"])
		fn := cast.ToString(obj["function_name"])
		if m, ok := obj["module"].(map[string]any); ok {
			addr = cast.ToString(m["address"])
			mod = cast.ToString(m["name"])
		}
		if fn == "" {
			fn = cast.ToString(obj["function"])
		}
		if id, ok := normalizeFunctionID(addr + "::" + mod + "::" + fn); ok {
			return []string{id}
		}
	}
	return nil
}

func normalizeFunctionID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "<"); i >= 0 {
		raw = raw[:i]
	}
	addr, mod, fn, ok := model.SplitFunctionID(raw)
	if !ok || !strings.HasPrefix(strings.ToLower(addr), "0x") {
		return "", false
	}
	return addr + "::" + mod + "::" + fn, true
}

func lookup(obj map[string]any, path []string) any {
	var cur any = obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

// toMicros accepts numeric or numeric-string microsecond timestamps and
// RFC3339-like strings from indexers.
func toMicros(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	if n, err := cast.ToInt64E(v); err == nil {
		return n, true
	}
	s := cast.ToString(v)
	if s == "" {
		return 0, false
	}
	t, err := cast.ToTimeE(s)
	if err != nil {
		return 0, false
	}
	return t.UnixMicro(), true
}
