package model

import (
	"regexp"
	"strings"
)

var fullAddressPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// CanonicalAddress lowercases, ensures the 0x prefix and drops leading zeros
// so short and padded forms of the same account compare equal.
func CanonicalAddress(raw string) string {
	a := strings.ToLower(strings.TrimSpace(raw))
	a = strings.TrimPrefix(a, "0x")
	a = strings.TrimLeft(a, "0")
	if a == "" {
		return "0x0"
	}
	return "0x" + a
}

// PadAddress expands a short hex address to its 32-byte form.
func PadAddress(raw string) string {
	a := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	if len(a) >= 64 {
		return "0x" + a
	}
	return "0x" + strings.Repeat("0", 64-len(a)) + a
}

// IsFullAddress checks the fixed-length form accepted for sampling.
func IsFullAddress(raw string) bool {
	return fullAddressPattern.MatchString(raw)
}

func ModuleID(address, name string) string {
	if name == "" {
		return ""
	}
	return address + "::" + name
}

// CanonicalModuleID is ModuleID with the address canonicalized.
func CanonicalModuleID(address, name string) string {
	return ModuleID(CanonicalAddress(address), name)
}

// SplitModuleID splits "addr::module".
func SplitModuleID(id string) (address, name string, ok bool) {
	address, name, ok = strings.Cut(strings.TrimSpace(id), "::")
	if !ok || address == "" || name == "" || strings.Contains(name, "::") {
		return "", "", false
	}
	return address, name, true
}

// SplitFunctionID splits "addr::module::function".
func SplitFunctionID(id string) (address, module, function string, ok bool) {
	parts := strings.Split(strings.TrimSpace(id), "::")
	if len(parts) != 3 {
		return "", "", "", false
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", false
		}
	}
	return parts[0], parts[1], parts[2], true
}

// TypeModuleIDs extracts every "addr::module" referenced in a Move type tag,
// including generic arguments.
func TypeModuleIDs(typeTag string) []string {
	var out []string
	for _, m := range typeTagPattern.FindAllStringSubmatch(typeTag, -1) {
		out = append(out, ModuleID(m[1], m[2]))
	}
	return out
}

var typeTagPattern = regexp.MustCompile(`(0x[0-9a-fA-F]+)::([A-Za-z_][A-Za-z0-9_]*)::[A-Za-z_][A-Za-z0-9_]*`)
