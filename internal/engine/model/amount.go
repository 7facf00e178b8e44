package model

import (
	"math/big"
	"strings"
)

// ParseAmount reads a decimal supply string. Missing or malformed input is
// reported as not ok rather than zero.
func ParseAmount(s *string) (*big.Rat, bool) {
	if s == nil {
		return nil, false
	}
	raw := strings.TrimSpace(*s)
	if raw == "" {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, false
	}
	return r, true
}

// Positive reports a parseable amount strictly above zero.
func Positive(s *string) bool {
	r, ok := ParseAmount(s)
	return ok && r.Sign() > 0
}
