// Package classify sorts Move function names into privilege categories by
// keyword. It is a heuristic over names only and never inspects bytecode.
package classify

import (
	"regexp"
	"sort"
)

type Category string

const (
	Mint       Category = "mint"
	Burn       Category = "burn"
	Admin      Category = "admin"
	Freeze     Category = "freeze"
	HookConfig Category = "hookConfig"
	Upgrade    Category = "upgrade"
	Metadata   Category = "metadata"
)

// Categories lists every category in report order.
var Categories = []Category{Mint, Burn, Admin, Freeze, HookConfig, Upgrade, Metadata}

type compiledPattern struct {
	category Category
	re       *regexp.Regexp
}

var patterns = []compiledPattern{
	{Mint, regexp.MustCompile(`(?i)mint`)},
	{Burn, regexp.MustCompile(`(?i)burn`)},
	{Admin, regexp.MustCompile(`(?i)admin|owner|role|governance|authority|manager`)},
	{Freeze, regexp.MustCompile(`(?i)freeze|frozen|blacklist|blocklist|denylist|pause`)},
	{HookConfig, regexp.MustCompile(`(?i)hook|dispatch|override`)},
	{Upgrade, regexp.MustCompile(`(?i)upgrade|publish|migrat`)},
	{Metadata, regexp.MustCompile(`(?i)metadata|set_name|set_symbol|set_icon|set_uri|icon_uri|project_uri|set_decimals|set_description`)},
}

// Result maps each category to the names matching it. A name may appear in
// several categories.
type Result struct {
	byCategory map[Category][]string
}

// Classify tests every name against every category independently.
func Classify(names []string) Result {
	res := Result{byCategory: make(map[Category][]string, len(patterns))}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		for _, p := range patterns {
			if p.re.MatchString(name) {
				res.byCategory[p.category] = append(res.byCategory[p.category], name)
			}
		}
	}
	for c := range res.byCategory {
		sort.Strings(res.byCategory[c])
	}
	return res
}

// Category returns the sorted names matching c.
func (r Result) Category(c Category) []string {
	return append([]string(nil), r.byCategory[c]...)
}

func (r Result) Empty() bool {
	for _, names := range r.byCategory {
		if len(names) > 0 {
			return false
		}
	}
	return true
}

// Matches returns the categories a single name falls into, in report order.
func Matches(name string) []Category {
	var out []Category
	for _, p := range patterns {
		if p.re.MatchString(name) {
			out = append(out, p.category)
		}
	}
	return out
}

// IsMintLike is the check used when an added function should escalate a diff.
func IsMintLike(name string) bool {
	return patterns[0].re.MatchString(name)
}
