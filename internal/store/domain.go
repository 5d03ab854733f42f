package store

import (
	"regexp"
	"strings"
)

// DefaultDomainSuffix is the canonical suffix of platform tenant domains.
const DefaultDomainSuffix = ".myshop.com"

// NormalizeDomain returns the canonical form of a tenant domain: lowercase,
// no scheme, path, query, port or trailing dots. A bare shop handle without
// any dot gets suffix appended. Returns "" when nothing usable remains.
//
//	"Example.MyShop.com/"          -> "example.myshop.com"
//	"https://example.myshop.com/x" -> "example.myshop.com"
//	"example"                      -> "example.myshop.com"
func NormalizeDomain(raw, suffix string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	d = strings.Trim(d, ".")
	if d == "" {
		return ""
	}
	if suffix != "" && !strings.Contains(d, ".") {
		d += "." + strings.TrimPrefix(strings.ToLower(suffix), ".")
	}
	return d
}

var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidDomain reports whether domain is an already-normalized tenant domain
// ending in suffix with a single well-formed shop handle in front.
func ValidDomain(domain, suffix string) bool {
	if suffix == "" {
		suffix = DefaultDomainSuffix
	}
	suffix = "." + strings.TrimPrefix(strings.ToLower(suffix), ".")
	handle, ok := strings.CutSuffix(domain, suffix)
	if !ok {
		return false
	}
	return handlePattern.MatchString(handle)
}
