// Package symbol normalizes equity symbols across the exchange-prefixed
// form used by broker APIs ("NSE:RELIANCE-EQ") and the plain form that
// may appear in ledger rows or holdings reports ("RELIANCE").
package symbol

import (
	"strings"
)

var segmentSuffixes = []string{"-EQ", "-BE", "-SM", "-ST"}

type Symbol struct {
	Exchange string // e.g. "NSE", empty when unknown
	Name     string // bare scrip name, upper case
	Segment  string // e.g. "EQ", empty when unknown
}

func (s Symbol) Qualified() string {
	if s.Name == "" {
		return ""
	}
	out := s.Name
	if s.Segment != "" {
		out += "-" + s.Segment
	}
	if s.Exchange != "" {
		out = s.Exchange + ":" + out
	}
	return out
}

func Parse(raw string) Symbol {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return Symbol{}
	}
	var sym Symbol
	if idx := strings.Index(raw, ":"); idx >= 0 {
		sym.Exchange = raw[:idx]
		raw = raw[idx+1:]
	}
	for _, suffix := range segmentSuffixes {
		if strings.HasSuffix(raw, suffix) {
			sym.Segment = strings.TrimPrefix(suffix, "-")
			raw = strings.TrimSuffix(raw, suffix)
			break
		}
	}
	sym.Name = strings.TrimSpace(raw)
	return sym
}

// Normalize strips exchange prefix and segment suffix, leaving the bare
// scrip name used for cross-source comparison.
func Normalize(raw string) string {
	return Parse(raw).Name
}

// Match reports whether a ledger symbol and a broker-reported symbol refer
// to the same scrip: exact match, or equal after normalization when the two
// sources format symbols differently.
func Match(ledgerSym, brokerSym string) bool {
	a := strings.ToUpper(strings.TrimSpace(ledgerSym))
	b := strings.ToUpper(strings.TrimSpace(brokerSym))
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return Normalize(a) == Normalize(b)
}
