// Package hints parses PVFS2_HINTS at dispatcher startup and merges the
// parsed defaults into every posted operation's hint set, without ever
// overwriting a key the caller already set. Grounded on
// original_source/src/common/misc/pvfs2-hint.c and include/pvfs2-hint.h,
// and spec.md §6's environment-variable table.
package hints

import "github.com/pvfs2/client/pkg/types"

// EnvVar is the environment variable dispatcher startup reads.
const EnvVar = "PVFS2_HINTS"

// Parse reads a PVFS2_HINTS-formatted string — "KEY:val[+KEY:val...]" —
// into a types.Hints map. A malformed segment (missing ':') is skipped
// rather than failing the whole parse, since one bad entry in an
// environment variable should not cost the rest of the defaults.
func Parse(raw string) types.Hints {
	h := make(types.Hints)
	if raw == "" {
		return h
	}
	for _, segment := range splitPlus(raw) {
		key, val, ok := splitColon(segment)
		if !ok || key == "" {
			continue
		}
		h[key] = val
	}
	return h
}

func splitPlus(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '+' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func splitColon(s string) (key, val string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// ApplyDefaults merges defaults into h without overwriting any key h
// already has set, per spec.md §6's non-clobbering merge rule.
func ApplyDefaults(h types.Hints, defaults types.Hints) types.Hints {
	return h.Merge(defaults)
}
