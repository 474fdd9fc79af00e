// Package envsource contains pure functions for environment payload parsing
// and variable substitution. Payloads are opaque key/value blobs owned by
// the services that consume them; this package never reads files or the
// process environment.
package envsource

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformedLine is returned when a payload line is not KEY=VALUE.
var ErrMalformedLine = errors.New("malformed environment line")

// =============================================================================
// Payload Parsing
// =============================================================================

// Parse decodes an environment payload in dotenv form: one KEY=VALUE per
// line, blank lines and #-comments ignored, an optional "export " prefix
// tolerated, single or double quotes around values stripped.
func Parse(content string) (map[string]string, error) {
	values := make(map[string]string)

	for i, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("line %d: %w", i+1, ErrMalformedLine)
		}

		key = strings.TrimSpace(key)
		if key == "" || strings.ContainsAny(key, " \t") {
			return nil, fmt.Errorf("line %d: %w", i+1, ErrMalformedLine)
		}

		values[key] = unquote(strings.TrimSpace(value))
	}

	return values, nil
}

// unquote strips one matching pair of surrounding quotes.
func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// Merge overlays values over base without mutating either. Inline service
// environment wins over the payload it references.
func Merge(base, values map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(values))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return merged
}

// =============================================================================
// Variable Substitution
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Substitute replaces ${VAR} and ${VAR:-default} placeholders with values
// from the given map.
//
// Behavior:
//   - ${VAR} - replaced if VAR exists, otherwise kept as-is
//   - ${VAR:-default} - replaced if VAR exists, otherwise "default"
//   - text without placeholders is returned unchanged
func Substitute(value string, variables map[string]string) string {
	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		name := submatch[1]
		if v, ok := variables[name]; ok {
			return v
		}
		if submatch[2] != "" {
			return submatch[3]
		}
		return match
	})
}
