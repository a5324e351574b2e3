package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of every config section.
var knownKeys = map[string][]string{
	"database": {"driver", "dsn"},
	"sheets": {
		"spreadsheet_id", "sheet_name", "formula_separator", "credentials_file",
		"token_file", "client_id", "client_secret", "max_retries",
	},
	"sync": {
		"mode", "interval", "run_timeout", "deadline_working_days",
		"lock_url", "lock_key", "lock_ttl",
	},
	"logging": {"log_level", "log_file", "log_format"},
	"network": {"connect_timeout", "data_timeout", "user_agent", "base_url"},
}

// knownSections is the sorted section list. Sorted for deterministic
// suggestions when two candidates have the same edit distance.
var knownSections = slices.Sorted(maps.Keys(knownKeys))

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		switch {
		case len(key) == 0:
			continue
		case len(key) == 1 || knownKeys[key[0]] == nil:
			// Unknown table or a bare top-level key; report each once.
			if seen[key[0]] {
				continue
			}

			seen[key[0]] = true
			errs = append(errs, unknownSectionError(key[0]))
		default:
			// Nested tables under an unknown field report the field once.
			name := key[0] + "." + key[1]
			if seen[name] {
				continue
			}

			seen[name] = true
			errs = append(errs, unknownFieldError(key[0], key[1]))
		}
	}

	return errors.Join(errs...)
}

func unknownSectionError(name string) error {
	if suggestion := closestMatch(name, knownSections); suggestion != "" {
		return fmt.Errorf("unknown config section %q; did you mean [%s]?", name, suggestion)
	}

	// A field written outside its section, e.g. log_level at the top level.
	for _, section := range knownSections {
		if slices.Contains(knownKeys[section], name) {
			return fmt.Errorf("unknown top-level config key %q; it belongs in [%s]", name, section)
		}
	}

	return fmt.Errorf("unknown config section %q", name)
}

func unknownFieldError(section, field string) error {
	if suggestion := closestMatch(field, knownKeys[section]); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s]; did you mean %q?", field, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", field, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization; no full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
