package evidence

import (
	"fmt"
	"strings"
)

// evidenceRequired lists the output fields whose entries must carry source
// citations. Presence is optional; a present, non-empty field must be a list
// of objects each holding a non-empty evidence list.
var evidenceRequired = []string{
	"strengths",
	"weaknesses",
	"opportunities",
	"threats",
	"risks",
	"decisions",
	"recommendations",
	"gaps",
}

var confidenceLevels = map[string]bool{
	"HIGH":   true,
	"MEDIUM": true,
	"LOW":    true,
}

// Validate structurally checks that every claim in an output carries source
// citations. It judges shape, not truthfulness. The returned slice is empty
// for a valid output.
func Validate(output map[string]any) []string {
	var errs []string
	for _, field := range evidenceRequired {
		raw, ok := output[field]
		if !ok || raw == nil {
			continue
		}
		items, ok := raw.([]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: must be a list of objects", field))
			continue
		}
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Sprintf("%s[%d]: must be an object", field, i))
				continue
			}
			errs = append(errs, validateEntry(field, i, obj)...)
		}
	}
	return errs
}

func validateEntry(field string, i int, obj map[string]any) []string {
	var errs []string
	raw, ok := obj["evidence"]
	if !ok {
		return []string{fmt.Sprintf("%s[%d]: missing evidence list", field, i)}
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return []string{fmt.Sprintf("%s[%d]: evidence must be a non-empty list", field, i)}
	}
	for j, e := range list {
		ev, ok := e.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s[%d].evidence[%d]: must be an object", field, i, j))
			continue
		}
		if str(ev["source_artifact"]) == "" {
			errs = append(errs, fmt.Sprintf("%s[%d].evidence[%d]: source_artifact required", field, i, j))
		}
		if !validDate(str(ev["date"])) {
			errs = append(errs, fmt.Sprintf("%s[%d].evidence[%d]: date must be YYYY-MM-DD shaped", field, i, j))
		}
		if str(ev["excerpt"]) == "" {
			errs = append(errs, fmt.Sprintf("%s[%d].evidence[%d]: excerpt required", field, i, j))
		}
		if c, ok := ev["confidence"]; ok {
			if !confidenceLevels[str(c)] {
				errs = append(errs, fmt.Sprintf("%s[%d].evidence[%d]: confidence must be HIGH, MEDIUM or LOW", field, i, j))
			}
		}
	}
	return errs
}

// validDate is a structural check, not a calendrical one: exactly 10
// characters containing two hyphens.
func validDate(s string) bool {
	return len(s) == 10 && strings.Count(s, "-") == 2
}

// ValidateStrict is Validate with a single aggregated failure signal.
func ValidateStrict(output map[string]any) error {
	errs := Validate(output)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("evidence validation failed: %s", strings.Join(errs, "; "))
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
