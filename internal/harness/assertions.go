package harness

import (
	"fmt"
	"slices"
	"strings"
)

// checkExpect returns one message per mismatch between r and e.
func checkExpect(r StepResult, e *ExpectClause) []string {
	if e == nil {
		if r.Error != "" {
			return []string{fmt.Sprintf("unexpected error: %s", r.Message)}
		}
		return nil
	}

	var errs []string
	if e.Error != r.Error {
		switch {
		case e.Error == "":
			errs = append(errs, fmt.Sprintf("unexpected error: %s", r.Message))
		case r.Error == "":
			errs = append(errs, fmt.Sprintf("expected error %s, got success", e.Error))
		default:
			errs = append(errs, fmt.Sprintf("expected error %s, got %s: %s", e.Error, r.Error, r.Message))
		}
	}
	if e.Items != nil && !slices.Equal(e.Items, r.Items) {
		errs = append(errs, fmt.Sprintf("items: expected [%s], got [%s]",
			strings.Join(e.Items, ", "), strings.Join(r.Items, ", ")))
	}
	if e.Count != nil && *e.Count != r.Count() {
		errs = append(errs, fmt.Sprintf("count: expected %d, got %d", *e.Count, r.Count()))
	}
	if e.Relocated != nil && *e.Relocated != r.Relocated {
		errs = append(errs, fmt.Sprintf("relocated: expected %d, got %d", *e.Relocated, r.Relocated))
	}
	if e.Changed != nil && *e.Changed != r.Changed {
		errs = append(errs, fmt.Sprintf("changed: expected %t, got %t", *e.Changed, r.Changed))
	}
	return errs
}
