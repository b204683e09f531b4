package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Input limits.
const (
	// MaxRunNameLength bounds run names, which also become file names.
	MaxRunNameLength = 128

	// MaxIDLength bounds query and document ids.
	MaxIDLength = 512

	// MaxRuns bounds the runs of one benchmark request.
	MaxRuns = 32
)

// ValidationError represents a field validation error.
type ValidationError struct {
	Field      string
	Value      any
	Constraint string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed for %s: %s (got: %v)", e.Field, e.Constraint, e.Value)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Constraint)
}

// runNameRegex matches valid run names: alphanumeric start, then
// alphanumerics, dots, hyphens, underscores, '@' and '+'.
var runNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._@+-]*$`)

// reservedNames are Windows device names that cannot be used as file names.
var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// ValidateRunName validates a run name. Run names are written to disk as
// <name>.json, so separators, traversal and reserved device names are
// rejected.
func ValidateRunName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Constraint: "required"}
	}
	if len(name) > MaxRunNameLength {
		return &ValidationError{
			Field:      "name",
			Value:      len(name),
			Constraint: fmt.Sprintf("maximum length is %d characters", MaxRunNameLength),
		}
	}
	if !runNameRegex.MatchString(name) || strings.Contains(name, "..") {
		return &ValidationError{
			Field:      "name",
			Value:      SanitizeForLogWithLength(name, 64),
			Constraint: "must start with a letter or digit and contain only letters, digits and . _ - @ +",
		}
	}

	base := strings.ToLower(name)
	if i := strings.Index(base, "."); i > 0 {
		base = base[:i]
	}
	if reservedNames[base] {
		return &ValidationError{Field: "name", Value: name, Constraint: "reserved name"}
	}
	return nil
}

// ValidateID validates a query or document id.
// Requirements: 1-512 bytes, valid UTF-8, no control characters.
func ValidateID(field, id string) error {
	if id == "" {
		return &ValidationError{Field: field, Constraint: "required"}
	}
	if len(id) > MaxIDLength {
		return &ValidationError{
			Field:      field,
			Value:      len(id),
			Constraint: fmt.Sprintf("maximum length is %d bytes", MaxIDLength),
		}
	}
	if !utf8.ValidString(id) {
		return &ValidationError{Field: field, Constraint: "must be valid UTF-8"}
	}
	if strings.ContainsFunc(id, unicode.IsControl) {
		return &ValidationError{
			Field:      field,
			Value:      SanitizeForLogWithLength(id, 64),
			Constraint: "must not contain control characters",
		}
	}
	return nil
}

// ValidateRunCount validates the number of runs in one request.
func ValidateRunCount(n int) error {
	if n < 1 {
		return &ValidationError{Field: "runs", Constraint: "required"}
	}
	if n > MaxRuns {
		return &ValidationError{
			Field:      "runs",
			Value:      n,
			Constraint: fmt.Sprintf("maximum is %d runs", MaxRuns),
		}
	}
	return nil
}
