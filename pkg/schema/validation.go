package schema

import (
	"fmt"
	"strings"
)

// Severity separates blocking issues from advisory ones.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue locates one problem in a definition. Path uses the
// document layout, e.g. nodes[2].type or connections.Start[0][1].when[0].
type ValidationIssue struct {
	Path     string   `json:"path"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues of one validation pass. Only errors
// make a definition unusable.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge appends the issues of other. A nil other is ignored.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Errors = append(r.Errors, other.Errors...)
		r.Warnings = append(r.Warnings, other.Warnings...)
	}
}

// ToError returns nil for a valid result. Otherwise it returns a
// VALIDATION_ERROR whose message lists up to three errors and whose details
// carry every issue.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	const shown = 3
	parts := make([]string, 0, shown)
	for i, issue := range r.Errors {
		if i == shown {
			parts = append(parts, fmt.Sprintf("and %d more", len(r.Errors)-shown))
			break
		}
		parts = append(parts, issue.String())
	}
	return NewError(ErrCodeValidation, "invalid workflow: "+strings.Join(parts, "; ")).
		WithDetails(map[string]any{
			"errors":   r.Errors,
			"warnings": r.Warnings,
		})
}
