package schema

import (
	"fmt"
	"strings"
)

// IssueKind names one class of problem in the conversion error taxonomy.
type IssueKind string

const (
	KindFormat                IssueKind = "FormatError"
	KindEmptySheet            IssueKind = "EmptySheetError"
	KindHeader                IssueKind = "HeaderError"
	KindTypeCoercion          IssueKind = "TypeCoercionWarning"
	KindRelationshipAmbiguity IssueKind = "RelationshipAmbiguityWarning"
	KindValidation            IssueKind = "ValidationError"
	KindCanceled              IssueKind = "CanceledError"
	KindWrite                 IssueKind = "WriteError"
)

// Severity separates warnings from errors that fail a run.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Severity returns the default severity for the kind.
func (k IssueKind) Severity() Severity {
	switch k {
	case KindEmptySheet, KindHeader, KindTypeCoercion, KindRelationshipAmbiguity:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// Issue is one accumulated warning or error.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Severity Severity  `json:"severity"`
	Sheet    string    `json:"sheet,omitempty"`
	Table    string    `json:"table,omitempty"`
	Column   string    `json:"column,omitempty"`
	Message  string    `json:"message"`
}

// NewIssue builds an Issue with the kind's default severity.
func NewIssue(kind IssueKind, format string, args ...any) Issue {
	return Issue{
		Kind:     kind,
		Severity: kind.Severity(),
		Message:  fmt.Sprintf(format, args...),
	}
}

// In returns a copy of the issue scoped to a sheet, table and column.
// Empty arguments leave the existing scope untouched.
func (i Issue) In(sheet, table, column string) Issue {
	if sheet != "" {
		i.Sheet = sheet
	}
	if table != "" {
		i.Table = table
	}
	if column != "" {
		i.Column = column
	}
	return i
}

func (i Issue) Error() string {
	var b strings.Builder
	b.WriteString(string(i.Kind))
	if i.Sheet != "" {
		fmt.Fprintf(&b, " sheet=%q", i.Sheet)
	}
	if i.Table != "" {
		fmt.Fprintf(&b, " table=%s", i.Table)
	}
	if i.Column != "" {
		fmt.Fprintf(&b, " column=%s", i.Column)
	}
	b.WriteString(": ")
	b.WriteString(i.Message)
	return b.String()
}

// FormatError reports an unreadable or corrupt workbook. It is the only
// condition that aborts a run.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error: %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Issue converts the error into an accumulated issue.
func (e *FormatError) Issue() Issue {
	return NewIssue(KindFormat, "%s: %v", e.Path, e.Err)
}

// ValidationProblem is one mismatch found while re-reading output.
type ValidationProblem struct {
	Table   string
	Message string
}

// ValidationError reports persisted tables that do not match the profile or
// the descriptor. Output is retained; the run is reported failed.
type ValidationError struct {
	Problems []ValidationProblem
}

// Tables returns the distinct offending table names in first-seen order.
func (e *ValidationError) Tables() []string {
	seen := make(map[string]bool, len(e.Problems))
	var out []string
	for _, p := range e.Problems {
		if p.Table == "" || seen[p.Table] {
			continue
		}
		seen[p.Table] = true
		out = append(out, p.Table)
	}
	return out
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Table+": "+p.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s",
		strings.Join(e.Tables(), ", "), strings.Join(msgs, "; "))
}

// Issues returns one issue per problem.
func (e *ValidationError) Issues() []Issue {
	out := make([]Issue, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, NewIssue(KindValidation, "%s", p.Message).In("", p.Table, ""))
	}
	return out
}
