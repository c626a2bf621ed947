package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSemanticTypeTextRoundTrip(t *testing.T) {
	t.Parallel()

	for _, typ := range Precedence {
		b, err := typ.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) error: %v", typ, err)
		}
		var got SemanticType
		if err := got.UnmarshalText(b); err != nil {
			t.Fatalf("UnmarshalText(%q) error: %v", b, err)
		}
		if got != typ {
			t.Fatalf("round trip %v = %v", typ, got)
		}
	}

	if _, err := ParseSemanticType("decimal"); err == nil {
		t.Fatalf("ParseSemanticType(decimal) expected error")
	}
}

func TestSemanticTypeJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		T SemanticType `json:"type"`
	}{TypeDateTime})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if got, want := string(b), `{"type":"DateTime"}`; got != want {
		t.Fatalf("json = %s, want %s", got, want)
	}
}

func TestKeyString(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"  C-001 ", "C-001"},
		{int64(42), "42"},
		{float64(42), "42"},
		{float64(4.25), "4.25"},
		{true, "true"},
		{ts, "2024-03-01T09:00:00Z"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := KeyString(tt.in); got != tt.want {
				t.Fatalf("KeyString(%#v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIssueError(t *testing.T) {
	t.Parallel()

	iss := NewIssue(KindTypeCoercion, "%d of %d values", 3, 10).In("Claims", "claims", "amount")
	if iss.Severity != SeverityWarning {
		t.Fatalf("severity = %s, want warning", iss.Severity)
	}
	got := iss.Error()
	for _, want := range []string{"TypeCoercionWarning", `sheet="Claims"`, "table=claims", "column=amount", "3 of 10 values"} {
		if !strings.Contains(got, want) {
			t.Fatalf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestFormatErrorUnwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("zip: not a valid zip file")
	var err error = &FormatError{Path: "book.xlsx", Err: base}
	if !errors.Is(err, base) {
		t.Fatalf("errors.Is should see the wrapped error")
	}
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Issue().Kind != KindFormat {
		t.Fatalf("errors.As FormatError failed or wrong kind")
	}
}

func TestValidationErrorTables(t *testing.T) {
	t.Parallel()

	ve := &ValidationError{Problems: []ValidationProblem{
		{Table: "claims", Message: "row count 4, want 5"},
		{Table: "claims", Message: "column count 2, want 3"},
		{Table: "customers", Message: "missing file"},
	}}
	tables := ve.Tables()
	if len(tables) != 2 || tables[0] != "claims" || tables[1] != "customers" {
		t.Fatalf("Tables() = %v", tables)
	}
	if n := len(ve.Issues()); n != 3 {
		t.Fatalf("Issues() len = %d, want 3", n)
	}
	if !strings.Contains(ve.Error(), "claims, customers") {
		t.Fatalf("Error() = %q", ve.Error())
	}
}

func TestTableLookups(t *testing.T) {
	t.Parallel()

	tbl := &Table{
		Name:       "customers",
		PrimaryKey: "customer_ID",
		Columns:    []*Column{{Name: "customer_ID"}, {Name: "name"}},
	}
	if tbl.ColumnFold("CUSTOMER_id") == nil {
		t.Fatalf("ColumnFold should match case-insensitively")
	}
	if tbl.ColumnIndex("name") != 1 || tbl.ColumnIndex("nope") != -1 {
		t.Fatalf("ColumnIndex mismatch")
	}
	if pk := tbl.PrimaryKeyColumn(); pk == nil || pk.Name != "customer_ID" {
		t.Fatalf("PrimaryKeyColumn = %v", pk)
	}
}
