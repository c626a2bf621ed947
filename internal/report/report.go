// Package report renders conversion results as markdown for people.
package report

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sheetgraph/internal/pipeline"
	"sheetgraph/internal/schema"
)

var printer = message.NewPrinter(language.English)

// Markdown renders the status, schema and relationship sections of res.
func Markdown(res *pipeline.Result) string {
	var b strings.Builder
	b.WriteString(Status(res))
	b.WriteString("\n")
	b.WriteString(Schema(res.Tables))
	b.WriteString("\n")
	b.WriteString(Relationships(res.Relationships))
	return b.String()
}

// Status renders the run outcome with its summary and issues.
func Status(res *pipeline.Result) string {
	var b strings.Builder
	if res.Succeeded() {
		b.WriteString("**Conversion succeeded**\n\n")
	} else {
		b.WriteString("**Conversion failed**\n\n")
	}

	s := res.Summary
	b.WriteString("**Summary:**\n")
	printer.Fprintf(&b, "- **Tables converted:** %d\n", s.NumTables)
	printer.Fprintf(&b, "- **Total rows:** %d\n", s.TotalRows)
	printer.Fprintf(&b, "- **Total columns:** %d\n", s.TotalColumns)
	printer.Fprintf(&b, "- **Relationships inferred:** %d\n", s.NumRelationships)
	if s.OutputDirectory != "" {
		printer.Fprintf(&b, "- **Output directory:** `%s`\n", s.OutputDirectory)
	}
	if len(s.TableNames) > 0 {
		b.WriteString("\n**Tables:** ")
		b.WriteString(strings.Join(s.TableNames, ", "))
		b.WriteString("\n")
	}

	issues(&b, "Errors", res.Errors)
	issues(&b, "Warnings", res.Warnings)
	return b.String()
}

func issues(b *strings.Builder, title string, list []schema.Issue) {
	if len(list) == 0 {
		return
	}
	printer.Fprintf(b, "\n**%s:**\n", title)
	for _, is := range list {
		printer.Fprintf(b, "- %s\n", escape(is.Error()))
	}
}

// Schema renders one section per table with its columns.
func Schema(tables []*schema.Table) string {
	var b strings.Builder
	b.WriteString("## Schema\n\n")
	if len(tables) == 0 {
		b.WriteString("No tables were converted.\n")
		return b.String()
	}

	for _, t := range tables {
		printer.Fprintf(&b, "### Table: `%s`\n\n", t.Name)
		printer.Fprintf(&b, "- **Rows:** %d\n", t.RowCount)
		printer.Fprintf(&b, "- **Columns:** %d\n", len(t.Columns))
		if t.PrimaryKey != "" {
			printer.Fprintf(&b, "- **Primary key:** `%s`\n", t.PrimaryKey)
		}
		var fks, temporal []string
		for _, c := range t.Columns {
			if c.IsForeignKey {
				fks = append(fks, "`"+c.Name+"`")
			}
			if c.Type == schema.TypeDateTime {
				temporal = append(temporal, "`"+c.Name+"`")
			}
		}
		if len(fks) > 0 {
			printer.Fprintf(&b, "- **Foreign keys:** %s\n", strings.Join(fks, ", "))
		}
		if len(temporal) > 0 {
			printer.Fprintf(&b, "- **Temporal columns:** %s\n", strings.Join(temporal, ", "))
		}

		b.WriteString("\n| Column | Type | Nulls | Unique |\n")
		b.WriteString("|--------|------|-------|--------|\n")
		for _, c := range t.Columns {
			printer.Fprintf(&b, "| `%s` | %s | %.1f%% | %.1f%% |\n",
				escape(c.Name), c.Type, percent(c.NullCount, t.RowCount), c.DistinctRatio*100)
		}
		b.WriteString("\n---\n\n")
	}
	return b.String()
}

// Relationships renders the inferred edges as a table.
func Relationships(edges []schema.Edge) string {
	if len(edges) == 0 {
		return "## Relationships\n\nNo relationships were inferred.\n"
	}

	var b strings.Builder
	b.WriteString("## Relationships\n\n")
	b.WriteString("| Source table | Foreign key | Target table | Target key | Cardinality | Confidence | Method |\n")
	b.WriteString("|--------------|-------------|--------------|------------|-------------|------------|--------|\n")
	for _, e := range edges {
		printer.Fprintf(&b, "| `%s` | `%s` | `%s` | `%s` | %s | %.2f | %s |\n",
			escape(e.FromTable), escape(e.FromColumn), escape(e.ToTable), escape(e.ToColumn),
			e.Cardinality, e.Confidence, e.Method)
	}
	return b.String()
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// escape keeps user text from breaking a table row.
func escape(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}
