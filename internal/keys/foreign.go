package keys

import (
	"strings"

	"sheetgraph/internal/schema"
)

// Candidate is a column that may reference a target table's primary key.
type Candidate struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
	Method     string
}

// ForeignKeyCandidates lists reference candidates across tables whose primary
// keys are already resolved. Output order: source table, source column, then
// target table, all in workbook order.
//
// A column is a candidate for target T when it is not its own table's primary
// key and either
//   - its name equals T's primary key name case-insensitively and T is
//     another table (name_match), or
//   - its name is <entity>_id / <entity>Id, T is named after the entity
//     (singular or plural) and T's primary key is a bare "id" column
//     (entity_name). T may be the column's own table.
func ForeignKeyCandidates(tables []*schema.Table) []Candidate {
	var out []Candidate
	for _, src := range tables {
		for _, col := range src.Columns {
			if col.IsPrimaryKey || col.Name == src.PrimaryKey {
				continue
			}
			entity := entityOf(col.Name)
			for _, dst := range tables {
				if dst.PrimaryKey == "" {
					continue
				}
				c := Candidate{
					FromTable:  src.Name,
					FromColumn: col.Name,
					ToTable:    dst.Name,
					ToColumn:   dst.PrimaryKey,
				}
				switch {
				case dst != src && strings.EqualFold(col.Name, dst.PrimaryKey):
					c.Method = schema.MethodNameMatch
				case entity != "" && strings.EqualFold(dst.PrimaryKey, "id") && namesEntity(dst.Name, entity):
					c.Method = schema.MethodEntityName
				default:
					continue
				}
				out = append(out, c)
			}
		}
	}
	return out
}

// entityOf returns the entity prefix of an id column (customer_id ->
// "customer", parentCategoryId -> "parent_category"), or "".
func entityOf(name string) string {
	words := Words(name)
	if len(words) < 2 || words[len(words)-1] != "id" {
		return ""
	}
	return strings.Join(words[:len(words)-1], "_")
}

// namesEntity reports whether table is the entity's singular or plural name.
func namesEntity(table, entity string) bool {
	table = strings.ToLower(table)
	for _, form := range entityForms(entity) {
		if table == form {
			return true
		}
	}
	return false
}

func entityForms(entity string) []string {
	forms := []string{entity, entity + "s", entity + "es"}
	if strings.HasSuffix(entity, "y") && len(entity) > 1 && !strings.ContainsRune("aeiou", rune(entity[len(entity)-2])) {
		forms = append(forms, entity[:len(entity)-1]+"ies")
	}
	return forms
}
