package workbook

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// structuralSuffixes are sheet-name endings that describe a modeling role
// rather than the entity. Longest first.
var structuralSuffixes = []string{"_facts", "_fact", "_dim"}

const maxNameLen = 63

// TableName derives a canonical table name from a sheet name: diacritics
// folded, lowercased, separators mapped to "_", other punctuation dropped and
// a trailing structural suffix removed. It returns "" when nothing usable
// remains; callers supply a positional fallback.
func TableName(sheet string) string {
	name := normalizeIdent(foldDiacritics(sheet))
	for _, suf := range structuralSuffixes {
		if trimmed := strings.TrimSuffix(name, suf); trimmed != name && trimmed != "" {
			name = strings.TrimRight(trimmed, "_")
			break
		}
	}
	return truncateIdent(name)
}

// assignNames sets Sheet.Name for every sheet. Every sheet whose name is the
// first occurrence in workbook order keeps it bare; later collisions get _2,
// _3, ... skipping any name already reserved, including bare names of later
// sheets.
func assignNames(sheets []Sheet) {
	bases := make([]string, len(sheets))
	taken := make(map[string]bool, len(sheets))
	bare := make([]bool, len(sheets))
	for i := range sheets {
		base := TableName(sheets[i].Source)
		if base == "" {
			base = "sheet_" + strconv.Itoa(sheets[i].Index+1)
		}
		bases[i] = base
		if !taken[base] {
			taken[base], bare[i] = true, true
		}
	}
	for i := range sheets {
		name := bases[i]
		if !bare[i] {
			for n := 2; taken[name]; n++ {
				name = bases[i] + "_" + strconv.Itoa(n)
			}
			taken[name] = true
		}
		sheets[i].Name = name
	}
}

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldDiacritics(s string) string {
	out, _, err := transform.String(diacriticFolder, s)
	if err != nil {
		return s
	}
	return out
}

// normalizeIdent converts an arbitrary string into a lowercase identifier
// made of [a-z0-9_].
func normalizeIdent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(s))

	lastUnderscore := false
	for _, r := range s {
		if unicode.IsSpace(r) || strings.ContainsRune("-./\\:;,|+&", r) {
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			lastUnderscore = r == '_'
		}
	}
	return strings.Trim(b.String(), "_")
}

// truncateIdent enforces the common 63-byte identifier limit on a UTF-8
// boundary.
func truncateIdent(s string) string {
	if len(s) <= maxNameLen {
		return s
	}
	cut := maxNameLen
	for cut > 0 && !utf8.ValidString(s[:cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], "_")
}
