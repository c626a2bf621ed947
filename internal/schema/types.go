// Package schema holds the in-memory model shared by every conversion stage:
// tables, columns, relationship edges and the issues a run accumulates.
//
// The types live here so workbook, probe, keys, relate, columnar, descriptor
// and storage can all import them without import cycles.
package schema

import (
	"fmt"
	"strings"
)

// SemanticType is the closed set of column types a conversion can assign.
//
// The zero value is TypeText, the fallback type.
type SemanticType uint8

const (
	TypeText SemanticType = iota
	TypeBoolean
	TypeInteger
	TypeFloat
	TypeDateTime
)

// Precedence is the order in which types are tried; the first match wins.
var Precedence = []SemanticType{TypeBoolean, TypeInteger, TypeFloat, TypeDateTime, TypeText}

func (t SemanticType) String() string {
	switch t {
	case TypeBoolean:
		return "Boolean"
	case TypeInteger:
		return "Integer"
	case TypeFloat:
		return "Float"
	case TypeDateTime:
		return "DateTime"
	default:
		return "Text"
	}
}

// ParseSemanticType is the inverse of String. Matching is case-insensitive.
func ParseSemanticType(s string) (SemanticType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boolean":
		return TypeBoolean, nil
	case "integer":
		return TypeInteger, nil
	case "float":
		return TypeFloat, nil
	case "datetime":
		return TypeDateTime, nil
	case "text":
		return TypeText, nil
	default:
		return TypeText, fmt.Errorf("schema: unknown semantic type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t SemanticType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SemanticType) UnmarshalText(b []byte) error {
	v, err := ParseSemanticType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
