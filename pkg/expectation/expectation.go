// Package expectation models the conformance expectation codes attached to
// CapabilityStatement declarations and import links.
package expectation

import "fmt"

// ExtensionURL is the canonical URL of the expectation extension.
const ExtensionURL = "http://hl7.org/fhir/StructureDefinition/capabilitystatement-expectation"

// Level is a conformance expectation code.
type Level string

// Expectation codes, strongest first.
const (
	Shall    Level = "SHALL"
	Should   Level = "SHOULD"
	May      Level = "MAY"
	ShallNot Level = "SHALL-NOT"
	Unset    Level = ""
)

// Strength returns the numeric strength of a level.
// SHALL=4, SHOULD=3, MAY=2, SHALL-NOT=1, unset/unknown=0.
func Strength(l Level) int {
	switch l {
	case Shall:
		return 4
	case Should:
		return 3
	case May:
		return 2
	case ShallNot:
		return 1
	default:
		return 0
	}
}

// Stronger reports whether a is strictly stronger than b.
func Stronger(a, b Level) bool {
	return Strength(a) > Strength(b)
}

// Allowed reports whether a declaration at the given level passes the filter.
// SHALL-NOT links are never allowed. An unset filter admits every other level.
// Otherwise the level must be at least as strong as the filter.
func Allowed(level, filter Level) bool {
	if level == ShallNot {
		return false
	}
	if filter == Unset {
		return true
	}
	return Strength(level) >= Strength(filter)
}

// ParseFilter validates a user-supplied filter value.
// Only SHALL, SHOULD and MAY are meaningful as filters; an empty string
// means no filtering.
func ParseFilter(s string) (Level, error) {
	switch Level(s) {
	case Unset, Shall, Should, May:
		return Level(s), nil
	default:
		return Unset, fmt.Errorf("invalid expectation filter %q (want SHALL, SHOULD or MAY)", s)
	}
}

// FromExtensions extracts the expectation code from an extension list as
// found in parsed JSON. Returns Unset when no expectation extension is
// present or the list has an unexpected shape.
func FromExtensions(exts any) Level {
	list, ok := exts.([]any)
	if !ok {
		return Unset
	}
	for _, e := range list {
		ext, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if url, _ := ext["url"].(string); url != ExtensionURL {
			continue
		}
		if code, _ := ext["valueCode"].(string); code != "" {
			return Level(code)
		}
	}
	return Unset
}

// FromElement extracts the expectation code attached to a single element
// (for example one entry of CapabilityStatement.rest.resource.interaction).
func FromElement(elem map[string]any) Level {
	if elem == nil {
		return Unset
	}
	return FromExtensions(elem["extension"])
}
