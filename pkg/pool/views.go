package pool

import (
	"github.com/Gefyra/capabilityStatement-expander/pkg/expectation"
)

// ImportLink is one resolved entry of CapabilityStatement.imports or
// CapabilityStatement.instantiates, paired with its expectation code.
type ImportLink struct {
	Target       string
	Level        expectation.Level
	Instantiates bool
}

// ImportLinks returns the document's import and instantiation links in
// declaration order. Expectation codes for imports come from the parallel
// _imports extension array; instantiates links always carry an implicit
// SHALL.
func (d *Document) ImportLinks() []ImportLink {
	var links []ImportLink
	links = append(links, readLinks(d.body, "imports", false)...)
	links = append(links, readLinks(d.body, "instantiates", true)...)
	return links
}

func readLinks(body map[string]any, field string, instantiates bool) []ImportLink {
	targets := stringList(body[field])
	if len(targets) == 0 {
		return nil
	}

	// The _<field> array runs parallel to the primary array; entries may
	// be null for links without metadata.
	meta, _ := body["_"+field].([]any)

	links := make([]ImportLink, 0, len(targets))
	for i, target := range targets {
		level := expectation.Shall
		if !instantiates {
			level = expectation.Unset
			if i < len(meta) {
				if elem, ok := meta[i].(map[string]any); ok {
					level = expectation.FromElement(elem)
				}
			}
		}
		links = append(links, ImportLink{Target: target, Level: level, Instantiates: instantiates})
	}
	return links
}

// BaseDefinition returns a StructureDefinition's parent profile URL.
func (d *Document) BaseDefinition() string {
	base, _ := d.body["baseDefinition"].(string)
	return base
}

// MetaProfiles returns the profile URLs an instance claims conformance
// to via meta.profile.
func (d *Document) MetaProfiles() []string {
	meta, ok := d.body["meta"].(map[string]any)
	if !ok {
		return nil
	}
	return stringList(meta["profile"])
}

// stringList coerces a JSON value that may be a string or a list of
// strings into a string slice. Non-string entries are dropped.
func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// CopyMap deep-copies a parsed JSON object.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CopyValue(v)
	}
	return out
}

// CopyValue deep-copies a parsed JSON value.
func CopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CopyValue(item)
		}
		return out
	default:
		// Scalars (string, float64, bool, nil) are immutable.
		return val
	}
}
