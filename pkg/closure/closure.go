// Package closure computes the transitive set of artifacts referenced by
// an expanded CapabilityStatement: profiles, terminology, search
// parameters, parent profiles and matching example instances.
package closure

import (
	"strings"

	"github.com/charmbracelet/log"

	"github.com/Gefyra/capabilityStatement-expander/pkg/pool"
	"github.com/Gefyra/capabilityStatement-expander/pkg/reference"
)

const (
	// maxIterations bounds the fixed-point discovery loop. Well-formed
	// input converges long before this; the bound is a safety valve for
	// malformed reference cycles.
	maxIterations = 10

	// maxParentDepth bounds a baseDefinition chain walk.
	maxParentDepth = 50
)

// foundationPrefixes identify FHIR core artifacts that are never
// expected to be present in a local pool.
var foundationPrefixes = []string{
	"http://hl7.org/fhir/",
	"http://terminology.hl7.org/",
	"urn:ietf:",
}

// IsFoundation reports whether a locator belongs to the FHIR core
// distribution rather than to the local pool.
func IsFoundation(ref string) bool {
	for _, prefix := range foundationPrefixes {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}

// Set is an insertion-ordered reference accumulator. It is shared across
// every root processed in one run and never reset, so references found
// while expanding one root remain visible to the others.
type Set struct {
	order []string
	seen  map[string]bool
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{seen: make(map[string]bool)}
}

// Add inserts a reference, returning true if it was new.
func (s *Set) Add(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || s.seen[ref] {
		return false
	}
	s.seen[ref] = true
	s.order = append(s.order, ref)
	return true
}

// Has reports membership.
func (s *Set) Has(ref string) bool {
	return s.seen[ref]
}

// Refs returns all references in insertion order. The returned slice is
// a snapshot; later additions do not affect it.
func (s *Set) Refs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of accumulated references.
func (s *Set) Len() int {
	return len(s.order)
}

// Engine walks expanded documents and the pool to build the reference
// closure.
type Engine struct {
	pool     *pool.Pool
	matcher  *reference.Matcher
	set      *Set
	analyzed map[string]bool
	log      *log.Logger
}

// NewEngine creates a closure Engine accumulating into the given Set.
func NewEngine(p *pool.Pool, m *reference.Matcher, set *Set, logger *log.Logger) *Engine {
	return &Engine{
		pool:     p,
		matcher:  m,
		set:      set,
		analyzed: make(map[string]bool),
		log:      logger.WithPrefix("closure"),
	}
}

// Set returns the shared reference accumulator.
func (e *Engine) Set() *Set {
	return e.set
}

// Collect performs direct collection over an expanded CapabilityStatement
// body, adding every artifact reference it declares.
func (e *Engine) Collect(body map[string]any) {
	before := e.set.Len()
	e.walk(body, "")
	e.log.Debug("direct collection", "added", e.set.Len()-before, "total", e.set.Len())
}

// walk recursively scans parsed JSON, extracting references by field
// name. The path parameter carries the ancestor field names so that
// `system` is only collected in terminology-bearing contexts.
func (e *Engine) walk(obj any, path string) {
	switch val := obj.(type) {
	case map[string]any:
		for key, value := range val {
			e.walkField(key, value, path)
		}
	case []any:
		for _, item := range val {
			e.walk(item, path)
		}
	}
}

func (e *Engine) walkField(key string, value any, path string) {
	childPath := path + "." + key

	switch key {
	case "supportedProfile", "profile", "targetProfile":
		e.addStrings(value)

	case "valueSet":
		if s, ok := value.(string); ok {
			e.set.Add(s)
		}

	case "binding":
		if b, ok := value.(map[string]any); ok {
			if vs, ok := b["valueSet"].(string); ok {
				e.set.Add(vs)
			}
			e.walk(b, childPath)
		}

	case "system":
		// A system field is only an artifact reference inside
		// terminology-bearing structures; anywhere else (e.g. contact
		// telecom) it is plain data.
		if s, ok := value.(string); ok && inTerminologyContext(path) {
			e.set.Add(s)
		}

	case "searchParam":
		if params, ok := value.([]any); ok {
			for _, p := range params {
				param, ok := p.(map[string]any)
				if !ok {
					continue
				}
				if def, ok := param["definition"].(string); ok {
					e.set.Add(def)
				}
				if b, ok := param["binding"].(map[string]any); ok {
					if vs, ok := b["valueSet"].(string); ok {
						e.set.Add(vs)
					}
				}
				e.walk(param, childPath)
			}
		}

	case "interaction":
		if interactions, ok := value.([]any); ok {
			for _, i := range interactions {
				if interaction, ok := i.(map[string]any); ok {
					if p, ok := interaction["profile"].(string); ok {
						e.set.Add(p)
					}
				}
			}
		}

	case "extension", "modifierExtension":
		if exts, ok := value.([]any); ok {
			for _, x := range exts {
				ext, ok := x.(map[string]any)
				if !ok {
					continue
				}
				if url, ok := ext["url"].(string); ok {
					e.set.Add(url)
				}
				e.walk(ext, childPath)
			}
		}

	case "operation":
		if ops, ok := value.([]any); ok {
			for _, o := range ops {
				if op, ok := o.(map[string]any); ok {
					if def, ok := op["definition"].(string); ok {
						e.set.Add(def)
					}
				}
			}
		}

	case "compartment":
		e.addStrings(value)

	default:
		e.walk(value, childPath)
	}
}

func (e *Engine) addStrings(value any) {
	switch v := value.(type) {
	case string:
		e.set.Add(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				e.set.Add(s)
			}
		}
	}
}

func inTerminologyContext(path string) bool {
	p := strings.ToLower(path)
	for _, ctx := range []string{"binding", "searchparam", "valueset", "extension"} {
		if strings.Contains(p, ctx) {
			return true
		}
	}
	return false
}

// Finalize runs the remaining closure phases: fixed-point nested
// discovery, the parent-profile walk and example discovery.
func (e *Engine) Finalize() {
	e.discoverNested()
	e.walkParentChains()
	e.discoverExamples()
}

// discoverNested repeatedly analyzes newly referenced ValueSets,
// SearchParameters and StructureDefinitions for further references until
// a pass adds nothing new or the iteration bound is reached.
func (e *Engine) discoverNested() {
	iteration := 0
	for ; iteration < maxIterations; iteration++ {
		before := e.set.Len()

		for _, ref := range e.set.Refs() {
			if e.analyzed[ref] {
				continue
			}
			e.analyzed[ref] = true

			doc, ok := e.matcher.Resolve(ref)
			if !ok {
				continue
			}
			switch doc.Kind {
			case pool.KindValueSet:
				e.extractFromValueSet(doc.Body())
			case pool.KindSearchParameter:
				e.extractFromSearchParameter(doc.Body())
			case pool.KindStructureDefinition:
				e.extractFromStructureDefinition(doc.Body())
			}
		}

		added := e.set.Len() - before
		if added == 0 {
			break
		}
		e.log.Debug("nested discovery pass", "iteration", iteration+1, "added", added)
	}
	if iteration >= maxIterations {
		e.log.Warn("nested reference discovery hit the iteration bound; closure may be incomplete",
			"iterations", maxIterations)
	}
}

// extractFromValueSet collects system and valueSet references anywhere
// in a ValueSet (compose.include and friends).
func (e *Engine) extractFromValueSet(body map[string]any) {
	e.walkExtract(body, func(key string, value string) {
		if key == "system" || key == "valueSet" {
			e.set.Add(value)
		}
	})
}

// extractFromSearchParameter collects valueSet and system references from
// a SearchParameter definition.
func (e *Engine) extractFromSearchParameter(body map[string]any) {
	e.walkExtract(body, func(key string, value string) {
		if key == "valueSet" || key == "system" {
			e.set.Add(value)
		}
	})
}

// extractFromStructureDefinition collects binding valueSets and
// type-level profile constraints from a profile definition.
func (e *Engine) extractFromStructureDefinition(body map[string]any) {
	var walk func(obj any)
	walk = func(obj any) {
		switch val := obj.(type) {
		case map[string]any:
			for key, value := range val {
				switch key {
				case "binding":
					if b, ok := value.(map[string]any); ok {
						if vs, ok := b["valueSet"].(string); ok {
							e.set.Add(vs)
						}
					}
				case "type":
					if types, ok := value.([]any); ok {
						for _, t := range types {
							if tm, ok := t.(map[string]any); ok {
								e.addStrings(tm["profile"])
								e.addStrings(tm["targetProfile"])
							}
						}
					}
				default:
					walk(value)
				}
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(body)
}

// walkExtract runs fn over every string-valued field in obj.
func (e *Engine) walkExtract(obj any, fn func(key, value string)) {
	switch val := obj.(type) {
	case map[string]any:
		for key, value := range val {
			if s, ok := value.(string); ok {
				fn(key, s)
			} else {
				e.walkExtract(value, fn)
			}
		}
	case []any:
		for _, item := range val {
			e.walkExtract(item, fn)
		}
	}
}

// walkParentChains follows baseDefinition chains of every referenced
// StructureDefinition, adding each ancestor. Chains stop at foundation
// artifacts, at a cycle, or at the depth bound.
func (e *Engine) walkParentChains() {
	for _, ref := range e.set.Refs() {
		doc, ok := e.matcher.Resolve(ref)
		if !ok || doc.Kind != pool.KindStructureDefinition {
			continue
		}
		e.walkParentChain(doc)
	}
}

func (e *Engine) walkParentChain(doc *pool.Document) {
	visited := map[string]bool{doc.URL: true}

	current := doc
	for depth := 0; depth < maxParentDepth; depth++ {
		parent := current.BaseDefinition()
		if parent == "" {
			return
		}
		if IsFoundation(parent) {
			// Core base types are never in the pool; end of chain.
			return
		}
		if visited[parent] {
			e.log.Debug("parent profile cycle detected", "url", parent)
			return
		}
		visited[parent] = true
		e.set.Add(parent)

		next, ok := e.matcher.Resolve(parent)
		if !ok {
			e.log.Warn("parent profile not found in pool", "url", parent)
			return
		}
		current = next
	}
	e.log.Warn("parent profile chain exceeded depth bound", "start", doc.URL, "depth", maxParentDepth)
}

// discoverExamples scans the entire pool for instance resources whose
// meta.profile claims conformance to any referenced profile, adding them
// as Type/id references. One matching profile suffices.
func (e *Engine) discoverExamples() {
	found := 0
	for _, doc := range e.pool.Documents() {
		if doc.Kind == pool.KindStructureDefinition {
			continue
		}
		for _, profile := range doc.MetaProfiles() {
			if e.set.Has(profile) {
				if e.set.Add(doc.Ref()) {
					found++
					e.log.Debug("example discovered", "ref", doc.Ref(), "profile", profile)
				}
				break
			}
		}
	}
	if found > 0 {
		e.log.Info("examples discovered", "count", found)
	}
}
