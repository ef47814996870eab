// Package reference resolves canonical URLs and typed FHIR references
// against a loaded resource pool.
//
// Exactly two strategies are tried, in order, with no fuzzy or substring
// fallback:
//
//  1. Exact canonical URL match, honoring an optional |version suffix.
//  2. Typed instance reference (Type/id, relative or absolute), with
//     mandatory resource type validation. Conformance artifacts are
//     never matched this way, and bare ids never match at all.
package reference

import (
	"strings"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/mod/semver"

	"github.com/Gefyra/capabilityStatement-expander/pkg/pool"
)

const cacheSize = 512

// Matcher resolves reference strings to pool documents.
type Matcher struct {
	pool  *pool.Pool
	cache *lru.Cache[string, *pool.Document]
	log   *log.Logger
}

// NewMatcher creates a Matcher over the given pool.
func NewMatcher(p *pool.Pool, logger *log.Logger) *Matcher {
	cache, _ := lru.New[string, *pool.Document](cacheSize)
	return &Matcher{
		pool:  p,
		cache: cache,
		log:   logger.WithPrefix("reference"),
	}
}

// Resolve resolves a reference string to a document. The second return
// value is false when the reference matches nothing in the pool; callers
// treat that as "artifact absent", never as a fatal condition.
func (m *Matcher) Resolve(ref string) (*pool.Document, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false
	}

	if doc, ok := m.cache.Get(ref); ok {
		return doc, doc != nil
	}

	doc := m.resolve(ref)
	m.cache.Add(ref, doc)
	return doc, doc != nil
}

func (m *Matcher) resolve(ref string) *pool.Document {
	if doc := m.byCanonical(ref); doc != nil {
		return doc
	}
	return m.byTypedReference(ref)
}

// byCanonical implements strategy 1. Scheme and casing are significant:
// an https:// reference never matches an http:// URL.
func (m *Matcher) byCanonical(ref string) *pool.Document {
	base, version := splitVersion(ref)
	candidates := m.pool.ByURL(base)
	if len(candidates) == 0 {
		return nil
	}

	if version != "" {
		// A versioned reference must match a candidate's version exactly;
		// other candidates under the same URL are still considered.
		for _, doc := range candidates {
			if doc.Version == version {
				return doc
			}
		}
		return nil
	}

	if len(candidates) == 1 {
		return candidates[0]
	}

	// Several versions share this URL and the reference does not pick
	// one. The documented tie-break is the highest semantic version.
	best := pickHighestVersion(candidates)
	m.log.Debug("ambiguous canonical URL, picked highest version",
		"url", base, "version", best.Version, "candidates", len(candidates))
	return best
}

// byTypedReference implements strategy 2: Type/id, either relative or as
// the last two path segments of an absolute URL. The target's recorded
// resource type must equal Type exactly, and conformance artifact kinds
// are excluded entirely.
func (m *Matcher) byTypedReference(ref string) *pool.Document {
	resourceType, id, ok := splitTypedReference(ref)
	if !ok {
		return nil
	}
	if pool.IsDefinitionalKind(resourceType) {
		return nil
	}

	doc, found := m.pool.ByID(id)
	if !found || doc.Kind != resourceType {
		return nil
	}
	return doc
}

// splitVersion splits a canonical reference of the form "url|version".
func splitVersion(ref string) (base, version string) {
	if i := strings.LastIndex(ref, "|"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

// splitTypedReference extracts Type and id from a typed reference.
// Bare ids (no slash) never qualify.
func splitTypedReference(ref string) (resourceType, id string, ok bool) {
	var segments []string
	if strings.Contains(ref, "://") {
		// Absolute: the last two path segments carry Type/id.
		_, path, found := strings.Cut(ref, "://")
		if !found {
			return "", "", false
		}
		segments = strings.Split(path, "/")
	} else {
		segments = strings.Split(ref, "/")
		if len(segments) != 2 {
			return "", "", false
		}
	}
	if len(segments) < 2 {
		return "", "", false
	}

	resourceType = segments[len(segments)-2]
	id = segments[len(segments)-1]
	if resourceType == "" || id == "" || !isResourceTypeName(resourceType) {
		return "", "", false
	}
	return resourceType, id, true
}

// isResourceTypeName reports whether s looks like a FHIR resource type
// name (UpperCamelCase, letters only).
func isResourceTypeName(s string) bool {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// pickHighestVersion orders candidates by semantic version, highest
// first. Documents with non-semver versions rank below valid ones and
// fall back to lexical comparison among themselves.
func pickHighestVersion(candidates []*pool.Document) *pool.Document {
	best := candidates[0]
	for _, doc := range candidates[1:] {
		if versionLess(best, doc) {
			best = doc
		}
	}
	return best
}

func versionLess(a, b *pool.Document) bool {
	av, bv := "v"+a.Version, "v"+b.Version
	aValid, bValid := semver.IsValid(av), semver.IsValid(bv)
	switch {
	case aValid && bValid:
		return semver.Compare(av, bv) < 0
	case aValid != bValid:
		return bValid
	default:
		return a.Version < b.Version
	}
}
