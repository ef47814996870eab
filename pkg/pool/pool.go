// Package pool loads a directory of FHIR resources into an in-memory,
// read-only index keyed by resource id and by canonical URL.
package pool

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/charmbracelet/log"
)

// Well-known resource types.
const (
	KindCapabilityStatement = "CapabilityStatement"
	KindStructureDefinition = "StructureDefinition"
	KindValueSet            = "ValueSet"
	KindCodeSystem          = "CodeSystem"
	KindSearchParameter     = "SearchParameter"
	KindOperationDefinition = "OperationDefinition"
)

// definitionalKinds are conformance resource types that are addressed by
// canonical URL only, never by Type/id reference.
var definitionalKinds = map[string]bool{
	KindCapabilityStatement: true,
	KindStructureDefinition: true,
	KindValueSet:            true,
	KindCodeSystem:          true,
	KindSearchParameter:     true,
	KindOperationDefinition: true,
	"ImplementationGuide":   true,
	"ConceptMap":            true,
	"NamingSystem":          true,
}

// IsDefinitionalKind reports whether the resource type is a conformance
// artifact that must be looked up by canonical URL.
func IsDefinitionalKind(kind string) bool {
	return definitionalKinds[kind]
}

// Document is one loaded resource. Documents are owned by the Pool and
// immutable after load; callers that need to modify a body must work on
// a deep copy (CopyBody).
type Document struct {
	Kind     string
	ID       string
	URL      string
	Version  string
	FileName string
	Path     string
	Raw      []byte

	body map[string]any
}

// Body returns the parsed resource body. The returned map is shared and
// must not be mutated.
func (d *Document) Body() map[string]any {
	return d.body
}

// CopyBody returns a deep copy of the resource body, safe to mutate.
func (d *Document) CopyBody() map[string]any {
	return CopyMap(d.body)
}

// IsCapability reports whether the document is a CapabilityStatement.
func (d *Document) IsCapability() bool {
	return d.Kind == KindCapabilityStatement
}

// Ref returns the document's Type/id reference.
func (d *Document) Ref() string {
	return d.Kind + "/" + d.ID
}

// Pool is the loaded resource index. It is populated once by Load and
// read-only afterwards.
type Pool struct {
	byID  map[string]*Document
	byURL map[string][]*Document
	docs  []*Document

	log *log.Logger
}

// Load reads every *.json file under dir (recursively) into a new Pool.
// Files that do not parse as JSON objects or lack a resourceType are
// skipped with a warning. The only fatal condition is an unreadable
// directory.
func Load(dir string, logger *log.Logger) (*Pool, error) {
	p := &Pool{
		byID:  make(map[string]*Document),
		byURL: make(map[string][]*Document),
		log:   logger.WithPrefix("pool"),
	}

	walkErr := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			p.log.Warn("unreadable file skipped", "path", path, "err", err)
			return nil
		}
		p.add(path, data)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to scan resource directory %s: %w", dir, walkErr)
	}

	// Stable enumeration order regardless of filesystem quirks.
	sort.Slice(p.docs, func(i, j int) bool { return p.docs[i].Path < p.docs[j].Path })

	p.log.Info("resource pool loaded", "count", len(p.docs), "dir", dir)
	return p, nil
}

// add parses and indexes a single file. Malformed input is logged and
// dropped, never fatal.
func (p *Pool) add(path string, data []byte) {
	kind, err := jsonparser.GetString(data, "resourceType")
	if err != nil || kind == "" {
		p.log.Warn("not a FHIR resource, skipped", "path", path)
		return
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		p.log.Warn("could not parse resource", "path", path, "err", err)
		return
	}

	doc := &Document{
		Kind:     kind,
		ID:       stem(path),
		FileName: filepath.Base(path),
		Path:     path,
		Raw:      data,
		body:     body,
	}
	if id, err := jsonparser.GetString(data, "id"); err == nil && id != "" {
		doc.ID = id
	}
	if url, err := jsonparser.GetString(data, "url"); err == nil {
		doc.URL = url
	}
	if version, err := jsonparser.GetString(data, "version"); err == nil {
		doc.Version = version
	}

	if existing, dup := p.byID[doc.ID]; dup {
		p.log.Warn("duplicate resource id, keeping first", "id", doc.ID, "kept", existing.Path, "dropped", path)
	} else {
		p.byID[doc.ID] = doc
	}
	if doc.URL != "" {
		p.byURL[doc.URL] = append(p.byURL[doc.URL], doc)
	}
	p.docs = append(p.docs, doc)

	p.log.Debug("loaded", "ref", doc.Ref(), "url", doc.URL)
}

// ByID returns the document with the given resource id.
func (p *Pool) ByID(id string) (*Document, bool) {
	d, ok := p.byID[id]
	return d, ok
}

// ByURL returns every document indexed under the given canonical URL.
// Multiple documents share a URL when the pool carries several versions.
func (p *Pool) ByURL(url string) []*Document {
	return p.byURL[url]
}

// Documents returns all loaded documents in stable (path) order.
func (p *Pool) Documents() []*Document {
	return p.docs
}

// Count returns the number of loaded documents.
func (p *Pool) Count() int {
	return len(p.docs)
}

// stem returns the file name without directory or extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
