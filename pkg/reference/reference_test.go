package reference

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/Gefyra/capabilityStatement-expander/pkg/pool"
)

type fixture struct {
	id, kind, url, version string
}

func buildPool(t *testing.T, resources []fixture) *pool.Pool {
	t.Helper()
	dir := t.TempDir()
	for _, r := range resources {
		body := map[string]any{"resourceType": r.kind, "id": r.id}
		if r.url != "" {
			body["url"] = r.url
		}
		if r.version != "" {
			body["version"] = r.version
		}
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		name := fmt.Sprintf("%s-%s.json", r.kind, r.id)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	p, err := pool.Load(dir, log.New(io.Discard))
	if err != nil {
		t.Fatalf("pool load failed: %v", err)
	}
	return p
}

func testMatcher(t *testing.T) *Matcher {
	t.Helper()
	p := buildPool(t, []fixture{
		{"PatientProfile", "StructureDefinition", "http://example.org/fhir/StructureDefinition/PatientProfile", ""},
		{"Bundle", "StructureDefinition", "http://hl7.org/fhir/StructureDefinition/Bundle", ""},
		{"BerichtBundle", "StructureDefinition", "https://example.org/fhir/StructureDefinition/BerichtBundle", ""},
		{"patient-123", "Patient", "", ""},
		{"obs-456", "Observation", "", ""},
		{"ProfileV1", "StructureDefinition", "http://example.org/fhir/StructureDefinition/ProfileV1", "1.0.0"},
	})
	return NewMatcher(p, log.New(io.Discard))
}

func TestExactCanonicalMatch(t *testing.T) {
	m := testMatcher(t)
	doc, ok := m.Resolve("http://hl7.org/fhir/StructureDefinition/Bundle")
	if !ok {
		t.Fatal("exact canonical URL should resolve")
	}
	if doc.ID != "Bundle" {
		t.Errorf("resolved %q, want Bundle", doc.ID)
	}
}

func TestNoSubstringFallback(t *testing.T) {
	m := testMatcher(t)
	// "Bundle" is a suffix of "BerichtBundle"; suffix matching must not happen.
	if _, ok := m.Resolve("http://example.org/fhir/StructureDefinition/Bundle"); ok {
		t.Error("substring/suffix matching must not resolve")
	}
}

func TestSchemeSensitivity(t *testing.T) {
	m := testMatcher(t)
	if _, ok := m.Resolve("https://example.org/fhir/StructureDefinition/PatientProfile"); ok {
		t.Error("https must not match an http URL")
	}
	if _, ok := m.Resolve("http://example.org/fhir/StructureDefinition/PatientProfile"); !ok {
		t.Error("exact scheme must match")
	}
	if _, ok := m.Resolve("http://example.org/fhir/StructureDefinition/BerichtBundle"); ok {
		t.Error("http must not match an https URL")
	}
}

func TestVersionSuffix(t *testing.T) {
	m := testMatcher(t)
	if doc, ok := m.Resolve("http://example.org/fhir/StructureDefinition/ProfileV1|1.0.0"); !ok || doc.Version != "1.0.0" {
		t.Error("matching version suffix should resolve")
	}
	if _, ok := m.Resolve("http://example.org/fhir/StructureDefinition/ProfileV1|2.0.0"); ok {
		t.Error("mismatched version suffix must not resolve")
	}
}

func TestVersionDisambiguation(t *testing.T) {
	url := "http://example.org/fhir/StructureDefinition/shared"
	p := buildPool(t, []fixture{
		{"shared-v1", "StructureDefinition", url, "1.0.0"},
		{"shared-v2", "StructureDefinition", url, "2.0.0"},
	})
	m := NewMatcher(p, log.New(io.Discard))

	if doc, ok := m.Resolve(url + "|1.0.0"); !ok || doc.ID != "shared-v1" {
		t.Error("version 1.0.0 should resolve the 1.0.0 document")
	}
	if doc, ok := m.Resolve(url + "|2.0.0"); !ok || doc.ID != "shared-v2" {
		t.Error("version 2.0.0 should resolve the 2.0.0 document")
	}
	if _, ok := m.Resolve(url + "|3.0.0"); ok {
		t.Error("unknown version must not resolve")
	}
	// Bare lookup: highest semantic version wins.
	if doc, ok := m.Resolve(url); !ok || doc.ID != "shared-v2" {
		t.Error("bare lookup should pick the highest semantic version")
	}
}

func TestTypedReference(t *testing.T) {
	m := testMatcher(t)

	doc, ok := m.Resolve("Patient/patient-123")
	if !ok || doc.Kind != "Patient" {
		t.Fatal("relative Type/id reference should resolve")
	}

	doc, ok = m.Resolve("http://example.org/fhir/Patient/patient-123")
	if !ok || doc.ID != "patient-123" {
		t.Error("absolute typed reference should resolve via its last two segments")
	}
}

func TestTypedReferenceTypeMismatch(t *testing.T) {
	m := testMatcher(t)
	if _, ok := m.Resolve("Observation/patient-123"); ok {
		t.Error("typed reference with wrong resource type must not resolve")
	}
}

func TestBareIDNeverMatches(t *testing.T) {
	m := testMatcher(t)
	if _, ok := m.Resolve("patient-123"); ok {
		t.Error("bare ids must never resolve")
	}
}

func TestDefinitionalKindsNotMatchableByTypedReference(t *testing.T) {
	m := testMatcher(t)
	// The id exists with the right kind, but conformance artifacts are
	// canonical-URL-only.
	if _, ok := m.Resolve("StructureDefinition/PatientProfile"); ok {
		t.Error("definitional kinds must not resolve via Type/id")
	}
}

func TestNotFound(t *testing.T) {
	m := testMatcher(t)
	for _, ref := range []string{
		"http://example.org/nonexistent",
		"Patient/nonexistent",
		"",
		"   ",
	} {
		if _, ok := m.Resolve(ref); ok {
			t.Errorf("Resolve(%q) should report not found", ref)
		}
	}
}

func TestResolveRoundTrip(t *testing.T) {
	// Every pooled document with a URL resolves back to itself.
	p := buildPool(t, []fixture{
		{"a", "ValueSet", "http://example.org/fhir/ValueSet/a", ""},
		{"b", "CodeSystem", "http://example.org/fhir/CodeSystem/b", ""},
	})
	m := NewMatcher(p, log.New(io.Discard))
	for _, doc := range p.Documents() {
		got, ok := m.Resolve(doc.URL)
		if !ok || got != doc {
			t.Errorf("Resolve(%q) did not round-trip", doc.URL)
		}
	}
}

func TestResolveCachesMisses(t *testing.T) {
	m := testMatcher(t)
	if _, ok := m.Resolve("http://example.org/missing"); ok {
		t.Fatal("unexpected hit")
	}
	// Second lookup served from cache must give the same answer.
	if _, ok := m.Resolve("http://example.org/missing"); ok {
		t.Error("cached miss should stay a miss")
	}
}
