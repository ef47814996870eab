package export

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/Gefyra/capabilityStatement-expander/pkg/pool"
)

func loadSingle(t *testing.T, name, content string) *pool.Document {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := pool.Load(dir, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if p.Count() != 1 {
		t.Fatalf("fixture pool holds %d documents", p.Count())
	}
	return p.Documents()[0]
}

func TestCopyWritesVerbatimAndDeduplicates(t *testing.T) {
	doc := loadSingle(t, "ValueSet-v.json", `{"resourceType":"ValueSet","id":"v"}`)
	out := t.TempDir()
	w, err := NewWriter(out, false, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Copy(doc); err != nil {
		t.Fatal(err)
	}
	if err := w.Copy(doc); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(out, "ValueSet-v.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"resourceType":"ValueSet","id":"v"}` {
		t.Error("copy must be byte-identical to the source")
	}
	if len(w.Report().Copied) != 1 {
		t.Errorf("report lists %d copies, want 1 (deduplicated by filename)", len(w.Report().Copied))
	}
}

func TestWriteExpandedSuffixesIdentity(t *testing.T) {
	out := t.TempDir()
	w, err := NewWriter(out, false, log.New(io.Discard))
	if err != nil {
		t.Fatal(err)
	}

	body := map[string]any{
		"resourceType": "CapabilityStatement",
		"id":           "base",
		"url":          "http://example.org/cs/base",
		"name":         "Base",
		"title":        "Base Capability",
	}
	if err := w.WriteExpanded(body); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(out, "CapabilityStatement-base-expanded.json"))
	if err != nil {
		t.Fatalf("expanded file missing: %v", err)
	}
	var written map[string]any
	if err := json.Unmarshal(data, &written); err != nil {
		t.Fatal(err)
	}
	if written["id"] != "base-expanded" ||
		written["url"] != "http://example.org/cs/base-expanded" ||
		written["name"] != "BaseExpanded" ||
		written["title"] != "Base Capability (Expanded)" {
		t.Errorf("identity fields not suffixed: %v", written)
	}

	report := w.Report()
	if len(report.Expanded) != 1 || report.Expanded[0].Kind != "CapabilityStatement" {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestNewWriterClean(t *testing.T) {
	out := t.TempDir()
	stale := filepath.Join(out, "stale.json")
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewWriter(out, true, log.New(io.Discard)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("clean writer should remove pre-existing output")
	}
}
