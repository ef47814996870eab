// Package export writes expansion results to the output directory and
// collects the processing report handed back to the CLI.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/Gefyra/capabilityStatement-expander/pkg/pool"
)

// ArtifactInfo describes one written output file.
type ArtifactInfo struct {
	FileName string `json:"filename"`
	Size     int64  `json:"size"`
	Kind     string `json:"kind"`
}

// Report summarizes a run for external formatting. It is the only data
// the core hands to the CLI layer.
type Report struct {
	Expanded []ArtifactInfo `json:"expanded"`
	Copied   []ArtifactInfo `json:"copied"`
}

// Writer writes output artifacts into a single flat directory.
type Writer struct {
	dir     string
	log     *log.Logger
	report  Report
	written map[string]bool
}

// NewWriter prepares the output directory. With clean set, any existing
// content is removed first.
func NewWriter(dir string, clean bool, logger *log.Logger) (*Writer, error) {
	if clean {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to clean output directory %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &Writer{
		dir:     dir,
		log:     logger.WithPrefix("export"),
		written: make(map[string]bool),
	}, nil
}

// Copy writes a verbatim copy of a pool document under its base file
// name. Copies are deduplicated by file name only; colliding names from
// different subdirectories overwrite silently, matching the flat output
// contract.
func (w *Writer) Copy(doc *pool.Document) error {
	if w.written[doc.FileName] {
		return nil
	}
	path := filepath.Join(w.dir, doc.FileName)
	if err := os.WriteFile(path, doc.Raw, 0o644); err != nil {
		return fmt.Errorf("failed to copy %s: %w", doc.FileName, err)
	}
	w.written[doc.FileName] = true
	w.report.Copied = append(w.report.Copied, ArtifactInfo{
		FileName: doc.FileName,
		Size:     int64(len(doc.Raw)),
		Kind:     doc.Kind,
	})
	w.log.Debug("copied", "file", doc.FileName, "kind", doc.Kind)
	return nil
}

// WriteExpanded marks the body as an expansion product and writes it as
// CapabilityStatement-<id>-expanded.json.
func (w *Writer) WriteExpanded(body map[string]any) error {
	MarkExpanded(body)

	id, _ := body["id"].(string)
	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize expanded statement %s: %w", id, err)
	}
	data = append(data, '\n')

	fileName := fmt.Sprintf("CapabilityStatement-%s.json", id)
	path := filepath.Join(w.dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write expanded statement: %w", err)
	}
	w.written[fileName] = true
	w.report.Expanded = append(w.report.Expanded, ArtifactInfo{
		FileName: fileName,
		Size:     int64(len(data)),
		Kind:     pool.KindCapabilityStatement,
	})
	w.log.Info("expanded capability statement written", "file", fileName)
	return nil
}

// Report returns the accumulated run report.
func (w *Writer) Report() *Report {
	return &w.report
}

// MarkExpanded suffixes the identity fields of an expanded body so the
// result is distinguishable from its source: id and url gain
// "-expanded", name gains "Expanded", title gains " (Expanded)".
func MarkExpanded(body map[string]any) {
	if id, ok := body["id"].(string); ok {
		body["id"] = id + "-expanded"
	}
	if url, ok := body["url"].(string); ok {
		body["url"] = url + "-expanded"
	}
	if name, ok := body["name"].(string); ok {
		body["name"] = name + "Expanded"
	}
	if title, ok := body["title"].(string); ok {
		body["title"] = title + " (Expanded)"
	}
}
