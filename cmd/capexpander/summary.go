package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Gefyra/capabilityStatement-expander/pkg/export"
)

// summaryDocument is the machine-readable processing summary written for
// tooling that wraps the CLI.
type summaryDocument struct {
	InputDir  string         `json:"inputDir"`
	OutputDir string         `json:"outputDir"`
	Roots     []string       `json:"roots"`
	Filter    string         `json:"filter,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Report    *export.Report `json:"report"`
}

// writeSummary writes the summary JSON to a temp file and returns its
// path.
func writeSummary(inputDir, outputDir string, cfg runConfig, report *export.Report) (string, error) {
	doc := summaryDocument{
		InputDir:  inputDir,
		OutputDir: outputDir,
		Roots:     cfg.urls,
		Filter:    cfg.filter,
		Timestamp: time.Now().UTC(),
		Report:    report,
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize summary: %w", err)
	}

	f, err := os.CreateTemp("", "capexpander-summary-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("failed to write summary: %w", err)
	}
	return f.Name(), nil
}
