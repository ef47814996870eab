package capexpander

import (
	"errors"
	"fmt"

	"github.com/Gefyra/capabilityStatement-expander/pkg/closure"
	"github.com/Gefyra/capabilityStatement-expander/pkg/expander"
	"github.com/Gefyra/capabilityStatement-expander/pkg/export"
	"github.com/Gefyra/capabilityStatement-expander/pkg/merge"
	"github.com/Gefyra/capabilityStatement-expander/pkg/pool"
	"github.com/Gefyra/capabilityStatement-expander/pkg/reference"
)

// ErrNoRoots is returned by Run when no root URLs were configured.
var ErrNoRoots = errors.New("no root capability statement URLs configured")

// Expander orchestrates a full expansion run: pool loading, per-root
// import expansion, reference closure and output writing.
type Expander struct {
	inputDir  string
	outputDir string
	opts      *Options
}

// New creates an Expander reading from inputDir and writing to
// outputDir.
func New(inputDir, outputDir string, opts ...Option) *Expander {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return &Expander{
		inputDir:  inputDir,
		outputDir: outputDir,
		opts:      options,
	}
}

// Run executes the expansion and returns the processing report.
//
// A missing or mistyped root is fatal. Everything else degrades
// gracefully: unresolvable imports and references are logged and
// omitted, producing a partial but internally consistent result.
func (e *Expander) Run() (*export.Report, error) {
	if len(e.opts.Roots) == 0 {
		return nil, ErrNoRoots
	}
	logger := e.opts.Logger

	p, err := pool.Load(e.inputDir, logger)
	if err != nil {
		return nil, err
	}

	matcher := reference.NewMatcher(p, logger)

	// Roots are validated up front so a bad invocation fails before any
	// output is written.
	roots := make([]*pool.Document, 0, len(e.opts.Roots))
	rootFiles := make(map[string]bool, len(e.opts.Roots))
	for _, url := range e.opts.Roots {
		doc, ok := matcher.Resolve(url)
		if !ok {
			return nil, fmt.Errorf("root capability statement not found: %s", url)
		}
		if !doc.IsCapability() {
			return nil, fmt.Errorf("resource at %s is a %s, not a CapabilityStatement", url, doc.Kind)
		}
		roots = append(roots, doc)
		rootFiles[doc.FileName] = true
	}

	writer, err := export.NewWriter(e.outputDir, e.opts.CleanOutput, logger)
	if err != nil {
		return nil, err
	}

	// The reference set and the reached-statements set accumulate
	// across all roots; only the per-root expansion context resets.
	refs := closure.NewSet()
	closureEngine := closure.NewEngine(p, matcher, refs, logger)
	resolver := expander.New(matcher, merge.New(logger), closureEngine, e.opts.Filter, logger)

	for _, root := range roots {
		expanded := resolver.Expand(root, expander.NewContext())

		if err := writer.Copy(root); err != nil {
			return nil, err
		}
		if err := writer.WriteExpanded(expanded); err != nil {
			return nil, err
		}
	}

	closureEngine.Finalize()

	for _, cs := range resolver.Reached() {
		if rootFiles[cs.FileName] {
			continue
		}
		if err := writer.Copy(cs); err != nil {
			return nil, err
		}
	}

	for _, ref := range refs.Refs() {
		if closure.IsFoundation(ref) {
			continue
		}
		doc, ok := matcher.Resolve(ref)
		if !ok {
			logger.Warn("referenced artifact not found in pool", "ref", ref)
			continue
		}
		if err := writer.Copy(doc); err != nil {
			return nil, err
		}
	}

	report := writer.Report()
	logger.Info("expansion finished",
		"roots", len(roots),
		"expanded", len(report.Expanded),
		"copied", len(report.Copied),
		"references", refs.Len())
	return report, nil
}
