package capexpander

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/Gefyra/capabilityStatement-expander/pkg/expectation"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if len(opts.Roots) != 0 {
		t.Errorf("Roots = %v; want empty", opts.Roots)
	}
	if opts.Filter != expectation.Unset {
		t.Errorf("Filter = %q; want unset", opts.Filter)
	}
	if opts.CleanOutput != false {
		t.Error("CleanOutput should be false by default")
	}
	if opts.Logger == nil {
		t.Error("Logger should have a stderr default")
	}
}

func TestOptionApplication(t *testing.T) {
	logger := log.New(io.Discard)
	opts := DefaultOptions()
	for _, opt := range []Option{
		WithRoots("http://example.org/cs/a", "http://example.org/cs/b"),
		WithRoots("http://example.org/cs/c"),
		WithFilter(expectation.Should),
		WithCleanOutput(true),
		WithLogger(logger),
	} {
		opt(opts)
	}

	if len(opts.Roots) != 3 {
		t.Errorf("Roots = %v; want 3 accumulated entries", opts.Roots)
	}
	if opts.Filter != expectation.Should {
		t.Errorf("Filter = %q; want SHOULD", opts.Filter)
	}
	if !opts.CleanOutput {
		t.Error("CleanOutput should be true after WithCleanOutput(true)")
	}
	if opts.Logger != logger {
		t.Error("WithLogger should replace the default logger")
	}
}

func TestWithLoggerIgnoresNil(t *testing.T) {
	opts := DefaultOptions()
	WithLogger(nil)(opts)
	if opts.Logger == nil {
		t.Error("a nil logger must not overwrite the default")
	}
}
