package capexpander

import (
	"os"

	"github.com/charmbracelet/log"

	"github.com/Gefyra/capabilityStatement-expander/pkg/expectation"
)

// Option configures the Expander.
type Option func(*Options)

// Options holds all configuration for the Expander.
type Options struct {
	// Roots are the canonical URLs of the capability statements to
	// expand. At least one is required.
	Roots []string

	// Filter restricts expansion to import links at this expectation
	// level or stronger. Unset means no filtering.
	Filter expectation.Level

	// CleanOutput removes the output directory before writing.
	CleanOutput bool

	// Logger receives all diagnostics. Defaults to stderr at Info level.
	Logger *log.Logger
}

// DefaultOptions returns the default configuration.
func DefaultOptions() *Options {
	return &Options{
		Logger: log.New(os.Stderr),
	}
}

// WithRoots sets the root capability statement URLs to expand.
func WithRoots(urls ...string) Option {
	return func(o *Options) {
		o.Roots = append(o.Roots, urls...)
	}
}

// WithFilter sets the expectation filter (SHALL, SHOULD or MAY, meaning
// "this level and everything stronger").
func WithFilter(level expectation.Level) Option {
	return func(o *Options) {
		o.Filter = level
	}
}

// WithCleanOutput clears the output directory before writing.
func WithCleanOutput(clean bool) Option {
	return func(o *Options) {
		o.CleanOutput = clean
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *log.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}
