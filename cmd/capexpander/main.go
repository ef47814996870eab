// Command capexpander expands a FHIR CapabilityStatement against a
// directory of conformance resources and copies every artifact the
// expanded statement references.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	capexpander "github.com/Gefyra/capabilityStatement-expander"
	"github.com/Gefyra/capabilityStatement-expander/pkg/expectation"
)

const envPrefix = "CAPEXPANDER"

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// usageError marks errors caused by bad invocation rather than a failed
// expansion.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(exitUsage)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

func newRootCmd() *cobra.Command {
	var (
		urls    []string
		filter  string
		clean   bool
		verbose bool
		quiet   bool
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "capexpander <input-dir> <output-dir>",
		Short: "Expand FHIR CapabilityStatements and collect referenced artifacts",
		Long: `capexpander resolves the imports and instantiates links of one or more
CapabilityStatements against a directory of FHIR resources, merges them
into materialized, import-free statements, and copies every referenced
profile, terminology resource, search parameter and example into the
output directory.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], args[1], runConfig{
				urls:    urls,
				filter:  filter,
				clean:   clean,
				verbose: verbose,
				quiet:   quiet,
				summary: summary,
			})
		},
	}

	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "canonical URL of a root CapabilityStatement (repeatable)")
	cmd.Flags().StringVar(&filter, "filter", "", "only expand imports at this expectation level or stronger (SHALL, SHOULD, MAY)")
	cmd.Flags().BoolVar(&clean, "clean", false, "clear the output directory before writing")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")
	cmd.Flags().BoolVar(&summary, "summary", false, "write a JSON processing summary and print its path")

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	for _, flag := range []string{"url", "filter", "clean", "verbose", "quiet", "summary"} {
		_ = viper.BindPFlag(flag, cmd.Flags().Lookup(flag))
	}

	return cmd
}

type runConfig struct {
	urls    []string
	filter  string
	clean   bool
	verbose bool
	quiet   bool
	summary bool
}

func run(cmd *cobra.Command, inputDir, outputDir string, cfg runConfig) error {
	if len(cfg.urls) == 0 {
		cfg.urls = viper.GetStringSlice("url")
	}
	if len(cfg.urls) == 0 {
		return usageError{errors.New("at least one --url is required")}
	}
	if cfg.filter == "" {
		cfg.filter = viper.GetString("filter")
	}
	filter, err := expectation.ParseFilter(cfg.filter)
	if err != nil {
		return usageError{err}
	}
	if info, err := os.Stat(inputDir); err != nil || !info.IsDir() {
		return usageError{fmt.Errorf("input directory does not exist: %s", inputDir)}
	}

	logger := log.New(os.Stderr)
	logger.SetReportTimestamp(true)
	switch {
	case cfg.verbose:
		logger.SetLevel(log.DebugLevel)
	case cfg.quiet:
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}

	exp := capexpander.New(inputDir, outputDir,
		capexpander.WithRoots(cfg.urls...),
		capexpander.WithFilter(filter),
		capexpander.WithCleanOutput(cfg.clean),
		capexpander.WithLogger(logger),
	)

	report, err := exp.Run()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Expanded %d capability statement(s), copied %d artifact(s)\n",
		len(report.Expanded), len(report.Copied))
	for _, artifact := range report.Expanded {
		fmt.Fprintf(out, "  expanded  %-60s %6d bytes\n", artifact.FileName, artifact.Size)
	}
	if cfg.verbose {
		for _, artifact := range report.Copied {
			fmt.Fprintf(out, "  copied    %-60s %6d bytes  %s\n", artifact.FileName, artifact.Size, artifact.Kind)
		}
	}

	if cfg.summary {
		path, err := writeSummary(inputDir, outputDir, cfg, report)
		if err != nil {
			logger.Warn("could not write summary", "err", err)
		} else {
			fmt.Fprintf(out, "Summary written to %s\n", path)
		}
	}
	return nil
}
