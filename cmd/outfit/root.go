package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/outfit/pkg/outfit/config"
	"github.com/jamesainslie/outfit/pkg/outfit/logging"
	"github.com/jamesainslie/outfit/pkg/outfit/output"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2

	// exitIntegrity is returned by verify when files are missing or modified.
	exitIntegrity = 3
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

var (
	cfgFile      string
	outputFormat string
	verbose      bool
	quiet        bool

	rootCmd = &cobra.Command{
		Use:   "outfit",
		Short: "Install, update, and repair a content distribution",
		Long: `Outfit installs a distribution of agents, workflows, and templates into a
project directory and keeps it current.

Each run detects what is already installed, picks a strategy (fresh, update,
or repair), applies only the files that changed, and records a manifest so
the next run can do the same.

Examples:
  outfit install --source ./dist --dir .outfit-core
  outfit install --source ./dist --pack game-dev --pack infra
  outfit status
  outfit verify
  outfit backups list`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/outfit/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: "+fmt.Sprint(output.Available()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug output on stderr")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "minimal output")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			printError("%v", ee.err)
		}
		return ee.code
	}
	printError("%v", err)
	return exitFailure
}

// loadConfig reads the config file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, &exitError{code: exitUsage, err: err}
	}
	return cfg, nil
}

// newLogger builds the root logger from cfg, raising console output to
// debug with --verbose.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := cfg.LoggingConfig()
	if err != nil {
		return nil, err
	}
	if verbose {
		lc.ConsoleLevel = "debug"
	}
	if quiet {
		lc.ConsoleLevel = ""
	}
	return logging.New(lc)
}

// formatter resolves the output format from the flag, then the config.
func formatter(cfg *config.Config) (output.Formatter, error) {
	name := outputFormat
	if name == "" && cfg != nil {
		name = cfg.Output
	}
	if name == "" {
		name = config.DefaultOutput
	}
	f, err := output.Get(name)
	if err != nil {
		return nil, &exitError{code: exitUsage, err: err}
	}
	return f, nil
}

// render writes one report to w.
func render(w io.Writer, fn func(*bytes.Buffer) error) error {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// printInfo prints a message unless --quiet is set.
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
