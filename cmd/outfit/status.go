package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/outfit/pkg/outfit/install"
)

var statusCmd = &cobra.Command{
	Use:   "status [dir]",
	Short: "Show what is installed in a directory",
	Long: `Status reports the detected state, version, and integrity of an
installation and of each expansion pack in it. Nothing is modified.

Without a directory, the installation is searched for in ./.outfit-core,
./outfit-core, the current directory, ../.outfit-core, and ~/.outfit-core.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var verifyCmd = &cobra.Command{
	Use:   "verify [dir]",
	Short: "Check installed files against their manifests",
	Long: `Verify hashes every file recorded in the installation's manifests and
lists the ones that are missing or modified. It exits with status 3 when
anything is flagged. Nothing is modified; run 'outfit install' to repair.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Print the path of the nearest installation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := install.FindInstallation()
		if err != nil {
			return &exitError{code: exitFailure, err: err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(findCmd)
}

// targetArg returns the directory argument, or the nearest installation.
func targetArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	dir, err := install.FindInstallation()
	if err != nil {
		return "", &exitError{code: exitFailure, err: fmt.Errorf("%w; pass a directory", err)}
	}
	return dir, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	f, err := formatter(cfg)
	if err != nil {
		return err
	}
	dir, err := targetArg(args)
	if err != nil {
		return err
	}

	orch := install.New(install.WithLogger(logger))
	st, err := orch.Status(cmd.Context(), dir)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), func(buf *bytes.Buffer) error { return f.Status(buf, &st) })
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	f, err := formatter(cfg)
	if err != nil {
		return err
	}
	dir, err := targetArg(args)
	if err != nil {
		return err
	}

	orch := install.New(install.WithLogger(logger), install.WithWorkers(cfg.Workers.Hash, 0))
	v, err := orch.Verify(cmd.Context(), dir)
	if err != nil {
		return err
	}
	if err := render(cmd.OutOrStdout(), func(buf *bytes.Buffer) error { return f.Verify(buf, &v) }); err != nil {
		return err
	}
	if !v.OK() {
		return &exitError{code: exitIntegrity}
	}
	return nil
}
