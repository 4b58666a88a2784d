package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/graphwriter/internal/config"
)

// ConfigCheckResult is the JSON payload of config validate.
type ConfigCheckResult struct {
	Path     string   `json:"path"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a config file against the schema",
		Long: `Check a YAML config file against the configuration schema and report
every violation. Without an argument the --config file is checked.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return NewExitError(ExitCommandError, "no config file given")
			}
			return runConfigValidate(rootOpts, path, cmd)
		},
	}
}

func runConfigValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	_, err := config.Load(path)
	if err == nil {
		if formatter.Format == "json" {
			return formatter.Success(ConfigCheckResult{Path: path, Valid: true})
		}
		return formatter.Success(fmt.Sprintf("%s: configuration is valid", path))
	}

	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		_ = formatter.Error(ErrCodeConfigInvalid, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeConfigInvalid, "configuration is invalid",
			ConfigCheckResult{Path: path, Problems: verr.Problems})
	} else {
		fmt.Fprintf(formatter.Writer, "%s: configuration is invalid\n", path)
		for _, p := range verr.Problems {
			fmt.Fprintf(formatter.Writer, "  - %s\n", p)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d configuration problem(s)", len(verr.Problems)))
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective configuration as YAML",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			formatter := rootOpts.formatter(cmd)
			if formatter.Format == "json" {
				return formatter.Success(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to render config", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
