// Package commands implements the column-analyzer CLI.
package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dvloznov/column-analyzer/internal/buildinfo"
	"github.com/dvloznov/column-analyzer/internal/config"
	"github.com/dvloznov/column-analyzer/internal/logger"
)

// options is shared by all subcommands. cfg and log are filled in before any
// subcommand runs.
type options struct {
	configFile string

	cfg *config.Config
	log zerolog.Logger
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	o := &options{}
	v := config.New()

	rootCmd := &cobra.Command{
		Use:     "column-analyzer",
		Short:   "Map bank statement columns onto canonical transaction fields",
		Version: versionString(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.load(cmd, v)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.configFile, "config", "", "config file (optional)")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flags.String("oracle", "gemini", "oracle provider: gemini, ollama, none")
	flags.String("templates-file", "configs/templates.yaml", "template seed file for the file source")

	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("oracle.provider", flags.Lookup("oracle"))
	_ = v.BindPFlag("templates.file", flags.Lookup("templates-file"))

	rootCmd.AddCommand(
		newAnalyzeCommand(o),
		newTemplatesCommand(o),
		newVersionCommand(),
	)

	return rootCmd
}

func (o *options) load(cmd *cobra.Command, v *viper.Viper) error {
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.log = logger.NewWithOptions(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    cmd.ErrOrStderr(),
	})
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// config is not needed to print the version
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "column-analyzer %s\n", versionString())
			return err
		},
	}
}

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
}
