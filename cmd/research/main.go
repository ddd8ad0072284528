// Package main provides the researchshell CLI. Without a subcommand it starts
// the interactive research shell; subcommands run single operations.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"researchshell/internal/config"
	"researchshell/internal/logger"
	"researchshell/internal/version"
)

// cliOptions holds flags that are not configuration settings.
type cliOptions struct {
	logLevel   string
	logFile    string
	testMode   bool
	configFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "research",
		Short: "Research Shell - deep research from the terminal",
		Long: `Research sends questions to a deep-research service and streams its progress
and final answer, with references, into persistent local conversations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := logger.Configure(opts.logLevel, opts.logFile, opts.testMode); err != nil {
				return fmt.Errorf("error configuring logger: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShell(cmd, v, opts)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	flags.StringVar(&opts.logFile, "log-file", "", "Write logs to file instead of stderr")
	flags.BoolVar(&opts.testMode, "test-mode", false, "Run in deterministic test mode")
	flags.StringVar(&opts.configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/researchshell/config.yaml)")

	flags.String("base-url", "", "Research service base URL")
	flags.Int("budget", 0, "Token budget sent with each query")
	flags.Int("max-bad-attempt", 0, "Failed attempts the service may make before giving up")
	flags.String("storage", "", "Storage backend (json|sqlite)")
	flags.String("data-dir", "", "Directory holding conversation data")
	flags.String("export-dir", "", "Directory for debug trace exports")
	flags.String("export-format", "", "Debug trace export format (json|yaml)")
	flags.String("render-style", "", "Output style (auto|dark|light|notty|ascii)")
	flags.Int("word-wrap", 0, "Wrap answers at this width")
	flags.Bool("watch-storage", true, "Reload conversations changed by another process (json storage)")

	for key, flag := range map[string]string{
		config.KeyBaseURL:       "base-url",
		config.KeyBudget:        "budget",
		config.KeyMaxBadAttempt: "max-bad-attempt",
		config.KeyStorage:       "storage",
		config.KeyDataDir:       "data-dir",
		config.KeyExportDir:     "export-dir",
		config.KeyExportFormat:  "export-format",
		config.KeyRenderStyle:   "render-style",
		config.KeyWordWrap:      "word-wrap",
		config.KeyWatchStorage:  "watch-storage",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", flag, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(
		newAskCmd(v, opts),
		newListCmd(v, opts),
		newShowCmd(v, opts),
		newDeleteCmd(v, opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	var detailed bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := version.GetFormattedVersion()
			if detailed {
				out = version.GetDetailedVersion()
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(out))
		},
	}
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Show detailed build information")
	return cmd
}
