package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"researchshell/pkg/researchtypes"
)

// errResearchFailed makes a one-shot ask exit non-zero.
var errResearchFailed = errors.New("research did not complete")

func newAskCmd(v *viper.Viper, opts *cliOptions) *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Research a question in a new conversation and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			// Reuse the selected conversation while it is still untouched.
			if conv, err := a.store.Selected(); err != nil || len(conv.Messages) > 0 {
				if _, err := a.ctrl.NewQuestion(); err != nil {
					return err
				}
			}

			if err := a.handler.Ask(ctx, strings.Join(args, " ")); err != nil {
				return err
			}
			if export {
				if err := a.handler.Export(""); err != nil {
					return err
				}
			}

			snapshot, ok := a.ctrl.ActiveSnapshot()
			if ok && snapshot.Status != researchtypes.SessionCompleted {
				return fmt.Errorf("%w: session %s", errResearchFailed, snapshot.Status)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "Write the debug trace to the export directory afterwards")
	return cmd
}

func newListCmd(v *viper.Viper, opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(v, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()
			return a.handler.List()
		},
	}
}

func newShowCmd(v *viper.Viper, opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [index|id]",
		Short: "Print a conversation (default: the selected one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()
			return a.handler.Show(firstArg(args))
		},
	}
}

func newDeleteCmd(v *viper.Viper, opts *cliOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <index|id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(v, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()
			return a.handler.Delete(args[0], yes)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Delete without asking for confirmation")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
