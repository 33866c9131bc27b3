// Command rhost-console is a terminal REPL over one worker session.
//
// Input is sent to the worker as console input; the prompt follows the
// worker, so a breakpoint drops into its browse prompt where n, s, f, c
// and Q step the debugger. Lines starting with ':' are console commands,
// see :help.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts consoleOptions

	cmd := &cobra.Command{
		Use:           "rhost-console",
		Short:         "Interactive console for a worker session",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.connect, "connect", "", "Websocket URL of a running worker; default runs one in-process")
	cmd.Flags().StringVar(&opts.workDir, "workdir", "", "Initial working directory")
	cmd.Flags().StringVar(&opts.history, "history", ".rhost_history", "History file, relative to the home directory")
	cmd.Flags().StringVar(&opts.breakpoints, "breakpoints", "", "YAML file persisting breakpoints")
	cmd.Flags().BoolVar(&opts.trace, "trace", true, "Attach the debugger on start")
	return cmd
}
