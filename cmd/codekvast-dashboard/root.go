package main

import (
	"sync"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "codekvast-dashboard",
	Short:         "Codekvast dashboard gateway: session, status, and method search views.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

// commandExecutionContext records which command runs and whether it has
// bootstrapped structured logging, so fatal-path reporting can match.
type commandExecutionContext struct {
	CommandPath       string
	UsesStructuredLog bool
}

var (
	execCtxMu sync.Mutex
	execCtx   commandExecutionContext
)

func setCommandExecutionContext(ctx commandExecutionContext) {
	execCtxMu.Lock()
	defer execCtxMu.Unlock()
	execCtx = ctx
}

func currentCommandExecutionContext() commandExecutionContext {
	execCtxMu.Lock()
	defer execCtxMu.Unlock()
	return execCtx
}

func resetCommandExecutionContext() {
	setCommandExecutionContext(commandExecutionContext{})
}
