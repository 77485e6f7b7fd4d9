package main

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dashboard version.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionJSON {
			b, err := json.MarshalIndent(map[string]string{
				"version": version,
				"commit":  commit,
				"go":      runtime.Version(),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("codekvast-dashboard version=%s commit=%s go=%s\n", version, commit, runtime.Version())
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Print version info as JSON")
}
