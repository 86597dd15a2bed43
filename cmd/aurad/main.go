// Command aurad runs the struggle-detection backend: signal aggregation,
// the checkpointed workflow runtime, knowledge retrieval, and the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "aurad",
		Short:         "Struggle-detection backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file (yaml)")

	root.AddCommand(serve)
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println("aurad " + version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "aurad:", err)
		os.Exit(1)
	}
}
