package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "telebridge",
		Short:         "Bridge a Telegram bot account to a local web chat UI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion loop and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe(cfgPath)
			return nil
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config.toml")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
