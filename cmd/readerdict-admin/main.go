package main

import (
	"fmt"
	"os"

	"github.com/reader-dict/website/internal/platform/config"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	rootCmd := newRootCmd(func() (*config.Config, error) {
		return config.Load(configPath)
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "readerdict-admin",
		Short:         "Operator tools for the reader.dict order store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(ordersCmd(loadConfig))
	rootCmd.AddCommand(metricsCmd(loadConfig))
	rootCmd.AddCommand(outboxCmd(loadConfig))
	return rootCmd
}
