package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/agentuity/readaside/config"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "readaside",
	Short:   "Cache-aside read service for CacheableTable",
	Version: Version,
}

func init() {
	flags := rootCmd.PersistentFlags()
	config.RegisterFlags(flags)
	flags.Bool("no-telemetry", false, "disable trace and log export")
	flags.String("otlp-url", "", "OTLP/HTTP collector url (OTEL_EXPORTER_OTLP_ENDPOINT)")
	flags.String("otlp-token", "", "bearer token for the collector (OTEL_EXPORTER_OTLP_TOKEN)")

	rootCmd.AddCommand(serveCmd, getCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
