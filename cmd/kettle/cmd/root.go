// Package cmd contains the kettle CLI commands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	output string

	version   = "dev"
	buildTime = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "kettle",
	Short: "Route HTTP, WebSocket and socket-event requests to handlers",
	Long: `kettle serves one or more servers, each with its own routing table.
Every route binds a path pattern to a handler over one of three transports:
http, ws and socket-event.

Examples:
  # Serve a single configuration
  kettle serve --config configs/kettle.yaml

  # Serve several servers described by a servers file
  kettle serve --servers configs/servers.yaml

  # Show how a configuration expression resolves
  kettle resolve env:HOME file:%kettle/secret args:0

  # Query the status of a running server
  kettle status --url http://localhost:8080 --token $KETTLE_SERVER_ADMIN_TOKEN

Environment Variables:
  KETTLE_*  Override any configuration key, e.g. KETTLE_SERVER_PORT=9090`,
	SilenceUsage: true,
	Version:      version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("kettle {{.Version}} (built %s)\n", buildTime))
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// printTable prints data in a simple table format
func printTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Printf("%-*s  ", widths[i], h)
	}
	fmt.Println()
	for i := range headers {
		fmt.Printf("%s  ", strings.Repeat("-", widths[i]))
	}
	fmt.Println()
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Printf("%-*s  ", widths[i], cell)
			}
		}
		fmt.Println()
	}
}
