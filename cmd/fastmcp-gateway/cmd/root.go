// Package cmd provides the CLI commands for the gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fastmcp-gateway/fastmcp-gateway/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fastmcp-gateway",
	Short: "Progressive tool-discovery gateway for MCP",
	Long: `fastmcp-gateway sits between LLM clients and any number of upstream MCP
servers. Instead of exposing every upstream tool, it exposes four meta-tools
(discover_tools, get_tool_schema, execute_tool, refresh_registry) so clients
load tool definitions on demand rather than all at once.

Quick start:
  1. Point it at your upstreams:
     export GATEWAY_UPSTREAMS='{"apollo": "http://localhost:9001/mcp"}'
  2. Run: fastmcp-gateway start
  3. Connect an MCP client to http://localhost:8000/mcp

Configuration:
  Config is loaded from fastmcp-gateway.yaml in the current directory,
  $HOME/.fastmcp-gateway/, or /etc/fastmcp-gateway/.

  Environment variables override config values with the GATEWAY_ prefix.
  Example: GATEWAY_PORT=9090

Commands:
  start       Start the gateway server
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./fastmcp-gateway.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
