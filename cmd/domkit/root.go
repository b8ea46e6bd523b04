package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "domkit",
		Short: "domkit - element addressing and interaction over MCP",
		Long: `domkit finds inputs, clickables and text on web pages, addresses them by
XPath, draws labelled overlays and synthesizes input events.

Quick start:
  domkit init                              # Create .domkit/ in this directory
  domkit serve                             # MCP over stdio
  domkit serve --sse-port 8765             # MCP over SSE
  domkit inspect inputs page.html          # Offline extraction
  domkit inspect text page.html "Total"    # Offline text search`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newInspectCmd())
	return root
}
