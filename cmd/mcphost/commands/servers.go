package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/mcphost/internal/mcp"
)

var serversFormat string

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Connect every configured server and show its status",
	Long: `Connect every server defined in the config layers, run the handshake and
tool discovery, then print one line per server.

Failed servers are listed with the diagnostic explaining why.

Examples:
  mcphost servers
  mcphost servers --format json`,
	RunE: runServers,
}

func init() {
	serversCmd.Flags().StringVar(&serversFormat, "format", "default", "Output format (default|json)")
}

// serverRow is one line of the servers listing.
type serverRow struct {
	mcp.ServerStatus
	Disabled bool `json:"disabled,omitempty"`
}

func runServers(cmd *cobra.Command, args []string) error {
	h, err := openRegistry(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer shutdown(h.reg)

	var rows []serverRow
	for _, cfg := range h.set.All() {
		row := serverRow{ServerStatus: mcp.ServerStatus{
			Name:      cfg.Name,
			State:     mcp.StateDisconnected,
			Transport: string(cfg.Transport()),
			Source:    cfg.Source.Layer,
		}}
		switch st, err := h.reg.ServerStatus(cfg.Name); {
		case cfg.Disabled:
			row.Disabled = true
		case err == nil:
			row.ServerStatus = st
		default:
			row.State = mcp.StateFailed
			if ferr, ok := h.failed[cfg.Name]; ok {
				msg := mcp.FormatError(ferr)
				row.Error = &msg
			}
		}
		rows = append(rows, row)
	}

	if serversFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No MCP servers configured.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tTRANSPORT\tTOOLS\tSERVER")
	for _, row := range rows {
		state := string(row.State)
		if row.Disabled {
			state = "disabled"
		}
		server := row.Server
		if row.Protocol != "" {
			server = fmt.Sprintf("%s (%s)", server, row.Protocol)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", row.Name, state, row.Transport, row.ToolCount, server)
	}
	tw.Flush()

	for _, row := range rows {
		if row.Error != nil {
			fmt.Printf("\n%s\n", *row.Error)
		}
		for _, w := range row.Warnings {
			fmt.Printf("\nwarning (%s): %s\n", row.Name, w)
		}
	}

	if len(h.failed) > 0 {
		return fmt.Errorf("%d of %d servers failed to connect", len(h.failed), len(h.set.Enabled()))
	}
	return nil
}
