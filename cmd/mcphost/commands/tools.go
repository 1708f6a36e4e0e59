package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/mcphost/internal/mcp"
	"github.com/opencode-ai/mcphost/internal/tool"
)

var (
	toolsCaller  string
	toolsFormat  string
	toolsBuiltin bool
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools an agent would see",
	Long: `Connect every configured server and list the tools visible to a caller,
the way an agent host registers them.

Examples:
  mcphost tools
  mcphost tools --caller session-1 --builtin
  mcphost tools --format eino`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsCaller, "caller", "", "Caller id; private servers of other callers are hidden")
	toolsCmd.Flags().StringVar(&toolsFormat, "format", "default", "Output format (default|json|eino)")
	toolsCmd.Flags().BoolVar(&toolsBuiltin, "builtin", false, "Include the built-in tools")
}

func runTools(cmd *cobra.Command, args []string) error {
	h, err := openRegistry(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer shutdown(h.reg)

	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	reg := tool.NewRegistry(dir)
	if toolsBuiltin {
		reg = tool.DefaultRegistry(dir)
	}
	set := h.reg.Skills(cmd.Context(), toolsCaller)
	mcp.RegisterSkills(reg, set)

	switch toolsFormat {
	case "json":
		type entry struct {
			ID          string          `json:"id"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		}
		out := struct {
			Tools    []entry              `json:"tools"`
			Degraded []mcp.DegradedServer `json:"degraded,omitempty"`
		}{Degraded: set.Degraded}
		for _, t := range reg.List() {
			out.Tools = append(out.Tools, entry{ID: t.ID(), Description: t.Description(), Parameters: t.Parameters()})
		}
		return printJSON(out)
	case "eino":
		infos, err := reg.ToolInfos()
		if err != nil {
			return err
		}
		return printJSON(infos)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDESCRIPTION")
	for _, t := range reg.List() {
		fmt.Fprintf(tw, "%s\t%s\n", t.ID(), firstLine(t.Description()))
	}
	tw.Flush()

	for _, d := range set.Degraded {
		fmt.Fprintf(os.Stderr, "\nskipped %s:\n%s\n", d.Name, d.Error)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	const max = 80
	if r := []rune(s); len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}
