package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/mcphost/internal/mcp"
	"github.com/opencode-ai/mcphost/internal/tool"
)

var (
	callCaller string
	callFormat string
)

var callCmd = &cobra.Command{
	Use:   "call <server> <tool> [json-arguments]",
	Short: "Call one tool on a configured server",
	Long: `Connect the configured servers and call one tool. Arguments are a JSON
object; pass - to read them from stdin.

Examples:
  mcphost call git git_status '{"repo_path": "."}'
  echo '{"message": "hi"}' | mcphost call echo echo -`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callCaller, "caller", "", "Caller id used for scope checks")
	callCmd.Flags().StringVar(&callFormat, "format", "default", "Output format (default|json)")
}

// errToolFailed marks a call that completed but reported an error.
var errToolFailed = errors.New("tool call failed")

func runCall(cmd *cobra.Command, args []string) error {
	input, err := callArguments(args)
	if err != nil {
		return err
	}

	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	server, name := args[0], args[1]
	cfg, ok := loadServers(dir).Get(server)
	if !ok {
		return fmt.Errorf("%w: %s", mcp.ErrServerNotFound, server)
	}

	reg := mcp.NewRegistry()
	defer shutdown(reg)
	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
	_, err = reg.Connect(ctx, cfg, mcp.WithScope(mcp.PrivateScope(callCaller)))
	cancel()
	if err != nil {
		return errors.New(mcp.FormatError(err))
	}

	skill, err := reg.FindSkill(cmd.Context(), callCaller, mcp.SkillID(server, name))
	if err != nil {
		return err
	}

	res, err := skill.Execute(cmd.Context(), input, &tool.Context{
		CallerID: callCaller,
		WorkDir:  dir,
		AbortCh:  cmd.Context().Done(),
	})
	if err != nil {
		return err
	}

	if callFormat == "json" {
		if err := printJSON(map[string]any{
			"title":    res.Title,
			"output":   res.Output,
			"metadata": res.Metadata,
			"isError":  res.IsError(),
		}); err != nil {
			return err
		}
	} else {
		fmt.Println(res.Output)
	}

	if res.IsError() {
		return fmt.Errorf("%w: %v", errToolFailed, res.Error)
	}
	return nil
}

func callArguments(args []string) (json.RawMessage, error) {
	if len(args) < 3 {
		return json.RawMessage(`{}`), nil
	}
	raw := []byte(args[2])
	if args[2] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("arguments are not valid JSON: %s", raw)
	}
	return raw, nil
}
