// Package echo provides a small MCP server used to exercise MCP clients:
// ping answers "pong", echo repeats its input, sum adds numbers and fail
// always reports a tool error.
package echo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Name and Version identify the server in the handshake.
const (
	Name    = "echo-server"
	Version = "1.0.0"
)

// NewServer creates the echo MCP server.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer(
		Name,
		Version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewTool("ping",
		mcp.WithDescription("Replies with pong"),
	), pingHandler)

	s.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Returns the message unchanged"),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Text to echo back"),
		),
	), echoHandler)

	s.AddTool(mcp.NewTool("sum",
		mcp.WithDescription("Calculates the sum of an array of numbers"),
		mcp.WithArray("numbers",
			mcp.Required(),
			mcp.Description("Array of numbers to sum"),
			mcp.Items(map[string]any{
				"type": "number",
			}),
		),
	), sumHandler)

	s.AddTool(mcp.NewTool("fail",
		mcp.WithDescription("Always reports a tool error"),
		mcp.WithString("reason", mcp.Description("Error text to report")),
	), failHandler)

	return s
}

func pingHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText("pong"), nil
}

func echoHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, ok := request.GetArguments()["message"].(string)
	if !ok {
		return mcp.NewToolResultError("message argument is required"), nil
	}
	return mcp.NewToolResultText(msg), nil
}

func failHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reason, _ := request.GetArguments()["reason"].(string)
	if reason == "" {
		reason = "requested failure"
	}
	return mcp.NewToolResultError(reason), nil
}

func sumHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	numbersArg, ok := request.GetArguments()["numbers"]
	if !ok {
		return mcp.NewToolResultError("numbers argument is required"), nil
	}
	numbers, err := toFloat64Slice(numbersArg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid numbers: %v", err)), nil
	}

	var sum float64
	for _, n := range numbers {
		sum += n
	}
	return mcp.NewToolResultText(strconv.FormatFloat(sum, 'f', -1, 64)), nil
}

func toFloat64Slice(v any) ([]float64, error) {
	switch arr := v.(type) {
	case []any:
		result := make([]float64, len(arr))
		for i, elem := range arr {
			switch n := elem.(type) {
			case float64:
				result[i] = n
			case int:
				result[i] = float64(n)
			case int64:
				result[i] = float64(n)
			default:
				return nil, fmt.Errorf("element %d is not a number: %T", i, elem)
			}
		}
		return result, nil
	case []float64:
		return arr, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}
