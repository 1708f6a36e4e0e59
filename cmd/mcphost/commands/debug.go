package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/mcphost/internal/config"
	"github.com/opencode-ai/mcphost/internal/logging"
	"github.com/opencode-ai/mcphost/internal/mcp"
)

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Debug utilities",
	Long:  `Debug utilities for troubleshooting mcphost configuration and setup.`,
}

var debugConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the merged server definitions",
	RunE:  runDebugConfig,
}

var debugPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show system paths and config files",
	RunE:  runDebugPaths,
}

var debugShowSecrets bool

func init() {
	debugConfigCmd.Flags().BoolVar(&debugShowSecrets, "show-secrets", false, "Print env and header values instead of masking them")
	debugCmd.AddCommand(debugConfigCmd)
	debugCmd.AddCommand(debugPathsCmd)
}

func runDebugConfig(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}

	set := loadServers(dir)
	out := struct {
		Loaded  []config.File      `json:"loaded"`
		Servers []mcp.ServerConfig `json:"servers"`
	}{Loaded: set.Loaded, Servers: set.All()}
	if !debugShowSecrets {
		for i := range out.Servers {
			out.Servers[i].Env = masked(out.Servers[i].Env)
			out.Servers[i].Headers = masked(out.Servers[i].Headers)
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runDebugPaths(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	paths := config.GetPaths()

	fmt.Println("mcphost System Paths:")
	fmt.Println()
	fmt.Printf("  Config:   %s\n", paths.Config)
	fmt.Printf("  Data:     %s\n", paths.Data)
	fmt.Printf("  Cache:    %s\n", paths.Cache)
	fmt.Printf("  State:    %s\n", paths.State)
	fmt.Printf("  Logs:     %s\n", paths.LogDir())
	if p := logging.GetLogFilePath(); p != "" {
		fmt.Printf("  Log file: %s\n", p)
	}
	fmt.Println()

	fmt.Println("Config files, lowest precedence first:")
	for _, f := range config.Files(dir) {
		mark := " "
		if _, err := os.Stat(f.Path); err == nil {
			mark = "*"
		}
		fmt.Printf("  %s %-8s %s\n", mark, f.Layer, f.Path)
	}
	if os.Getenv(config.EnvConfigContent) != "" {
		fmt.Printf("  * %-8s $%s\n", config.LayerInline, config.EnvConfigContent)
	}
	return nil
}

func masked(m map[string]string) map[string]string {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]string, len(m))
	for k := range m {
		out[k] = "****"
	}
	return out
}
