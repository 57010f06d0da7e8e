package commands

import (
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/stippi/code-assistant/internal/config"
	"github.com/stippi/code-assistant/internal/logging"
	"github.com/stippi/code-assistant/internal/storage"
	"github.com/stippi/code-assistant/internal/tool"
	registryserver "github.com/stippi/code-assistant/pkg/mcpserver/registry"
)

var mcpServeDir string

var mcpServeCmd = &cobra.Command{
	Use:   "mcp-serve",
	Short: "Expose the tool registry as an MCP server over stdio",
	Long: `Serves every tool in the registry that is scoped for MCP exposure
(tool.ScopeMcpServer) as an MCP tool server over stdio, so an external MCP
client - another editor, or a second opencode instance - can call the same
tools the agent turn loop uses, without going through the HTTP API.`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().StringVar(&mcpServeDir, "directory", "", "Working directory")
	rootCmd.AddCommand(mcpServeCmd)
}

func runMCPServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(mcpServeDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}
	store := storage.New(paths.StoragePath())

	toolReg := tool.DefaultRegistry(workDir, store)

	logging.Info().
		Int("toolCount", len(toolReg.ListForScope(tool.ScopeMcpServer))).
		Msg("Starting MCP tool server over stdio")

	s := registryserver.NewServer(toolReg, "mcp-serve", workDir)
	if err := server.ServeStdio(s); err != nil {
		logging.Error().Err(err).Msg("MCP server error")
		os.Exit(1)
	}
	return nil
}
