package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bridgewarden/bridgewarden/internal/config"
	bwmcp "github.com/bridgewarden/bridgewarden/internal/mcp"
	"github.com/bridgewarden/bridgewarden/internal/policy"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP gateway server on stdio",
	Long: "Runs BridgeWarden as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes the guarded tools: bw_read_file, bw_web_fetch, bw_fetch_repo,\n" +
		"bw_quarantine_get, and the source approval tools.\n" +
		"The policy snapshot reloads on SIGHUP and on config file changes.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	srv, err := bwmcp.New(cfg, configPath)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	reloader, err := policy.NewReloader(srv.Reload, []string{srv.ConfigPath()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "policy hot-reload unavailable: %v\n", err)
	} else {
		go reloader.Run(ctx)
	}

	fmt.Fprintf(os.Stderr, "bridgewarden MCP server running on stdio (profile: %s)\n", cfg.Profile)
	return srv.Run(ctx)
}
