/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ssargent/userdots/pkg/api"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start the userdots REST API server over the configured container.

With --memory the whole container is cached at startup; otherwise the
configured persisted index is preloaded and records are read on demand.

Examples:
  dots serve --config ./userdots.yaml
  dots serve --data ./data/users.bin --memory --port 9090`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := container.Config()
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("bind") {
			cfg.Server.Bind, _ = cmd.Flags().GetString("bind")
		}
		if cmd.Flags().Changed("memory") {
			cfg.Server.Memory, _ = cmd.Flags().GetBool("memory")
		}
		if err := cfg.Validate(); err != nil {
			fail(cmd, err)
		}

		backend, err := container.OpenBackend()
		if err != nil {
			fail(cmd, err)
		}
		defer backend.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := api.StartServer(ctx, container.NewServer(backend)); err != nil {
			cmd.PrintErrf("Error starting server: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on (default server.port)")
	serveCmd.Flags().String("bind", "127.0.0.1", "Address to bind (default server.bind)")
	serveCmd.Flags().Bool("memory", false, "Cache the whole container at startup")
}
