// Command boardctl is a terminal client for the idea board API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ideaboard/api/internal/client"
)

var (
	apiURL  string
	token   string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "boardctl",
	Short:         "Work with idea boards from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
		log.SetOutput(os.Stderr)
		if verbose {
			log.SetLevel(log.DebugLevel)
		} else {
			log.SetLevel(log.WarnLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("IDEABOARD_API_URL", "http://localhost:8787"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("IDEABOARD_TOKEN"), "Bearer token (see boardctl login)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func newClient() *client.Client {
	return client.New(apiURL, client.WithToken(token))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
