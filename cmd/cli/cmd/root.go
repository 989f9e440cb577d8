package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/devbox/pkg/client"
)

var (
	baseURL string
	apiKey  string
)

var rootCmd = &cobra.Command{
	Use:   "devbox",
	Short: "devbox CLI - Manage sandboxes from the command line",
	Long: `devbox is a command-line tool for the devbox sandbox server.

It creates and deletes container sandboxes, manages their files, runs commands
and opens interactive shell sessions.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", getEnvOrDefault("DEVBOX_API_URL", "http://localhost:8080"), "devbox API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("DEVBOX_API_KEY"), "devbox API key")
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func newClient() *client.Client {
	return client.NewClient(baseURL, apiKey)
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
