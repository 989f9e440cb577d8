package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/devbox/pkg/client"
	"github.com/opensandbox/devbox/pkg/types"
)

var sandboxCmd = &cobra.Command{
	Use:     "sandbox",
	Aliases: []string{"sb"},
	Short:   "Manage sandboxes",
	Long:    `Create, list, inspect, and delete sandboxes.`,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new sandbox",
	Long: `Create a new sandbox, optionally seeded with a JSON file tree:
  {"src": {"directory": {"index.js": {"file": {"contents": "..."}}}}}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg types.SandboxConfig
		if path, _ := cmd.Flags().GetString("files"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read file tree: %w", err)
			}
			if err := json.Unmarshal(data, &cfg.Files); err != nil {
				return fmt.Errorf("parse file tree: %w", err)
			}
		}

		ctx, cancel := withTimeout(5 * time.Minute)
		defer cancel()

		sb, err := newClient().CreateSandbox(ctx, cfg)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && apiErr.Sandbox != nil {
				return fmt.Errorf("sandbox %s failed to start: %s", apiErr.Sandbox.ID, apiErr.Message)
			}
			return fmt.Errorf("failed to create sandbox: %w", err)
		}

		fmt.Printf("✓ Sandbox created: %s\n", sb.ID)
		printSandbox(sb)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all sandboxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		sandboxes, err := newClient().ListSandboxes(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sandboxes: %w", err)
		}

		if len(sandboxes) == 0 {
			fmt.Println("No sandboxes found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPORT\tPREVIEW\tCREATED")
		for _, sb := range sandboxes {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				sb.ID, sb.Status, sb.Port, sb.PreviewURL, sb.CreatedAt.Format("15:04:05"))
		}
		w.Flush()

		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <sandbox-id>",
	Short: "Get sandbox details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		sb, err := newClient().GetSandbox(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get sandbox: %w", err)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, _ := json.MarshalIndent(sb, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Sandbox: %s\n", sb.ID)
		printSandbox(sb)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <sandbox-id>",
	Aliases: []string{"rm", "kill"},
	Short:   "Stop and remove a sandbox",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(60 * time.Second)
		defer cancel()

		if err := newClient().DeleteSandbox(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete sandbox: %w", err)
		}
		fmt.Printf("✓ Sandbox %s deleted\n", args[0])
		return nil
	},
}

var urlCmd = &cobra.Command{
	Use:   "url <sandbox-id>",
	Short: "Print the sandbox's application preview URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		res, err := newClient().PreviewURL(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get preview URL: %w", err)
		}
		fmt.Println(res.URL)
		return nil
	},
}

func printSandbox(sb *types.Sandbox) {
	fmt.Printf("  Status: %s\n", sb.Status)
	fmt.Printf("  Port: %d\n", sb.Port)
	if sb.ControlURL != "" {
		fmt.Printf("  Control URL: %s\n", sb.ControlURL)
	}
	if sb.PreviewURL != "" {
		fmt.Printf("  Preview URL: %s\n", sb.PreviewURL)
	}
	fmt.Printf("  Created: %s\n", sb.CreatedAt.Format(time.RFC3339))
}

func init() {
	rootCmd.AddCommand(sandboxCmd)

	sandboxCmd.AddCommand(createCmd)
	sandboxCmd.AddCommand(listCmd)
	sandboxCmd.AddCommand(getCmd)
	sandboxCmd.AddCommand(deleteCmd)
	sandboxCmd.AddCommand(urlCmd)

	createCmd.Flags().String("files", "", "Path to a JSON file tree to seed the workspace with")
	getCmd.Flags().Bool("json", false, "Output as JSON")
}
