package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn <sandbox-id> <command> [args...]",
	Short: "Run a command in a sandbox",
	Long: `Run a command to completion in the sandbox's current directory.
Example: devbox spawn abc123 npm install express`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(10 * time.Minute)
		defer cancel()

		result, err := newClient().Spawn(ctx, args[0], args[1], args[2:])
		if err != nil {
			return fmt.Errorf("failed to spawn command: %w", err)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if result.Output != "" {
			fmt.Println(result.Output)
		}
		if result.ExitCode != 0 {
			return fmt.Errorf("command exited with code %d", result.ExitCode)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <sandbox-id>",
	Short: "Show recent commands run in a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		entries, err := newClient().History(ctx, args[0], limit)
		if err != nil {
			return fmt.Errorf("failed to get history: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No commands recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tOP\tEXIT\tMS\tCOMMAND")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
				e.CreatedAt.Format("15:04:05"), e.Op, e.ExitCode, e.DurationMs, e.Command)
		}
		w.Flush()
		return nil
	},
}

var shellCmd = &cobra.Command{
	Use:   "shell <sandbox-id>",
	Short: "Open an interactive shell session in a sandbox",
	Long: `Open an interactive line-oriented shell session. Each line is run in the
session's current directory; cd changes it for the sandbox.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		sess, err := newClient().Dial(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		joined, err := sess.Join(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to join sandbox: %w", err)
		}

		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		cwd := joined.Cwd
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			if interactive {
				fmt.Fprintf(cmd.OutOrStdout(), "%s $ ", cwd)
			}
			if !scanner.Scan() {
				break
			}
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			if line == "exit" {
				break
			}

			out, err := sess.Terminal(ctx, line)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
				continue
			}
			cwd = out.Cwd
			if out.Output != "" {
				fmt.Fprintln(cmd.OutOrStdout(), out.Output)
			}
		}
		return scanner.Err()
	},
}

func init() {
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(shellCmd)

	spawnCmd.Flags().Bool("json", false, "Output as JSON")
	// Flags after the command belong to the command.
	spawnCmd.Flags().SetInterspersed(false)
	historyCmd.Flags().Int("limit", 20, "Number of entries to show")
}
