package cmd

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/devbox/pkg/types"
)

var filesCmd = &cobra.Command{
	Use:     "files",
	Aliases: []string{"fs"},
	Short:   "Manage files in a sandbox",
}

var catCmd = &cobra.Command{
	Use:     "read <sandbox-id> <path>",
	Aliases: []string{"cat"},
	Short:   "Print a file from a sandbox",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		contents, err := newClient().ReadFile(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		fmt.Println(contents)
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <sandbox-id> <path> [content]",
	Short: "Write a file in a sandbox",
	Long: `Write a file in a sandbox. Content is read from stdin when not given.
Example: echo "hello" | devbox files write abc123 /workspace/hello.txt`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content string
		if len(args) == 3 {
			content = args[2]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			content = string(data)
		}

		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		if err := newClient().WriteFile(ctx, args[0], args[1], content); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		fmt.Printf("✓ Wrote %s\n", args[1])
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls <sandbox-id> [path]",
	Short: "List a directory in a sandbox",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/workspace"
		if len(args) == 2 {
			path = args[1]
		}

		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		files, err := newClient().ListDir(ctx, args[0], path)
		if err != nil {
			return fmt.Errorf("failed to list directory: %w", err)
		}

		if len(files) == 0 {
			fmt.Println("(empty directory)")
			return nil
		}
		for _, f := range files {
			if f.Type == types.EntryDirectory {
				fmt.Printf("%s/\n", f.Name)
			} else {
				fmt.Println(f.Name)
			}
		}
		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <sandbox-id> <path>",
	Short: "Create a directory in a sandbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		if err := newClient().MakeDir(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		fmt.Printf("✓ Created %s\n", args[1])
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <sandbox-id> <path>",
	Short: "Remove a file or directory in a sandbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(30 * time.Second)
		defer cancel()

		if err := newClient().RemoveFile(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("failed to remove: %w", err)
		}
		fmt.Printf("✓ Removed %s\n", args[1])
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <sandbox-id> <local-file> <target-path>",
	Short: "Upload a local file into a sandbox",
	Long:  `Upload a local file into a sandbox. The target's parent directory is created.`,
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[1], err)
		}

		req := types.UploadRequest{
			Filename:   filepath.Base(args[1]),
			TargetPath: args[2],
			Content:    string(data),
			Encoding:   types.EncodingUTF8,
		}
		if binary, _ := cmd.Flags().GetBool("binary"); binary {
			req.Content = base64.StdEncoding.EncodeToString(data)
			req.Encoding = types.EncodingBase64
		}

		ctx, cancel := withTimeout(2 * time.Minute)
		defer cancel()

		res, err := newClient().Upload(ctx, args[0], req)
		if err != nil {
			return fmt.Errorf("failed to upload: %w", err)
		}
		fmt.Printf("✓ Uploaded %s (%d bytes)\n", res.Path, len(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(filesCmd)

	filesCmd.AddCommand(catCmd)
	filesCmd.AddCommand(writeCmd)
	filesCmd.AddCommand(lsCmd)
	filesCmd.AddCommand(mkdirCmd)
	filesCmd.AddCommand(rmCmd)
	filesCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().Bool("binary", false, "Send the file base64-encoded")
}
