package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"botvault/client"
	"botvault/shared/types"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:3100"

func newRootCmd() *cobra.Command {
	var server string

	rootCmd := &cobra.Command{
		Use:   "botvault",
		Short: "botvault manages versioned bot content",
		Long: `botvault talks to a botvault server to inspect pending changes,
commit and revert file revisions, and move whole bots between servers as
archives.`,
		SilenceUsage: true,
	}

	if env := os.Getenv("BOTVAULT_SERVER"); env != "" {
		server = env
	} else {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", server, "server base URL")

	newClient := func() *client.Client {
		return client.New(server)
	}

	var pendingCmd = &cobra.Command{
		Use:   "pending <bot>",
		Short: "Show uncommitted changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := newClient().Pending(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("listing pending changes: %w", err)
			}
			printPending(cmd.OutOrStdout(), changes)
			return nil
		},
	}

	var commitCmd = &cobra.Command{
		Use:   "commit <bot> [paths...]",
		Short: "Record revisions for pending changes",
		Long:  `Records a revision for each pending path given, or for every pending path when none is given.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revs, err := newClient().Commit(cmd.Context(), args[0], args[1:]...)
			if err != nil {
				return fmt.Errorf("committing: %w", err)
			}
			if len(revs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to commit")
				return nil
			}
			printRevisions(cmd.OutOrStdout(), revs)
			return nil
		},
	}

	var revertCmd = &cobra.Command{
		Use:   "revert <bot> <path> <revision>",
		Short: "Restore a file to an earlier revision",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().Revert(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return fmt.Errorf("reverting: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reverted %s to %s\n", args[1], args[2])
			return nil
		},
	}

	var historyCmd = &cobra.Command{
		Use:   "history <bot> <path>",
		Short: "List the revisions of a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			revs, err := newClient().History(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("reading history: %w", err)
			}
			if len(revs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No revisions")
				return nil
			}
			printRevisions(cmd.OutOrStdout(), revs)
			return nil
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff <bot> <path>",
		Short: "Show uncommitted changes of a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := newClient().Diff(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("computing diff: %w", err)
			}
			printColoredDiff(cmd.OutOrStdout(), out)
			return nil
		},
	}

	var exportCmd = &cobra.Command{
		Use:   "export <bot>",
		Short: "Download the current content of a bot as an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")

			a, err := newClient().Export(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("exporting: %w", err)
			}
			if output == "" {
				output = a.Name
			}
			if err := os.WriteFile(output, a.Data, 0644); err != nil {
				return fmt.Errorf("writing archive: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", output, len(a.Data))
			return nil
		},
	}
	exportCmd.Flags().StringP("output", "o", "", "archive file (defaults to the server-provided name)")

	var importCmd = &cobra.Command{
		Use:   "import <bot> <archive>",
		Short: "Replace the content of a bot with an archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading archive: %w", err)
			}
			revs, err := newClient().Import(cmd.Context(), args[0], filepath.Base(args[1]), data)
			if err != nil {
				return fmt.Errorf("importing: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d changed files\n", len(revs))
			printRevisions(cmd.OutOrStdout(), revs)
			return nil
		},
	}

	rootCmd.AddCommand(pendingCmd, commitCmd, revertCmd, historyCmd, diffCmd, exportCmd, importCmd, newMirrorCmd())
	return rootCmd
}

func printPending(w io.Writer, changes []shared.PendingChange) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "No pending changes")
		return
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(w, "Pending changes:\n\n")
	for _, c := range changes {
		var mark string
		switch c.Kind {
		case shared.ChangeAdded:
			mark = green("A")
		case shared.ChangeModified:
			mark = yellow("M")
		case shared.ChangeDeleted:
			mark = red("D")
		}
		if c.SinceRevision != "" {
			fmt.Fprintf(w, "\t%s %s (since %s)\n", mark, c.Path, c.SinceRevision)
		} else {
			fmt.Fprintf(w, "\t%s %s\n", mark, c.Path)
		}
	}
}

func printRevisions(w io.Writer, revs []shared.Revision) {
	cyan := color.New(color.FgCyan).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, r := range revs {
		line := fmt.Sprintf("%s  %s  %-6s  %s", cyan(r.ID), r.CreatedAt.Format(time.RFC3339), r.Origin, r.Path)
		if r.Deleted {
			line += " " + red("(deleted)")
		}
		fmt.Fprintln(w, line)
	}
}

func printColoredDiff(w io.Writer, diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	if diff == "" {
		fmt.Fprintln(w, "No changes")
		return
	}

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			header.Fprintln(w, line)
		case strings.HasPrefix(line, "+"):
			added.Fprintln(w, line)
		case strings.HasPrefix(line, "-"):
			removed.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
