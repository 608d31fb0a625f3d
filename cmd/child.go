package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"family-safety-control/internal/model"

	"github.com/spf13/cobra"
)

var childCmd = &cobra.Command{
	Use:   "child",
	Short: "Manage children",
	Long:  `Create, rename, archive and restore children. Children are never deleted.`,
}

func printChildren(children []model.Child) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHILD ID\tNAME\tCREATED AT\tARCHIVED")
	for _, child := range children {
		archived := ""
		if child.ArchivedAt != nil {
			archived = child.ArchivedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			child.ID,
			child.Name,
			child.CreatedAt.Format("2006-01-02 15:04:05"),
			archived,
		)
	}
	w.Flush()
}

var childListCmd = &cobra.Command{
	Use:   "list",
	Short: "List children",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		all, _ := cmd.Flags().GetBool("all")
		children := store.ListChildren(ctx, all)
		if len(children) == 0 {
			fmt.Println("No children found")
			return
		}
		printChildren(children)
	},
}

var childAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a child",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child, err := store.CreateChild(ctx, args[0], getActiveUser())
		if err != nil {
			slog.Error("Failed to create child", "name", args[0], "error", err)
			os.Exit(1)
		}
		fmt.Printf("Child %q created with id %s\n", child.Name, child.ID)
		reportEvents(cmd)
	},
}

var childRenameCmd = &cobra.Command{
	Use:   "rename <child> <name>",
	Short: "Rename a child",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		renamed, _, err := store.RenameChild(ctx, child.ID, args[1], getActiveUser())
		if err != nil {
			slog.Error("Failed to rename child", "child_id", child.ID, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Child %s renamed from %q to %q\n", child.ID, child.Name, renamed.Name)
		reportEvents(cmd)
	},
}

var childArchiveCmd = &cobra.Command{
	Use:   "archive <child>",
	Short: "Archive a child, keeping its history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		if child.Archived {
			fmt.Printf("Child %q is already archived\n", child.Name)
			return
		}
		if _, _, err := store.ArchiveChild(ctx, child.ID, getActiveUser()); err != nil {
			slog.Error("Failed to archive child", "child_id", child.ID, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Child %q archived\n", child.Name)
		reportEvents(cmd)
	},
}

var childRestoreCmd = &cobra.Command{
	Use:   "restore <child>",
	Short: "Restore an archived child",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		if !child.Archived {
			fmt.Printf("Child %q is not archived\n", child.Name)
			return
		}
		if _, _, err := store.RestoreChild(ctx, child.ID, getActiveUser()); err != nil {
			slog.Error("Failed to restore child", "child_id", child.ID, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Child %q restored\n", child.Name)
		reportEvents(cmd)
	},
}

var childPolicyCmd = &cobra.Command{
	Use:   "policy <child>",
	Short: "Print the effective policy of a child as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		decision, err := store.EffectivePolicy(ctx, child.ID)
		if err != nil {
			slog.Error("Failed to evaluate policy", "child_id", child.ID, "error", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(decision); err != nil {
			slog.Error("Failed to encode policy", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	childListCmd.Flags().BoolP("all", "a", false, "Include archived children")

	childCmd.AddCommand(childListCmd)
	childCmd.AddCommand(childAddCmd)
	childCmd.AddCommand(childRenameCmd)
	childCmd.AddCommand(childArchiveCmd)
	childCmd.AddCommand(childRestoreCmd)
	childCmd.AddCommand(childPolicyCmd)
	rootCmd.AddCommand(childCmd)
}
