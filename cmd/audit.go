package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"family-safety-control/internal/model"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail of a child",
}

var auditListCmd = &cobra.Command{
	Use:   "list <child>",
	Short: "List recent audit entries, newest first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		limit, _ := cmd.Flags().GetInt("limit")
		search, _ := cmd.Flags().GetString("search")

		entries := store.QueryAudit(ctx, model.AuditQuery{ChildID: child.ID, Contains: search, Limit: limit})
		if len(entries) == 0 {
			fmt.Println("No audit entries found")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIMESTAMP\tACTOR\tACTION\tSCOPE\tHASH")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				e.Actor,
				e.Action,
				e.Scope,
				shortHash(e.AfterHash),
			)
		}
		w.Flush()
	},
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// writeAuditCSV writes the chain oldest first, one row per entry.
func writeAuditCSV(out io.Writer, entries []model.AuditEntry) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"id", "timestamp", "actor", "action", "scope", "payload", "payload_hash", "before_hash", "after_hash"}); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Actor,
			e.Action,
			e.Scope,
			string(e.Payload),
			e.PayloadHash,
			e.BeforeHash,
			e.AfterHash,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

var auditExportCmd = &cobra.Command{
	Use:   "export <child>",
	Short: "Export the full audit chain of a child as CSV",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		var chain []model.AuditEntry
		for _, e := range store.Snapshot(ctx).Audit {
			if e.ChildID == child.ID {
				chain = append(chain, e)
			}
		}

		out := io.Writer(os.Stdout)
		if path, _ := cmd.Flags().GetString("output"); path != "" && path != "-" {
			f, err := os.Create(path)
			if err != nil {
				slog.Error("Failed to create export file", "file_path", path, "error", err)
				os.Exit(1)
			}
			defer f.Close()
			out = f
		}
		if err := writeAuditCSV(out, chain); err != nil {
			slog.Error("Failed to write audit export", "error", err)
			os.Exit(1)
		}
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <child>",
	Short: "Recompute the hash chain of a child",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		res := store.VerifyAudit(ctx, child.ID)
		if !res.Valid {
			fmt.Printf("Audit chain of %s is BROKEN at entry %d of %d: %s\n", child.Name, res.BrokenAt, res.Entries, res.Problem)
			os.Exit(2)
		}
		fmt.Printf("Audit chain of %s is intact (%d entries)\n", child.Name, res.Entries)
	},
}

var auditPurgeCmd = &cobra.Command{
	Use:   "purge <child> [--days N]",
	Short: "Remove old audit entries",
	Long: `Remove audit entries older than a number of days. The purge itself is
recorded as a new entry, so the chain stays verifiable from its new start.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		days, _ := cmd.Flags().GetInt("days")
		if days < 1 {
			fmt.Println("--days must be at least 1")
			os.Exit(1)
		}
		olderThan := time.Now().AddDate(0, 0, -days)

		fmt.Printf("Purging audit entries of %s older than %d days (before %s)...\n",
			child.Name, days, olderThan.Format("2006-01-02 15:04:05"))
		count, err := store.PurgeAudit(ctx, child.ID, olderThan, getActiveUser())
		if err != nil {
			slog.Error("Failed to purge audit entries", "child_id", child.ID, "error", err)
			os.Exit(1)
		}
		if count == 0 {
			fmt.Println("No audit entries to purge")
		} else {
			fmt.Printf("Successfully purged %d entries\n", count)
		}
		reportEvents(cmd)
	},
}

func init() {
	auditListCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries")
	auditListCmd.Flags().StringP("search", "s", "", "Only entries containing this text")
	auditExportCmd.Flags().StringP("output", "o", "-", "Output file, - for stdout")
	auditPurgeCmd.Flags().IntP("days", "d", 90, "Remove entries older than this many days")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditPurgeCmd)
	rootCmd.AddCommand(auditCmd)
}
