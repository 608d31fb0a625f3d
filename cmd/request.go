package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"family-safety-control/internal/controlplane"
	"family-safety-control/internal/model"

	"github.com/spf13/cobra"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Review access requests from children",
}

var requestListCmd = &cobra.Command{
	Use:   "list [child]",
	Short: "List access requests",
	Long:  `List access requests of one child, or of every child. Defaults to pending requests.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		var child model.ChildID
		if len(args) > 0 {
			child = resolveChild(ctx, store, args[0]).ID
		}
		status, _ := cmd.Flags().GetString("status")
		if status == "all" {
			status = ""
		}

		requests := store.ListRequests(ctx, child, model.RequestStatus(status))
		if len(requests) == 0 {
			fmt.Println("No requests found")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "REQUEST ID\tCHILD\tTYPE\tTARGET\tSTATUS\tCREATED AT\tREASON")
		for _, r := range requests {
			name := r.ChildID.String()
			if c, ok := store.GetChild(ctx, r.ChildID); ok {
				name = c.Name
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID,
				name,
				r.Type,
				r.Target,
				r.Status,
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				r.Reason,
			)
		}
		w.Flush()
	},
}

func decideRequest(cmd *cobra.Command, id string, approve bool) {
	ctx := context.Background()
	store := openStore(ctx)
	defer store.Close()

	if req, ok := store.GetRequest(ctx, id); ok && req.Status != model.RequestPending {
		fmt.Printf("Request %s was already %s by %s\n", id, req.Status, req.DecidedBy)
		return
	}

	note, _ := cmd.Flags().GetString("note")
	minutes, _ := cmd.Flags().GetInt("minutes")
	d := controlplane.RequestDecision{
		Approve:         approve,
		Actor:           getActiveUser(),
		Note:            note,
		ExtraMinutes:    minutes,
		DurationMinutes: minutes,
	}

	req, grant, found, err := store.DecideRequest(ctx, id, d)
	if err != nil {
		slog.Error("Failed to decide request", "request_id", id, "error", err)
		os.Exit(1)
	}
	if !found {
		fmt.Printf("Request %s not found\n", id)
		os.Exit(1)
	}
	fmt.Printf("Request %s %s by %s\n", id, req.Status, req.DecidedBy)
	if grant != nil {
		fmt.Printf("Grant %s active until %s\n", grant.ID, grant.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
	}
	reportEvents(cmd)
}

var requestApproveCmd = &cobra.Command{
	Use:   "approve <request_id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		decideRequest(cmd, args[0], true)
	},
}

var requestDenyCmd = &cobra.Command{
	Use:   "deny <request_id>",
	Short: "Deny a pending request",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		decideRequest(cmd, args[0], false)
	},
}

func init() {
	requestListCmd.Flags().StringP("status", "s", string(model.RequestPending), "Filter by status (pending, approved, denied, all)")
	for _, c := range []*cobra.Command{requestApproveCmd, requestDenyCmd} {
		c.Flags().String("note", "", "Note recorded with the decision")
	}
	requestApproveCmd.Flags().IntP("minutes", "m", 0, "Override the granted minutes")

	requestCmd.AddCommand(requestListCmd)
	requestCmd.AddCommand(requestApproveCmd)
	requestCmd.AddCommand(requestDenyCmd)
	rootCmd.AddCommand(requestCmd)
}
