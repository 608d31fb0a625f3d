package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage paired devices",
	Long:  `List paired devices, revoke their tokens or issue replacement tokens.`,
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

var deviceListCmd = &cobra.Command{
	Use:   "list <child>",
	Short: "List devices paired to a child",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		devices := store.GetDevices(ctx, child.ID)
		if len(devices) == 0 {
			fmt.Printf("No devices paired to %s\n", child.Name)
			return
		}

		// Print table
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE ID\tNAME\tAGENT\tPAIRED AT\tLAST SEEN\tTOKEN EXPIRES\tREVOKED\tPOLICY")
		for _, device := range devices {
			policy := fmt.Sprintf("v%d", device.AppliedPolicyVersion)
			if device.PolicyApplyOverdue {
				policy += " (overdue)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				device.ID,
				device.Name,
				device.AgentVersion,
				device.PairedAt.Format("2006-01-02 15:04:05"),
				formatTime(device.LastSeenAt),
				formatTime(device.TokenExpiresAt),
				formatTime(device.TokenRevokedAt),
				policy,
			)
		}
		w.Flush()
	},
}

// getActiveUser returns a string identifying who is performing the action
// Format: username@hostname
func getActiveUser() string {
	username := "unknown"
	if currentUser, err := user.Current(); err == nil {
		username = currentUser.Username
	}

	hostname := "unknown"
	// Check environment variable first for SSH sessions
	if h := os.Getenv("SSH_CLIENT"); h != "" {
		ssh_client := strings.Split(h, " ")
		if len(ssh_client) > 0 {
			hostname = ssh_client[0]
		}
	} else if h, err := os.Hostname(); err == nil {
		hostname = h
	}

	return fmt.Sprintf("%s@%s", username, hostname)
}

var deviceRevokeCmd = &cobra.Command{
	Use:   "revoke <device_id>",
	Short: "Revoke the token of a device",
	Long:  `Revoke a device token. The device stays listed and must pair again to regain access.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()
		deviceID := args[0]

		device, ok := store.GetDevice(ctx, deviceID)
		if !ok {
			fmt.Printf("Device %s not found\n", deviceID)
			os.Exit(1)
		}
		if device.Revoked() {
			fmt.Printf("Device %s is already revoked\n", deviceID)
			return
		}

		revoker := getActiveUser()
		if _, _, err := store.RevokeToken(ctx, deviceID, revoker); err != nil {
			slog.Error("Failed to revoke device", "device_id", deviceID, "error", err)
			os.Exit(1)
		}
		fmt.Printf("Device %s revoked successfully by %s\n", deviceID, revoker)
		reportEvents(cmd)
	},
}

var deviceRotateCmd = &cobra.Command{
	Use:   "rotate <device_id>",
	Short: "Issue a new token for a device",
	Long: `Replace the token of a device. The old token stops working immediately;
the new token is printed once and must be handed to the agent.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()
		deviceID := args[0]

		res, found, err := store.RotateToken(ctx, deviceID, getActiveUser())
		if err != nil {
			slog.Error("Failed to rotate device token", "device_id", deviceID, "error", err)
			os.Exit(1)
		}
		if !found {
			fmt.Printf("Device %s not found\n", deviceID)
			os.Exit(1)
		}
		fmt.Printf("Device %s token rotated, expires %s\n", deviceID, res.ExpiresAt.Format("2006-01-02 15:04:05"))
		fmt.Println(res.Token)
		reportEvents(cmd)
	},
}

func init() {
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceRevokeCmd)
	deviceCmd.AddCommand(deviceRotateCmd)
	rootCmd.AddCommand(deviceCmd)
}
