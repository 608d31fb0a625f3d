package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"family-safety-control/internal/jwt"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue dashboard access tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <user>",
	Short: "Issue a dashboard token for a user",
	Long: `Sign a dashboard token for a user. What the user may do is decided by the
roles the server assigns, not by the token. Requires a configured secret.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initCLILogger()
		if cfg.Secret == "" {
			fmt.Println("No secret configured; the server would reject this token")
			os.Exit(1)
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl == 0 {
			ttl = cfg.DashboardTokenTTL
		}

		signer := jwt.NewSigner(cfg.Secret)
		claims, err := signer.NewAuthClaims(args[0], ttl)
		if err != nil {
			slog.Error("Invalid token lifetime", "ttl", ttl, "error", err)
			os.Exit(1)
		}
		token, err := signer.GenerateJWT(claims)
		if err != nil {
			slog.Error("Failed to sign token", "error", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Token for %s valid until %s\n", args[0], time.Now().Add(ttl).Format("2006-01-02 15:04:05"))
		fmt.Println(token)
	},
}

func init() {
	tokenIssueCmd.Flags().Duration("ttl", 0, "Token lifetime (default dashboard_token_ttl)")

	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}
