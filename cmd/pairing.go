package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"family-safety-control/internal/config"
	"family-safety-control/internal/jwt"
	"family-safety-control/internal/model"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var pairingCmd = &cobra.Command{
	Use:   "pairing",
	Short: "Pair new devices",
}

// pairingQRContent is the pair URL with a signed token when the service has
// a stable secret and a public address, and the bare code otherwise.
func pairingQRContent(p model.PendingPairing) (string, error) {
	if cfg.Secret == "" || cfg.BaseURL == "" {
		return p.Code, nil
	}
	signer := jwt.NewSigner(cfg.Secret)
	claims, err := signer.NewPairingClaims(p, cfg.PairingQRTTL)
	if err != nil {
		return "", err
	}
	token, err := signer.GenerateJWT(claims)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(cfg.BaseURL, "/") + "/api/agent/pair?token=" + url.QueryEscape(token), nil
}

func writePairingQR(p model.PendingPairing, path string) {
	content, err := pairingQRContent(p)
	if err != nil {
		slog.Error("Failed to sign pairing token", "error", err)
		os.Exit(1)
	}
	if err := qrcode.WriteFile(content, qrcode.Medium, config.QR_IMAGE_SIZE, path); err != nil {
		slog.Error("Error saving pairing QR code", "file_path", path, "error", err)
		os.Exit(1)
	}
	fmt.Printf("QR code saved to %s\n", path)
}

func printPairing(child model.Child, p model.PendingPairing) {
	fmt.Printf("Pairing code for %s: %s\n", child.Name, p.Code)
	fmt.Printf("Valid until %s\n", p.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
}

var pairingStartCmd = &cobra.Command{
	Use:   "start <child>",
	Short: "Start pairing a device to a child",
	Long: `Issue a single-use pairing code for a child. Starting again replaces
any code that is still pending.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		p, err := store.StartPairing(ctx, child.ID, getActiveUser())
		if err != nil {
			slog.Error("Failed to start pairing", "child_id", child.ID, "error", err)
			os.Exit(1)
		}
		printPairing(child, p)
		if path, _ := cmd.Flags().GetString("qr"); path != "" {
			writePairingQR(p, path)
		}
		reportEvents(cmd)
	},
}

var pairingShowCmd = &cobra.Command{
	Use:   "show <child>",
	Short: "Show the pending pairing code of a child",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := openStore(ctx)
		defer store.Close()

		child := resolveChild(ctx, store, args[0])
		p, ok := store.PendingPairing(ctx, child.ID)
		if !ok {
			fmt.Printf("No pending pairing for %s\n", child.Name)
			return
		}
		printPairing(child, p)
		if path, _ := cmd.Flags().GetString("qr"); path != "" {
			writePairingQR(p, path)
		}
	},
}

func init() {
	pairingStartCmd.Flags().String("qr", "", "Also write the pairing QR code as PNG to this file")
	pairingShowCmd.Flags().String("qr", "", "Also write the pairing QR code as PNG to this file")

	pairingCmd.AddCommand(pairingStartCmd)
	pairingCmd.AddCommand(pairingShowCmd)
	rootCmd.AddCommand(pairingCmd)
}
