package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"family-safety-control/internal/config"
	"family-safety-control/internal/controlplane"
	"family-safety-control/internal/events"
	"family-safety-control/internal/model"
	"family-safety-control/internal/storage"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	cfg      *config.Config
	recorder *events.Recorder
)

var rootCmd = &cobra.Command{
	Use:   "family-safety-control",
	Short: "Family safety control plane",
	Long: `Control plane for child devices: policies, local settings profiles,
device pairing, access requests and the audit trail.

Commands other than "server" work on the configured storage directly. Run them
while the server is stopped, or against a backend the server does not hold
open.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadConfig(cfgFile)
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initCLILogger keeps the command output clean: only errors, on stderr.
func initCLILogger() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})))
}

// openStore opens the control plane for a one-shot command. Events are
// recorded instead of published, see reportEvents.
func openStore(ctx context.Context) *controlplane.Store {
	initCLILogger()

	adapter, err := storage.NewAdapter(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to open storage", "type", cfg.Storage.Type, "error", err)
		os.Exit(1)
	}

	recorder = &events.Recorder{}
	opts := controlplane.OptionsFromConfig(cfg, adapter)
	opts.Publisher = recorder

	store, err := controlplane.Open(ctx, opts)
	if err != nil {
		adapter.Close()
		slog.Error("Failed to load state", "adapter", adapter.Name(), "error", err)
		os.Exit(1)
	}
	return store
}

// reportEvents lists the topics the last command would have announced.
func reportEvents(cmd *cobra.Command) {
	if recorder == nil {
		return
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
		return
	}
	for _, topic := range recorder.Topics() {
		fmt.Fprintf(os.Stderr, "event: %s\n", topic)
	}
}

// resolveChild accepts a child id or an exact (case-insensitive) name.
func resolveChild(ctx context.Context, store *controlplane.Store, arg string) model.Child {
	if id, err := model.ParseChildID(arg); err == nil {
		if child, ok := store.GetChild(ctx, id); ok {
			return child
		}
	} else {
		var matches []model.Child
		for _, child := range store.ListChildren(ctx, true) {
			if strings.EqualFold(child.Name, strings.TrimSpace(arg)) {
				matches = append(matches, child)
			}
		}
		if len(matches) == 1 {
			return matches[0]
		}
		if len(matches) > 1 {
			fmt.Printf("Name %q matches %d children, use the child id\n", arg, len(matches))
			os.Exit(1)
		}
	}
	fmt.Printf("Child %s not found\n", arg)
	os.Exit(1)
	return model.Child{}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./instance/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "list the events a command produced")
}
