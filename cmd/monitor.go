package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cynergists/specter/internal/monitoring"
)

var (
	monitorTenant string
	monitorOnce   bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check CRM sync and escalation health and send alerts",
	Long: "Collects session, CRM sync and escalation metrics over the lookback window and posts " +
		"threshold alerts to the configured webhook. Runs every check_interval_mins until " +
		"interrupted, or once with --once.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("monitor"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, nil),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring, monitorTenant,
		)

		if !monitorOnce {
			checker.Run(ctx)
			return nil
		}

		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Snapshot *monitoring.MetricsSnapshot `json:"snapshot"`
			Alerts   []monitoring.Alert          `json:"alerts"`
		}{snap, alerts})
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorTenant, "tenant", "", "limit checks to one tenant")
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run a single check and print the snapshot")
	rootCmd.AddCommand(monitorCmd)
}
