package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/store"
)

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "Inspect escalations awaiting human follow-up",
}

var escalationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent escalations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		tenant, _ := cmd.Flags().GetString("tenant")
		reason, _ := cmd.Flags().GetString("reason")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		code := model.EscalationReason(reason)
		if code != "" && !code.Valid() {
			return eris.Errorf("unknown reason code %q", reason)
		}

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.LogFilter{TenantID: tenant, ReasonCode: code, Limit: limit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}
		rows, err := st.ListEscalations(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "escalations list")
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No escalations found.")
			return nil
		}
		formatEscalations(os.Stdout, rows)
		return nil
	},
}

func init() {
	escalationsListCmd.Flags().String("tenant", "", "filter by tenant id")
	escalationsListCmd.Flags().String("reason", "", "filter by reason code")
	escalationsListCmd.Flags().Duration("since", 24*time.Hour, "only escalations newer than this (0 for all)")
	escalationsListCmd.Flags().Int("limit", 50, "maximum rows")

	escalationsCmd.AddCommand(escalationsListCmd)
	rootCmd.AddCommand(escalationsCmd)
}

func formatEscalations(w io.Writer, rows []model.EscalationLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTENANT\tREASON\tPROVIDER\tVISITOR\tDETAILS")
	for _, r := range rows {
		details := ""
		if len(r.Details) > 0 {
			b, _ := json.Marshal(r.Details)
			details = truncate(string(b), 80)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.UTC().Format("2006-01-02 15:04"), r.TenantID, r.ReasonCode, r.Provider, r.VisitorID, details)
	}
	_ = tw.Flush()
}
