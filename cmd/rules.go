package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/scoring"
)

var rulesTenant string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage scoring rules",
	Long:  "Commands for listing, importing and exporting intent scoring rules. Without --tenant the global rules are used.",
}

// -- rules list --

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rules, or the effective rules with --effective",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		effective, _ := cmd.Flags().GetBool("effective")

		env, err := initEnv(ctx, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		var rules []model.ScoringRule
		if effective {
			rules, err = env.Scorer.Rules(ctx, rulesTenant)
		} else {
			rules, err = env.Store.ListTenantRules(ctx, rulesTenant)
		}
		if err != nil {
			return eris.Wrap(err, "rules list")
		}
		if len(rules) == 0 {
			fmt.Fprintln(os.Stderr, "No rules stored; the built-in defaults apply.")
			return nil
		}
		formatRules(os.Stdout, rules)
		return nil
	},
}

// -- rules import --

var rulesImportCmd = &cobra.Command{
	Use:   "import <rules.yaml>",
	Short: "Replace stored rules with the contents of a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rules, err := scoring.LoadFile(args[0])
		if err != nil {
			return err
		}

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ReplaceTenantRules(ctx, rulesTenant, rules); err != nil {
			return eris.Wrap(err, "rules import")
		}
		fmt.Fprintf(os.Stdout, "imported %d rules\n", len(rules))
		return nil
	},
}

// -- rules defaults --

var rulesDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the built-in rules as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := scoring.MarshalRules(scoring.DefaultRules())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func init() {
	rulesCmd.PersistentFlags().StringVar(&rulesTenant, "tenant", "", "tenant id (empty for global rules)")
	rulesListCmd.Flags().Bool("effective", false, "show the rules the scorer applies, including fallbacks")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesImportCmd)
	rulesCmd.AddCommand(rulesDefaultsCmd)
	rootCmd.AddCommand(rulesCmd)
}

// formatRules writes a rule table. Tiers print as threshold:points pairs in
// threshold order.
func formatRules(w io.Writer, rules []model.ScoringRule) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNAL\tWEIGHT\tACTIVE\tORDER\tSCOPE\tTIERS")
	for _, r := range rules {
		scope := r.TenantID
		if scope == "" {
			scope = "global"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n",
			r.SignalKey, strconv.FormatFloat(r.Weight, 'f', -1, 64), r.IsActive, r.SortOrder, scope, formatTiers(r.Config))
	}
	_ = tw.Flush()
}

func formatTiers(c model.RuleConfig) string {
	tiers := c.ParsedTiers()
	parts := make([]string, 0, len(tiers))
	for _, t := range tiers {
		parts = append(parts, strconv.FormatFloat(t.Threshold, 'f', -1, 64)+":"+strconv.FormatFloat(t.Points, 'f', -1, 64))
	}
	return strings.Join(parts, " ")
}
