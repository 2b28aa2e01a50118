package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cynergists/specter/internal/model"
)

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage tenant settings",
}

// -- tenants put --

var tenantsPutCmd = &cobra.Command{
	Use:   "put <tenant.yaml>",
	Short: "Create or update a tenant from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		t, err := readTenantFile(args[0])
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

		if err := st.UpsertTenant(ctx, t); err != nil {
			return eris.Wrap(err, "tenants put")
		}
		fmt.Fprintf(os.Stdout, "tenant %s saved\n", t.ID)
		return nil
	},
}

// -- tenants show --

var tenantsShowCmd = &cobra.Command{
	Use:   "show <tenant-id>",
	Short: "Print a tenant's settings as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		t, err := st.GetTenant(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "tenants show")
		}
		return writeTenant(os.Stdout, t)
	},
}

func init() {
	tenantsCmd.AddCommand(tenantsPutCmd)
	tenantsCmd.AddCommand(tenantsShowCmd)
	rootCmd.AddCommand(tenantsCmd)
}

// readTenantFile decodes a tenant document. Unknown keys are rejected so that
// misspelled settings do not pass silently.
func readTenantFile(path string) (*model.Tenant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tenants: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var t model.Tenant
	if err := dec.Decode(&t); err != nil {
		return nil, eris.Wrapf(err, "tenants: decode %s", path)
	}
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return nil, eris.Errorf("tenants: %s has no id", path)
	}
	if th := t.Settings.TierThresholds; th != nil && th.High > 0 && th.Medium > th.High {
		return nil, eris.Errorf("tenants: medium threshold %.0f is above high threshold %.0f", th.Medium, th.High)
	}
	for _, p := range t.Settings.HighIntentPages {
		if p == "" {
			return nil, eris.New("tenants: high_intent_pages contains an empty pattern")
		}
	}
	return &t, nil
}

// writeTenant prints t as YAML with the GoHighLevel key masked.
func writeTenant(w io.Writer, t *model.Tenant) error {
	out := *t
	if k := out.Settings.GHLAPIKey; k != "" {
		out.Settings.GHLAPIKey = maskSecret(k)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&out); err != nil {
		return eris.Wrap(err, "tenants: encode")
	}
	return enc.Close()
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
