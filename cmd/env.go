package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cynergists/specter/internal/crm"
	"github.com/cynergists/specter/internal/escalation"
	"github.com/cynergists/specter/internal/identity"
	"github.com/cynergists/specter/internal/ingest"
	"github.com/cynergists/specter/internal/resilience"
	"github.com/cynergists/specter/internal/scoring"
	"github.com/cynergists/specter/internal/store"
	"github.com/cynergists/specter/internal/workflow"
	"github.com/cynergists/specter/pkg/salesforce"
)

// specterEnv holds the store and the services wired on top of it.
type specterEnv struct {
	Store       store.Store
	Defaults    *scoring.Defaults
	Policy      *resilience.Policy
	Scorer      *scoring.Scorer
	Resolver    *identity.Resolver
	Syncer      *crm.SyncService
	Escalations *escalation.Service
	Trigger     *workflow.Trigger
	Ingest      *ingest.Service
}

// Close releases resources held by the environment.
func (e *specterEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "specter.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store. Callers close it.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// loadDefaults returns the global rule set, read from the rules file when one
// is configured.
func loadDefaults() (*scoring.Defaults, error) {
	if cfg.Scoring.RulesFile == "" {
		return scoring.NewDefaults(nil), nil
	}
	rules, err := scoring.LoadFile(cfg.Scoring.RulesFile)
	if err != nil {
		return nil, err
	}
	zap.L().Info("scoring rules loaded",
		zap.String("file", cfg.Scoring.RulesFile),
		zap.Int("rules", len(rules)),
	)
	return scoring.NewDefaults(rules), nil
}

// initSalesforce connects when credentials are configured. A nil client
// leaves Salesforce tenants unconfigured.
func initSalesforce() salesforce.Client {
	sf := cfg.CRM.Salesforce
	if sf.ClientID == "" {
		zap.L().Debug("SPECTER_CRM_SALESFORCE_CLIENT_ID not set, salesforce sync disabled")
		return nil
	}
	client, err := salesforce.Connect(salesforce.Credentials{
		LoginURL: sf.LoginURL,
		Username: sf.Username,
		ClientID: sf.ClientID,
		KeyPath:  sf.KeyPath,
	})
	if err != nil {
		zap.L().Warn("salesforce connect failed, salesforce sync disabled", zap.Error(err))
		return nil
	}
	return client
}

// initEnv validates config for mode, opens the store and wires the services.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*specterEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	defaults, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	policy := resilience.FromConfig(cfg.Resilience)
	providers := []crm.Provider{crm.NewGoHighLevel(cfg.CRM.GoHighLevel, policy)}
	if sf := initSalesforce(); sf != nil {
		providers = append(providers, crm.NewSalesforce(sf, cfg.CRM.Salesforce.LeadSource))
	}

	return newEnv(st, defaults, policy, providers...), nil
}

// newEnv wires the services over an open store.
func newEnv(st store.Store, defaults *scoring.Defaults, policy *resilience.Policy, providers ...crm.Provider) *specterEnv {
	env := &specterEnv{
		Store:       st,
		Defaults:    defaults,
		Policy:      policy,
		Scorer:      scoring.NewScorer(st, defaults, returnWindow()),
		Resolver:    identity.NewResolver(st),
		Syncer:      crm.NewSyncService(st, providers...),
		Escalations: escalation.NewService(st),
		Trigger:     workflow.NewTrigger(st),
	}
	env.Ingest = ingest.NewService(st, env.Scorer, env.Resolver, env.Syncer, env.Escalations, env.Trigger)
	return env
}

func returnWindow() time.Duration {
	return time.Duration(cfg.Scoring.ReturnWindowDays) * 24 * time.Hour
}
