package crm

import (
	"context"
	"sync"
	"time"

	"github.com/cynergists/specter/internal/config"
	"github.com/cynergists/specter/internal/model"
	"github.com/cynergists/specter/internal/resilience"
	"github.com/cynergists/specter/pkg/gohighlevel"
)

// GoHighLevel syncs contacts into a GoHighLevel location.
type GoHighLevel struct {
	cfg    config.GoHighLevelConfig
	policy *resilience.Policy

	mu      sync.Mutex
	clients map[string]gohighlevel.Client
}

// NewGoHighLevel creates the provider. Tenants may override the API key and
// location id from the global config.
func NewGoHighLevel(cfg config.GoHighLevelConfig, policy *resilience.Policy) *GoHighLevel {
	return &GoHighLevel{cfg: cfg, policy: policy, clients: make(map[string]gohighlevel.Client)}
}

func (g *GoHighLevel) Name() string { return model.CRMProviderGoHighLevel }
func (g *GoHighLevel) Label() string { return "GoHighLevel" }
func (g *GoHighLevel) ErrorPrefix() string { return "ghl" }

func (g *GoHighLevel) credentials(tenant *model.Tenant) (apiKey, locationID string) {
	apiKey, locationID = g.cfg.APIKey, g.cfg.LocationID
	if tenant.Settings.GHLAPIKey != "" {
		apiKey = tenant.Settings.GHLAPIKey
	}
	if tenant.Settings.GHLLocationID != "" {
		locationID = tenant.Settings.GHLLocationID
	}
	return apiKey, locationID
}

func (g *GoHighLevel) Configured(tenant *model.Tenant) bool {
	key, loc := g.credentials(tenant)
	return key != "" && loc != ""
}

func (g *GoHighLevel) client(apiKey string) gohighlevel.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.clients[apiKey]
	if !ok {
		opts := []gohighlevel.Option{
			gohighlevel.WithAPIVersion(g.cfg.APIVersion),
			gohighlevel.WithRateLimit(g.cfg.RateLimit),
			gohighlevel.WithPolicy(g.policy),
		}
		if g.cfg.BaseURL != "" {
			opts = append(opts, gohighlevel.WithBaseURL(g.cfg.BaseURL))
		}
		c = gohighlevel.NewClient(apiKey, opts...)
		g.clients[apiKey] = c
	}
	return c
}

func (g *GoHighLevel) UpsertContact(ctx context.Context, tenant *model.Tenant, in ContactInput) (string, error) {
	apiKey, locationID := g.credentials(tenant)
	resp, err := g.client(apiKey).UpsertContact(ctx, ContactRequest(locationID, in))
	if err != nil {
		return "", err
	}
	return resp.Contact.ID, nil
}

// ContactRequest builds the GoHighLevel upsert body for a resolved contact.
func ContactRequest(locationID string, in ContactInput) *gohighlevel.ContactRequest {
	sess := in.Session
	return &gohighlevel.ContactRequest{
		LocationID:  locationID,
		Email:       in.Contact.Email,
		Phone:       in.Contact.Phone,
		Name:        in.Contact.Name,
		CompanyName: in.CompanyName,
		Tags: []string{
			"source:Specter",
			"heat-zone:" + string(sess.HeatZone),
			"intent-tier:" + string(sess.IntentTier),
		},
		CustomFields: map[string]any{
			"specter_intent_score":          sess.IntentScore,
			"specter_resolution_confidence": sess.ResolutionConfidence,
			"specter_last_seen_at":          lastSeen(sess).UTC().Format(time.RFC3339),
			"specter_key_page_touches":      sess.KeyPageVisits(),
		},
	}
}
