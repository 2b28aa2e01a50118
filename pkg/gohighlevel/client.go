// Package gohighlevel provides a client for the GoHighLevel (LeadConnector)
// contacts API.
package gohighlevel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/cynergists/specter/internal/resilience"
)

// Defaults for the LeadConnector API.
const (
	DefaultBaseURL    = "https://services.leadconnectorhq.com"
	DefaultAPIVersion = "2021-07-28"
)

// Client defines the GoHighLevel operations used by the CRM sync.
type Client interface {
	// UpsertContact creates or updates a contact in the request's location.
	UpsertContact(ctx context.Context, req *ContactRequest) (*ContactResponse, error)
}

// ContactRequest is the contact upsert body. Empty fields are omitted.
type ContactRequest struct {
	LocationID   string         `json:"locationId"`
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	Name         string         `json:"name,omitempty"`
	CompanyName  string         `json:"companyName,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"customFields,omitempty"`
}

// ContactResponse is the parsed upsert response.
type ContactResponse struct {
	Contact struct {
		ID string `json:"id"`
	} `json:"contact"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithAPIVersion overrides the Version header.
func WithAPIVersion(v string) Option {
	return func(c *httpClient) {
		if v != "" {
			c.version = v
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithPolicy retries transient failures and trips a per-location breaker.
func WithPolicy(p *resilience.Policy) Option {
	return func(c *httpClient) {
		c.policy = p
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	version string
	http    *http.Client
	limiter *rate.Limiter
	policy  *resilience.Policy
}

// NewClient creates a GoHighLevel client for one API key.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		version: DefaultAPIVersion,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) UpsertContact(ctx context.Context, req *ContactRequest) (*ContactResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: marshal contact")
	}

	return resilience.Call(ctx, c.policy, "gohighlevel:"+req.LocationID, "ghl.upsert_contact",
		func(ctx context.Context) (*ContactResponse, error) {
			raw, err := c.post(ctx, "/contacts/", body)
			if err != nil {
				return nil, err
			}
			var out ContactResponse
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &out); err != nil {
					return nil, eris.Wrap(err, "ghl: unmarshal contact response")
				}
			}
			return &out, nil
		})
}

// post sends one request. Non-2xx responses come back as
// *resilience.StatusError so callers can read the status.
func (c *httpClient) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ghl: rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ghl: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Version", c.version)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: read response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &resilience.StatusError{Service: "ghl", StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
