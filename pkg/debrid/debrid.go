// Package debrid unrestricts stream links through premium debrid services.
// Providers are tried strictly in order and the first success wins.
package debrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/luinog1/crumble-engine/pkg/fallback"
)

// Provider identifies one debrid service.
type Provider string

const (
	ProviderRealDebrid Provider = "real-debrid"
	ProviderAllDebrid  Provider = "all-debrid"
	ProviderPremiumize Provider = "premiumize"
)

// chainOrder is the fixed resolution order.
var chainOrder = []Provider{ProviderRealDebrid, ProviderAllDebrid, ProviderPremiumize}

// ErrAllProvidersExhausted is returned when at least one provider is
// configured and every configured provider failed to resolve the link.
var ErrAllProvidersExhausted = errors.New("all debrid providers exhausted")

// ErrUnknownProvider is returned for a provider name outside the chain.
var ErrUnknownProvider = errors.New("unknown debrid provider")

// apiAgent identifies this client to the all-debrid API.
const apiAgent = "crumble"

// Credentials holds per-provider API keys. Empty means not configured.
type Credentials struct {
	RealDebrid string
	AllDebrid  string
	Premiumize string
}

func (c Credentials) key(p Provider) string {
	switch p {
	case ProviderRealDebrid:
		return c.RealDebrid
	case ProviderAllDebrid:
		return c.AllDebrid
	case ProviderPremiumize:
		return c.Premiumize
	}
	return ""
}

// Resolution is the outcome of a successful unrestrict.
type Resolution struct {
	OriginalURL string   `json:"originalUrl"`
	ResolvedURL string   `json:"resolvedUrl"`
	Provider    Provider `json:"provider"`
}

// Resolver runs the provider chain. API base URLs are fields so tests can
// point them at a local server.
type Resolver struct {
	httpClient *http.Client
	creds      Credentials

	RealDebridAPI string
	AllDebridAPI  string
	PremiumizeAPI string
}

// NewResolver builds a resolver with the production API endpoints.
func NewResolver(httpClient *http.Client, creds Credentials) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{
		httpClient:    httpClient,
		creds:         creds,
		RealDebridAPI: "https://api.real-debrid.com/rest/1.0",
		AllDebridAPI:  "https://api.alldebrid.com/v4",
		PremiumizeAPI: "https://www.premiumize.me/api",
	}
}

// Configured lists the providers that have credentials, in chain order.
func (r *Resolver) Configured() []Provider {
	var out []Provider
	for _, p := range chainOrder {
		if r.creds.key(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// Resolve runs link through the configured providers in chain order and
// returns the first successful resolution. With no provider configured it
// returns a zero Resolution and no error, meaning "play the original link".
// With providers configured and all failing it returns
// ErrAllProvidersExhausted.
func (r *Resolver) Resolve(ctx context.Context, link string) (Resolution, error) {
	configured := r.Configured()
	if len(configured) == 0 {
		return Resolution{}, nil
	}

	attempts := make([]fallback.Attempt[Resolution], 0, len(configured))
	for _, p := range configured {
		p := p
		attempts = append(attempts, func(ctx context.Context) (Resolution, error) {
			resolved, err := r.unrestrict(ctx, p, link)
			if err != nil {
				return Resolution{}, err
			}
			return Resolution{OriginalURL: link, ResolvedURL: resolved, Provider: p}, nil
		})
	}

	resolution, _, err := fallback.Sequential(ctx, attempts, func(res Resolution) bool {
		return res.ResolvedURL != ""
	})
	if err != nil {
		if errors.Is(err, fallback.ErrExhausted) {
			return Resolution{}, fmt.Errorf("%w: %s: %w", ErrAllProvidersExhausted, link, err)
		}
		return Resolution{}, err
	}
	return resolution, nil
}

func (r *Resolver) unrestrict(ctx context.Context, p Provider, link string) (string, error) {
	switch p {
	case ProviderRealDebrid:
		return r.unrestrictRealDebrid(ctx, link)
	case ProviderAllDebrid:
		return r.unrestrictAllDebrid(ctx, link)
	case ProviderPremiumize:
		return r.unrestrictPremiumize(ctx, link)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownProvider, p)
}

func (r *Resolver) unrestrictRealDebrid(ctx context.Context, link string) (string, error) {
	form := url.Values{"link": {link}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.RealDebridAPI+"/unrestrict/link", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.creds.RealDebrid)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var payload struct {
		Download string `json:"download"`
	}
	if err := r.doJSON(req, &payload); err != nil {
		return "", fmt.Errorf("real-debrid unrestrict: %w", err)
	}
	if payload.Download == "" {
		return "", errors.New("real-debrid unrestrict: empty download link")
	}
	return payload.Download, nil
}

func (r *Resolver) unrestrictAllDebrid(ctx context.Context, link string) (string, error) {
	query := url.Values{
		"agent":  {apiAgent},
		"apikey": {r.creds.AllDebrid},
		"link":   {link},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.AllDebridAPI+"/link/unlock?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}

	var payload struct {
		Data struct {
			Link string `json:"link"`
		} `json:"data"`
	}
	if err := r.doJSON(req, &payload); err != nil {
		return "", fmt.Errorf("all-debrid unlock: %w", err)
	}
	if payload.Data.Link == "" {
		return "", errors.New("all-debrid unlock: empty link")
	}
	return payload.Data.Link, nil
}

func (r *Resolver) unrestrictPremiumize(ctx context.Context, link string) (string, error) {
	query := url.Values{
		"apikey": {r.creds.Premiumize},
		"src":    {link},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.PremiumizeAPI+"/transfer/directdl?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
	}

	var payload struct {
		Location string `json:"location"`
	}
	if err := r.doJSON(req, &payload); err != nil {
		return "", fmt.Errorf("premiumize directdl: %w", err)
	}
	if payload.Location == "" {
		return "", errors.New("premiumize directdl: empty location")
	}
	return payload.Location, nil
}

// TestCredential checks the stored API key for provider against the
// service's account endpoint.
func (r *Resolver) TestCredential(ctx context.Context, p Provider) (bool, error) {
	switch p {
	case ProviderRealDebrid, ProviderAllDebrid, ProviderPremiumize:
	default:
		return false, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}

	key := r.creds.key(p)
	if key == "" {
		return false, nil
	}

	switch p {
	case ProviderRealDebrid:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.RealDebridAPI+"/user", nil)
		if err != nil {
			return false, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+key)
		var payload struct {
			ID json.Number `json:"id"`
		}
		if err := r.doJSON(req, &payload); err != nil {
			return false, nil
		}
		return true, nil

	case ProviderAllDebrid:
		query := url.Values{"agent": {apiAgent}, "apikey": {key}}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.AllDebridAPI+"/user?"+query.Encode(), nil)
		if err != nil {
			return false, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
		}
		var payload struct {
			Status string `json:"status"`
		}
		if err := r.doJSON(req, &payload); err != nil {
			return false, nil
		}
		return payload.Status == "success", nil

	case ProviderPremiumize:
		query := url.Values{"apikey": {key}}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.PremiumizeAPI+"/account/info?"+query.Encode(), nil)
		if err != nil {
			return false, fmt.Errorf("failed to http.NewRequestWithContext: %w", err)
		}
		var payload struct {
			Status string `json:"status"`
		}
		if err := r.doJSON(req, &payload); err != nil {
			return false, nil
		}
		return payload.Status == "success", nil
	}

	return false, nil
}

func (r *Resolver) doJSON(req *http.Request, out any) error {
	res, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to http.Client.Do: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("invalid status code: %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to json.Decoder.Decode: %w", err)
	}
	return nil
}
