package dms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"dealerrag/internal/breaker"
	"dealerrag/internal/logging"
	"dealerrag/internal/types"
)

// Provider A quota: 1000 requests per rolling hour.
const (
	providerARateLimit  = 1000
	providerARateWindow = time.Hour
	// Tokens are refreshed this long before the vendor-reported expiry.
	tokenExpirySlack = 300 * time.Second
)

// ProviderAAdapter talks to an OAuth2 client-credentials DMS vendor.
type ProviderAAdapter struct {
	baseURL      string
	clientID     string
	clientSecret string
	dealerID     string
	httpClient   *http.Client
	breaker      *breaker.Breaker
	limiter      *slidingWindow
	tracker      statsTracker

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewProviderAAdapter wires the OAuth2 adapter. br may be nil.
func NewProviderAAdapter(baseURL, clientID, clientSecret, dealerID string, timeout time.Duration, br *breaker.Breaker) *ProviderAAdapter {
	return &ProviderAAdapter{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		dealerID:     dealerID,
		httpClient:   &http.Client{Timeout: timeout},
		breaker:      br,
		limiter:      newSlidingWindow(providerARateLimit, providerARateWindow),
	}
}

func (a *ProviderAAdapter) Name() string { return "provider_a" }

// token returns a cached access token, fetching a fresh one when the
// cache is empty or inside the expiry slack.
func (a *ProviderAAdapter) token(ctx context.Context) (string, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}
	return a.fetchTokenLocked(ctx)
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (a *ProviderAAdapter) invalidateToken() {
	a.tokenMu.Lock()
	a.accessToken = ""
	a.tokenMu.Unlock()
}

func (a *ProviderAAdapter) fetchTokenLocked(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.tracker.recordAuthFailure()
		return "", fmt.Errorf("%w: token endpoint returned %d", types.ErrAuthFailure, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		a.tracker.recordAuthFailure()
		return "", fmt.Errorf("%w: empty access token", types.ErrAuthFailure)
	}

	a.accessToken = tok.AccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySlack)
	logging.DMS("provider_a token refreshed, valid until %s", a.tokenExpiry.Format(time.RFC3339))
	return a.accessToken, nil
}

// call performs an authenticated GET, re-authenticating once on 401.
func (a *ProviderAAdapter) call(ctx context.Context, path string, query url.Values, out interface{}) error {
	run := func() error {
		if ok, retryAfter := a.limiter.Allow(); !ok {
			a.tracker.recordRateLimit()
			return &types.RateLimitError{Provider: "provider_a", RetryAfter: retryAfter}
		}

		reauthed := false
		for {
			token, err := a.token(ctx)
			if err != nil {
				return err
			}

			resp, err := sendWithRetry(ctx, a.httpClient, func() (*http.Request, error) {
				u := a.baseURL + path
				if len(query) > 0 {
					u += "?" + query.Encode()
				}
				req, err := http.NewRequest(http.MethodGet, u, nil)
				if err != nil {
					return nil, err
				}
				req.Header.Set("Authorization", "Bearer "+token)
				req.Header.Set("Accept", "application/json")
				return req, nil
			})
			if err != nil {
				return err
			}

			if resp.StatusCode == http.StatusUnauthorized {
				drainBody(resp)
				a.tracker.recordAuthFailure()
				if reauthed {
					return fmt.Errorf("%w: provider_a rejected credentials twice", types.ErrAuthFailure)
				}
				a.invalidateToken()
				reauthed = true
				continue
			}
			if resp.StatusCode == http.StatusNotFound {
				drainBody(resp)
				return types.ErrNotFound
			}
			if resp.StatusCode != http.StatusOK {
				drainBody(resp)
				return fmt.Errorf("provider_a %s returned %d", path, resp.StatusCode)
			}

			err = json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err
		}
	}

	var err error
	if a.breaker != nil {
		err = a.breaker.Do(ctx, run)
	} else {
		err = run()
	}
	a.tracker.record(err)
	return err
}

func (a *ProviderAAdapter) GetInventory(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]types.Vehicle, error) {
	server, local := splitFilters(filters)

	q := url.Values{
		"dealer_id": {a.dealerID},
		"page":      {fmt.Sprint(page)},
		"page_size": {fmt.Sprint(pageSize)},
	}
	for k, v := range server {
		q.Set(k, fmt.Sprint(v))
	}

	var out inventoryResponse
	if err := a.call(ctx, "/v1/inventory", q, &out); err != nil {
		return nil, err
	}

	vehicles := out.Vehicles
	if len(local) > 0 {
		filtered := vehicles[:0]
		for _, v := range vehicles {
			if matchesFilters(v, local) {
				filtered = append(filtered, v)
			}
		}
		vehicles = filtered
	}
	return vehicles, nil
}

func (a *ProviderAAdapter) GetVehicleDetails(ctx context.Context, vin string) (*types.Vehicle, error) {
	var out vehicleResponse
	if err := a.call(ctx, "/v1/vehicles/"+url.PathEscape(vin), nil, &out); err != nil {
		return nil, err
	}
	return &out.Vehicle, nil
}

func (a *ProviderAAdapter) GetServiceHistory(ctx context.Context, vin string) ([]types.ServiceRecord, error) {
	var out serviceHistoryResponse
	if err := a.call(ctx, "/v1/vehicles/"+url.PathEscape(vin)+"/service-history", nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (a *ProviderAAdapter) CheckAvailability(ctx context.Context, vin string) (bool, error) {
	v, err := a.GetVehicleDetails(ctx, vin)
	if err != nil {
		return false, err
	}
	return v.Status == types.StatusAvailable, nil
}

func (a *ProviderAAdapter) SearchVehicles(ctx context.Context, query string, limit int) ([]types.Vehicle, error) {
	q := url.Values{
		"dealer_id": {a.dealerID},
		"q":         {query},
		"limit":     {fmt.Sprint(limit)},
	}
	var out inventoryResponse
	if err := a.call(ctx, "/v1/inventory/search", q, &out); err != nil {
		return nil, err
	}
	return out.Vehicles, nil
}

func (a *ProviderAAdapter) SyncPricing(ctx context.Context, vins []string) (int, error) {
	q := url.Values{
		"dealer_id": {a.dealerID},
		"vins":      {strings.Join(vins, ",")},
	}
	var out pricingSyncResponse
	if err := a.call(ctx, "/v1/pricing/sync", q, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (a *ProviderAAdapter) HealthCheck(ctx context.Context) error {
	var out map[string]interface{}
	return a.call(ctx, "/v1/health", nil, &out)
}

func (a *ProviderAAdapter) Stats() Stats {
	return a.tracker.snapshot()
}

// ===== RESPONSE TYPES =====

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type inventoryResponse struct {
	Vehicles []types.Vehicle `json:"vehicles"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
}

type vehicleResponse struct {
	Vehicle types.Vehicle `json:"vehicle"`
}

type serviceHistoryResponse struct {
	Records []types.ServiceRecord `json:"records"`
}

type pricingSyncResponse struct {
	Updated int `json:"updated"`
}
