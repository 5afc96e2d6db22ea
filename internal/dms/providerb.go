package dms

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

// Provider B quota: 500 requests per rolling 5 minutes.
const (
	providerBRateLimit   = 500
	providerBRateWindow  = 5 * time.Minute
	sessionRefreshWindow = 300 * time.Second
)

// ProviderBAdapter talks to an HMAC-signed, session-token DMS vendor.
// Every request carries a signature over the timestamp, method, endpoint
// path and dealer code.
type ProviderBAdapter struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	dealerCode string
	httpClient *http.Client
	breaker    *breaker.Breaker
	limiter    *slidingWindow
	tracker    statsTracker

	sessionMu     sync.Mutex
	sessionToken  string
	sessionExpiry time.Time
}

// NewProviderBAdapter wires the HMAC adapter. br may be nil.
func NewProviderBAdapter(baseURL, apiKey, apiSecret, dealerCode string, timeout time.Duration, br *breaker.Breaker) *ProviderBAdapter {
	return &ProviderBAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		dealerCode: dealerCode,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    br,
		limiter:    newSlidingWindow(providerBRateLimit, providerBRateWindow),
	}
}

func (b *ProviderBAdapter) Name() string { return "provider_b" }

// sign produces the request signature the vendor verifies:
// HMAC-SHA256 over timestamp, method, endpoint path and dealer code.
func (b *ProviderBAdapter) sign(timestamp, method, endpoint string) string {
	mac := hmac.New(sha256.New, []byte(b.apiSecret))
	mac.Write([]byte(timestamp + method + endpoint + b.dealerCode))
	return hex.EncodeToString(mac.Sum(nil))
}

// session returns a valid session token, opening a new session when the
// current one is missing or within the refresh window of expiry.
func (b *ProviderBAdapter) session(ctx context.Context) (string, error) {
	b.sessionMu.Lock()
	defer b.sessionMu.Unlock()
	if b.sessionToken != "" && time.Until(b.sessionExpiry) > sessionRefreshWindow {
		return b.sessionToken, nil
	}
	return b.openSessionLocked(ctx)
}

func (b *ProviderBAdapter) openSessionLocked(ctx context.Context) (string, error) {
	endpoint := "/auth/session"
	timestamp := fmt.Sprint(time.Now().Unix())

	body, _ := json.Marshal(map[string]string{
		"api_key":     b.apiKey,
		"dealer_code": b.dealerCode,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", b.apiKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", b.sign(timestamp, http.MethodPost, endpoint))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b.tracker.recordAuthFailure()
		return "", fmt.Errorf("%w: session endpoint returned %d", types.ErrAuthFailure, resp.StatusCode)
	}

	var sess sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if sess.SessionToken == "" {
		b.tracker.recordAuthFailure()
		return "", fmt.Errorf("%w: empty session token", types.ErrAuthFailure)
	}

	b.sessionToken = sess.SessionToken
	b.sessionExpiry = time.Now().Add(time.Duration(sess.ExpiresIn) * time.Second)
	logging.DMS("provider_b session opened, expires %s", b.sessionExpiry.Format(time.RFC3339))
	return b.sessionToken, nil
}

func (b *ProviderBAdapter) call(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	run := func() error {
		if ok, retryAfter := b.limiter.Allow(); !ok {
			b.tracker.recordRateLimit()
			return &types.RateLimitError{Provider: "provider_b", RetryAfter: retryAfter}
		}

		token, err := b.session(ctx)
		if err != nil {
			return err
		}

		resp, err := sendWithRetry(ctx, b.httpClient, func() (*http.Request, error) {
			u := b.baseURL + endpoint
			if len(query) > 0 {
				u += "?" + query.Encode()
			}
			req, err := http.NewRequest(http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			// Signatures embed the timestamp, so each attempt re-signs
			timestamp := fmt.Sprint(time.Now().Unix())
			req.Header.Set("X-Api-Key", b.apiKey)
			req.Header.Set("X-Session-Token", token)
			req.Header.Set("X-Timestamp", timestamp)
			req.Header.Set("X-Signature", b.sign(timestamp, http.MethodGet, endpoint))
			req.Header.Set("Accept", "application/json")
			return req, nil
		})
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			drainBody(resp)
			b.tracker.recordAuthFailure()
			b.sessionMu.Lock()
			b.sessionToken = ""
			b.sessionMu.Unlock()
			return fmt.Errorf("%w: provider_b rejected session", types.ErrAuthFailure)
		}
		if resp.StatusCode == http.StatusNotFound {
			drainBody(resp)
			return types.ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			drainBody(resp)
			return fmt.Errorf("provider_b %s returned %d", endpoint, resp.StatusCode)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		return err
	}

	var err error
	if b.breaker != nil {
		err = b.breaker.Do(ctx, run)
	} else {
		err = run()
	}
	b.tracker.record(err)
	return err
}

func (b *ProviderBAdapter) GetInventory(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]types.Vehicle, error) {
	server, local := splitFilters(filters)

	q := url.Values{
		"page":      {fmt.Sprint(page)},
		"page_size": {fmt.Sprint(pageSize)},
	}
	for k, v := range server {
		q.Set(k, fmt.Sprint(v))
	}

	var out inventoryResponse
	if err := b.call(ctx, "/api/v2/inventory", q, &out); err != nil {
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

func (b *ProviderBAdapter) GetVehicleDetails(ctx context.Context, vin string) (*types.Vehicle, error) {
	var out vehicleResponse
	if err := b.call(ctx, "/api/v2/vehicles/"+url.PathEscape(vin), nil, &out); err != nil {
		return nil, err
	}
	return &out.Vehicle, nil
}

func (b *ProviderBAdapter) GetServiceHistory(ctx context.Context, vin string) ([]types.ServiceRecord, error) {
	var out serviceHistoryResponse
	if err := b.call(ctx, "/api/v2/vehicles/"+url.PathEscape(vin)+"/service", nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (b *ProviderBAdapter) CheckAvailability(ctx context.Context, vin string) (bool, error) {
	v, err := b.GetVehicleDetails(ctx, vin)
	if err != nil {
		return false, err
	}
	return v.Status == types.StatusAvailable, nil
}

func (b *ProviderBAdapter) SearchVehicles(ctx context.Context, query string, limit int) ([]types.Vehicle, error) {
	q := url.Values{
		"q":     {query},
		"limit": {fmt.Sprint(limit)},
	}
	var out inventoryResponse
	if err := b.call(ctx, "/api/v2/inventory/search", q, &out); err != nil {
		return nil, err
	}
	return out.Vehicles, nil
}

func (b *ProviderBAdapter) SyncPricing(ctx context.Context, vins []string) (int, error) {
	q := url.Values{"vins": {strings.Join(vins, ",")}}
	var out pricingSyncResponse
	if err := b.call(ctx, "/api/v2/pricing/sync", q, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

func (b *ProviderBAdapter) HealthCheck(ctx context.Context) error {
	var out map[string]interface{}
	return b.call(ctx, "/api/v2/health", nil, &out)
}

func (b *ProviderBAdapter) Stats() Stats {
	return b.tracker.snapshot()
}

type sessionResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresIn    int    `json:"expires_in"`
}
