// Package inventory is the Inventory Client (spec §4.2): it lists
// machines from the mesh/VPN inventory source and manages the webhook
// subscription that notifies this controller of membership changes.
//
// The HTTP client shape is grounded on the teacher's simplest REST
// provider bodies (provider/webhook/webhook.go's request/decode
// pattern); calls are throttled with go.uber.org/ratelimit the way the
// teacher throttles its registry/zone lookups, rather than a bespoke
// token bucket.
package inventory

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/meshdns-controller/meshdns-controller/internal/apperrors"
	"github.com/meshdns-controller/meshdns-controller/internal/httpmetrics"
	"github.com/meshdns-controller/meshdns-controller/internal/machine"
	"github.com/meshdns-controller/meshdns-controller/internal/tlsutils"
)

// tlsEnvPrefix names the MESHDNS_INVENTORY_{CA,CERT,KEY}_FILE /
// MESHDNS_INVENTORY_TLS_SERVER_NAME / MESHDNS_INVENTORY_TLS_INSECURE
// environment variables NewClient reads to build an optional client TLS
// config, for inventory APIs that require mTLS.
const tlsEnvPrefix = "MESHDNS_INVENTORY"

// RequiredSubscriptions are the webhook event subscriptions this
// controller needs to stay in sync (spec §4.2).
var RequiredSubscriptions = []string{"nodeCreated", "nodeDeleted"}

// Webhook mirrors the inventory API's webhook resource.
type Webhook struct {
	ID            string   `json:"id"`
	EndpointURL   string   `json:"endpointUrl"`
	Subscriptions []string `json:"subscriptions"`
	Secret        string   `json:"secret,omitempty"`
}

// Client talks to the mesh/VPN inventory API.
type Client struct {
	baseURL    string
	apiKey     string
	tailnet    string
	httpClient *http.Client
	limiter    ratelimit.Limiter
}

// NewClient builds an inventory Client rate-limited to rps requests/sec
// (spec §4.2 default: 10).
func NewClient(baseURL, apiKey, tailnet string, rps int) *Client {
	if rps <= 0 {
		rps = 10
	}

	httpClient := &http.Client{}
	if tlsConfig, err := tlsutils.CreateTLSConfig(tlsEnvPrefix); err != nil {
		log.WithError(err).Warn("ignoring invalid inventory TLS configuration")
	} else if len(tlsConfig.Certificates) > 0 || tlsConfig.RootCAs != nil || tlsConfig.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}
	httpClient = httpmetrics.NewClient(httpClient)

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		tailnet:    tailnet,
		httpClient: httpClient,
		limiter:    ratelimit.New(rps),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	c.limiter.Take()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewAppError("marshal request body", err)
		}
		reader = bytes.NewReader(b)
	}

	u := fmt.Sprintf("%s%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return apperrors.NewAppError("build inventory request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewApiError("inventory", 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewApiError("inventory", resp.StatusCode, err)
	}

	if resp.StatusCode >= 300 {
		return apperrors.NewApiError("inventory", resp.StatusCode, errors.Errorf("%s %s: %s", method, path, string(respBody)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperrors.NewAppError("decode inventory response", err)
		}
	}
	return nil
}

type listMachinesResponse struct {
	Devices []*machine.Machine `json:"devices"`
}

// ListMachines fetches the tailnet's current machine list (spec §4.2).
func (c *Client) ListMachines(ctx context.Context) ([]*machine.Machine, error) {
	var resp listMachinesResponse
	path := fmt.Sprintf("/api/v2/tailnet/%s/devices", url.PathEscape(c.tailnet))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

type listWebhooksResponse struct {
	Webhooks []*Webhook `json:"webhooks"`
}

// ListWebhooks returns the tailnet's registered webhooks.
func (c *Client) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	var resp listWebhooksResponse
	path := fmt.Sprintf("/api/v2/tailnet/%s/webhooks", url.PathEscape(c.tailnet))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Webhooks, nil
}

// CreateWebhook registers a new webhook subscribed to subscriptions.
func (c *Client) CreateWebhook(ctx context.Context, endpointURL string, subscriptions []string) (*Webhook, error) {
	req := struct {
		EndpointURL   string   `json:"endpointUrl"`
		Subscriptions []string `json:"subscriptions"`
	}{EndpointURL: endpointURL, Subscriptions: subscriptions}

	var wh Webhook
	path := fmt.Sprintf("/api/v2/tailnet/%s/webhooks", url.PathEscape(c.tailnet))
	if err := c.do(ctx, http.MethodPost, path, req, &wh); err != nil {
		return nil, err
	}
	return &wh, nil
}

// UpdateWebhook replaces an existing webhook's subscription set.
func (c *Client) UpdateWebhook(ctx context.Context, id string, subscriptions []string) error {
	req := struct {
		Subscriptions []string `json:"subscriptions"`
	}{Subscriptions: subscriptions}
	path := fmt.Sprintf("/api/v2/webhooks/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodPatch, path, req, nil)
}

// DeleteWebhook removes a webhook by ID.
func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	path := fmt.Sprintf("/api/v2/webhooks/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// NormalizeURL canonicalizes a webhook endpoint URL for comparison
// (trailing slash and scheme/host case are insignificant, spec §4.2).
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// hasSubscriptionSuperset reports whether have contains every entry of want.
func hasSubscriptionSuperset(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// EnsureWebhook implements spec §4.2's ensure-webhook protocol: find a
// webhook whose normalized endpoint URL matches endpointURL; if its
// subscriptions are already a superset of RequiredSubscriptions, leave it
// alone; if found but missing subscriptions, update it; if not found,
// create it. Returns the resulting webhook.
func (c *Client) EnsureWebhook(ctx context.Context, endpointURL string) (*Webhook, error) {
	webhooks, err := c.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}

	target := NormalizeURL(endpointURL)
	var existing *Webhook
	for _, wh := range webhooks {
		if NormalizeURL(wh.EndpointURL) == target {
			existing = wh
			break
		}
	}

	if existing == nil {
		log.WithField("url", endpointURL).Info("creating inventory webhook")
		return c.CreateWebhook(ctx, endpointURL, RequiredSubscriptions)
	}

	if hasSubscriptionSuperset(existing.Subscriptions, RequiredSubscriptions) {
		return existing, nil
	}

	merged := mergeSubscriptions(existing.Subscriptions, RequiredSubscriptions)
	log.WithField("url", endpointURL).WithField("subscriptions", merged).Info("updating inventory webhook subscriptions")
	if err := c.UpdateWebhook(ctx, existing.ID, merged); err != nil {
		return nil, err
	}
	existing.Subscriptions = merged
	return existing, nil
}

func mergeSubscriptions(have, want []string) []string {
	set := make(map[string]struct{}, len(have)+len(want))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, s := range want {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// VerifySignature validates an inbound webhook payload against the
// X-Tailscale-Signature-style HMAC-SHA256 header (spec §4.2). If secret
// is empty, validation passes and VerifySignature logs a warning on every
// call — the controller was configured without webhook authentication,
// which is accepted so local testing (and an initial bootstrap before a
// secret is set) keeps working.
func VerifySignature(secret string, payload []byte, signatureHeader string) bool {
	if secret == "" {
		log.Warn("webhook signature validation skipped: no secret configured")
		return true
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	sig := strings.TrimPrefix(signatureHeader, "sha256=")
	decoded, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, expected)
}
