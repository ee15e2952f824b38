package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cardvault/valuation-engine/pkg/models"
)

// HTTPAdapter is a generic marketplace adapter that queries a configured
// base URL for comps. It is one of the closed set of tagged adapter
// variants (§9); adding a marketplace with a compatible comps endpoint just
// means constructing another HTTPAdapter with a new tag and base URL —
// adding an incompatible one means writing a new Adapter implementation.
type HTTPAdapter struct {
	tag     string
	baseURL string
	client  *http.Client
}

// NewHTTPAdapter builds an adapter for a marketplace reachable over a
// simple `GET {baseURL}?q=...&windowDays=...` comps endpoint returning a
// JSON array of comps.
func NewHTTPAdapter(tag, baseURL string, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{tag: tag, baseURL: baseURL, client: client}
}

func (a *HTTPAdapter) Tag() string { return a.tag }

func (a *HTTPAdapter) FetchComps(ctx context.Context, query string, windowDays int) ([]models.Comp, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, fmt.Errorf("pricing: adapter %s: bad base url: %w", a.tag, err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("windowDays", fmt.Sprintf("%d", windowDays))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("pricing: adapter %s: build request: %w", a.tag, err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricing: adapter %s: %w", a.tag, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("pricing: adapter %s: transient status %d", a.tag, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricing: adapter %s: status %d", a.tag, resp.StatusCode)
	}

	var comps []models.Comp
	if err := json.NewDecoder(resp.Body).Decode(&comps); err != nil {
		return nil, fmt.Errorf("pricing: adapter %s: decode: %w", a.tag, err)
	}
	for i := range comps {
		comps[i].SourceTag = a.tag
	}
	return comps, nil
}
