package auctionclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"

	"example.com/backstage/services/auction/internal/contracts"
)

// maxErrorBody bounds how much of a failed response ends up in the error
const maxErrorBody = 512

// Client lists auctions from the auction service
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the auction service at baseURL. Requests made with
// a context carrying a New Relic transaction are recorded as external segments.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: newrelic.NewRoundTripper(http.DefaultTransport),
		},
	}
}

// ListAuctions fetches every auction, or only those updated after since.
// Any non-2xx answer, a 404 included, is an error.
func (c *Client) ListAuctions(ctx context.Context, since *time.Time) ([]contracts.AuctionRecord, error) {
	endpoint := c.baseURL + "/api/auctions"
	if since != nil {
		endpoint += "?" + url.Values{"date": {since.UTC().Format(time.RFC3339Nano)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build auction listing request")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reach auction service")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, errors.Errorf("auction service returned %s: %s", res.Status, strings.TrimSpace(string(body)))
	}

	var records []contracts.AuctionRecord
	if err := json.NewDecoder(res.Body).Decode(&records); err != nil {
		return nil, errors.Wrap(err, "failed to decode auction listing")
	}
	return records, nil
}
