// Package majestic talks to the Majestic backlink index JSON API.
package majestic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/pulserank/apicache/internal/provider"
	"github.com/pulserank/apicache/internal/usage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL    = "https://api.majestic.com/api/json"
	DefaultDataSource = "fresh"

	batchConcurrency = 10
)

// Client is the uncached Majestic client. Every method returns the
// DataTables object of the response untouched.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logrus.Entry
}

func NewClient(logger *logrus.Logger, httpClient *http.Client, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		log:        logger.WithField("component", "majestic_client"),
	}
}

// WithBaseURL points the client at another API host.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

type envelope struct {
	Code         string          `json:"Code"`
	ErrorMessage string          `json:"ErrorMessage"`
	DataTables   json.RawMessage `json:"DataTables"`
}

func (c *Client) request(ctx context.Context, endpoint, cmd string, params url.Values) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, provider.NewError(usage.ServiceMajestic, endpoint, 0, provider.ErrNotConfigured)
	}

	params.Set("cmd", cmd)
	params.Set("app_api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", cmd, err)
	}

	body, err := provider.Do(c.httpClient, usage.ServiceMajestic, endpoint, req)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, provider.NewError(usage.ServiceMajestic, endpoint, 0, fmt.Errorf("malformed response: %w", err))
	}
	if env.Code != "OK" {
		c.log.WithFields(logrus.Fields{
			"cmd":  cmd,
			"code": env.Code,
		}).Warn("Majestic rejected request")
		return nil, provider.NewError(usage.ServiceMajestic, endpoint, 0, fmt.Errorf("%s: %s", env.Code, env.ErrorMessage))
	}
	return env.DataTables, nil
}

func dataSource(ds string) string {
	if ds == "" {
		return DefaultDataSource
	}
	return ds
}

func addItems(params url.Values, items []string) {
	params.Set("items", strconv.Itoa(len(items)))
	for i, item := range items {
		params.Set("item"+strconv.Itoa(i), item)
	}
}

func (c *Client) IndexItemInfo(ctx context.Context, urls []string, ds string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("datasource", dataSource(ds))
	params.Set("AddAllTopics", "1")
	addItems(params, urls)
	return c.request(ctx, EndpointIndexItemInfo, "GetIndexItemInfo", params)
}

type BacklinkQuery struct {
	URL                       string `json:"url"`
	DataSource                string `json:"dataSource"`
	Mode                      int    `json:"mode"`
	RefDomain                 string `json:"refDomain,omitempty"`
	MaxSourceURLsPerRefDomain int    `json:"maxSourceURLsPerRefDomain,omitempty"`
	Count                     int    `json:"count"`
	From                      int    `json:"from"`
}

func (q BacklinkQuery) normalize() BacklinkQuery {
	q.DataSource = dataSource(q.DataSource)
	if q.Count <= 0 {
		q.Count = 100
	}
	return q
}

func (c *Client) BacklinkData(ctx context.Context, q BacklinkQuery) (json.RawMessage, error) {
	q = q.normalize()
	params := url.Values{}
	params.Set("item", q.URL)
	params.Set("datasource", q.DataSource)
	params.Set("Mode", strconv.Itoa(q.Mode))
	params.Set("Count", strconv.Itoa(q.Count))
	params.Set("From", strconv.Itoa(q.From))
	if q.RefDomain != "" {
		params.Set("RefDomain", q.RefDomain)
	}
	if q.MaxSourceURLsPerRefDomain > 0 {
		params.Set("MaxSourceURLsPerRefDomain", strconv.Itoa(q.MaxSourceURLsPerRefDomain))
	}
	return c.request(ctx, EndpointBacklinkData, "GetBackLinkData", params)
}

// BatchBacklinkData fetches the backlinks of several URLs, splitting a
// budget of 100 links between them, and concatenates the rows in input
// order.
func (c *Client) BatchBacklinkData(ctx context.Context, urls []string, ds string) (json.RawMessage, error) {
	if len(urls) == 0 {
		return json.RawMessage(`[]`), nil
	}
	perURL := 100 / len(urls)
	if perURL < 1 {
		perURL = 1
	}

	var (
		mu   sync.Mutex
		rows = make([][]json.RawMessage, len(urls))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, u := range urls {
		g.Go(func() error {
			tables, err := c.BacklinkData(gctx, BacklinkQuery{URL: u, DataSource: ds, Count: perURL})
			if err != nil {
				return err
			}
			var parsed struct {
				BackLinks struct {
					Data []json.RawMessage `json:"Data"`
				} `json:"BackLinks"`
			}
			if err := json.Unmarshal(tables, &parsed); err != nil {
				return provider.NewError(usage.ServiceMajestic, EndpointBatchBacklinkData, 0, fmt.Errorf("malformed backlinks for %s: %w", u, err))
			}
			mu.Lock()
			rows[i] = parsed.BackLinks.Data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var apiErr *provider.ExternalAPIError
		if errors.As(err, &apiErr) {
			apiErr.Endpoint = EndpointBatchBacklinkData
		}
		return nil, err
	}

	all := make([]json.RawMessage, 0, 100)
	for _, r := range rows {
		all = append(all, r...)
	}
	return json.Marshal(all)
}

func (c *Client) RefDomains(ctx context.Context, domains []string, ds string, count, from int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("datasource", dataSource(ds))
	params.Set("Count", strconv.Itoa(count))
	params.Set("From", strconv.Itoa(from))
	// 2 orders by referring domains, 11 by matched links.
	if len(domains) == 1 {
		params.Set("OrderBy1", "2")
	} else {
		params.Set("OrderBy1", "11")
	}
	addItems(params, domains)
	return c.request(ctx, EndpointRefDomains, "GetRefDomains", params)
}

func (c *Client) AnchorText(ctx context.Context, target, ds string, count int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("item", target)
	params.Set("datasource", dataSource(ds))
	params.Set("Count", strconv.Itoa(count))
	return c.request(ctx, EndpointAnchorText, "GetAnchorText", params)
}

func (c *Client) Topics(ctx context.Context, target, ds string, count int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("item", target)
	params.Set("datasource", dataSource(ds))
	params.Set("Count", strconv.Itoa(count))
	return c.request(ctx, EndpointTopics, "GetTopics", params)
}

func (c *Client) TopPages(ctx context.Context, target, ds string, count, from int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("Query", target)
	params.Set("datasource", dataSource(ds))
	params.Set("Count", strconv.Itoa(count))
	params.Set("From", strconv.Itoa(from))
	return c.request(ctx, EndpointTopPages, "GetTopPages", params)
}

func (c *Client) NewLostBacklinks(ctx context.Context, target, ds string, mode, count int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("item", target)
	params.Set("datasource", dataSource(ds))
	params.Set("Mode", strconv.Itoa(mode))
	params.Set("Count", strconv.Itoa(count))
	return c.request(ctx, EndpointNewLostBacklinks, "GetNewLostBackLinks", params)
}

func (c *Client) HostedDomains(ctx context.Context, domain, ds string, count int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("Domain", domain)
	params.Set("datasource", dataSource(ds))
	params.Set("MaxDomainsOnIP", strconv.Itoa(count))
	params.Set("MaxDomainsOnSubnet", strconv.Itoa(count))
	return c.request(ctx, EndpointHostedDomains, "GetHostedDomains", params)
}

func (c *Client) SubscriptionInfo(ctx context.Context, ds string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("datasource", dataSource(ds))
	return c.request(ctx, EndpointSubscriptionInfo, "GetSubscriptionInfo", params)
}
