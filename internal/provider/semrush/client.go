// Package semrush talks to the SEMrush analytics API, which answers with
// semicolon separated CSV.
package semrush

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pulserank/apicache/internal/provider"
	"github.com/pulserank/apicache/internal/usage"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL  = "https://api.semrush.com"
	DefaultDatabase = "us"
	DefaultLimit    = 10

	nothingFound = "ERROR 50 :: NOTHING FOUND"
)

// Row is one report line keyed by export column code ("Ph", "Po", ...).
type Row map[string]string

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
		log:        logger.WithField("component", "semrush_client"),
	}
}

// WithBaseURL points the client at another API host.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

func database(db string) string {
	if db == "" {
		return DefaultDatabase
	}
	return db
}

func limit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// report runs one report type and returns its lines. The header line is
// skipped; columns are named after the requested export codes.
func (c *Client) report(ctx context.Context, endpoint string, params url.Values) ([]Row, error) {
	if c.apiKey == "" {
		return nil, provider.NewError(usage.ServiceSEMrush, endpoint, 0, provider.ErrNotConfigured)
	}
	params.Set("key", c.apiKey)
	params.Set("database", database(params.Get("database")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}

	body, err := provider.Do(c.httpClient, usage.ServiceSEMrush, endpoint, req)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, nothingFound) {
		return []Row{}, nil
	}
	if strings.HasPrefix(text, "ERROR") {
		c.log.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"type":     params.Get("type"),
		}).Warn("SEMrush rejected request")
		return nil, provider.NewError(usage.ServiceSEMrush, endpoint, 0, errors.New(text))
	}

	rows, err := parseReport(text, strings.Split(params.Get("export_columns"), ","))
	if err != nil {
		return nil, provider.NewError(usage.ServiceSEMrush, endpoint, 0, err)
	}
	return rows, nil
}

func parseReport(text string, columns []string) ([]Row, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = ';'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []Row{}, nil
		}
		return nil, fmt.Errorf("malformed report header: %w", err)
	}

	rows := []Row{}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed report line: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func domainParams(reportType, domain, db, columns string) url.Values {
	params := url.Values{}
	params.Set("type", reportType)
	params.Set("domain", domain)
	params.Set("database", db)
	params.Set("export_columns", columns)
	return params
}

// DomainOverview returns the organic history of a domain. Dt is rewritten
// from YYYYMMDD to YYYY-MM-DD.
func (c *Client) DomainOverview(ctx context.Context, domain, db string) ([]Row, error) {
	rows, err := c.report(ctx, EndpointDomainOverview, domainParams("domain_rank_history", domain, db, "Ot,Or,Dt"))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if t, err := time.Parse("20060102", row["Dt"]); err == nil {
			row["Dt"] = t.Format(time.DateOnly)
		}
	}
	return rows, nil
}

func (c *Client) DomainOrganic(ctx context.Context, domain, db string, displayLimit int) ([]Row, error) {
	params := domainParams("domain_organic", domain, db, "Ph,Po,Ot,Nq,Cp,Co,Td,Ur,Tr")
	params.Set("display_limit", strconv.Itoa(limit(displayLimit)))
	return c.report(ctx, EndpointDomainOrganic, params)
}

// DomainOrganicGross pages through a domain's keywords by traffic, optionally
// keeping only phrases containing search.
func (c *Client) DomainOrganicGross(ctx context.Context, domain, db string, displayLimit, displayOffset int, search string) ([]Row, error) {
	params := domainParams("domain_organic", domain, db, "Ph,Po,Tr,Tc,Nq,Cp,Co,Nr,Ur")
	params.Set("display_limit", strconv.Itoa(limit(displayLimit)))
	params.Set("display_offset", strconv.Itoa(displayOffset))
	params.Set("display_sort", "tr_desc")
	if search != "" {
		params.Set("display_filter", "+|Ph|Co|"+search)
	}
	return c.report(ctx, EndpointDomainOrganicGross, params)
}

func (c *Client) DomainOrganicSearch(ctx context.Context, domain, db string, displayLimit int) ([]Row, error) {
	params := domainParams("domain_organic", domain, db, "Ph,Po,Pp,Pd,Nq,Cp,Ur,Tr,Tc,Co,Nr")
	params.Set("display_limit", strconv.Itoa(limit(displayLimit)))
	params.Set("display_filter", "+|Ph|Co|seo")
	params.Set("display_sort", "tr_desc")
	return c.report(ctx, EndpointDomainOrganicSearch, params)
}

func phraseParams(reportType, phrase, db string) url.Values {
	params := url.Values{}
	params.Set("type", reportType)
	params.Set("phrase", phrase)
	params.Set("database", db)
	params.Set("export_columns", "Ph,Nq,Cp,Co,Nr")
	return params
}

var errNoKeywordData = errors.New("no keyword analytics data found")

func (c *Client) KeywordAnalytics(ctx context.Context, keyword, db string) (Row, error) {
	rows, err := c.report(ctx, EndpointKeywordAnalytics, phraseParams("phrase_this", keyword, db))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, provider.NewError(usage.ServiceSEMrush, EndpointKeywordAnalytics, 0, errNoKeywordData)
	}
	return rows[0], nil
}

func (c *Client) KeywordSuggestions(ctx context.Context, keyword, db string) ([]Row, error) {
	return c.report(ctx, EndpointKeywordSuggestions, phraseParams("phrase_related", keyword, db))
}

func (c *Client) DomainCompetitors(ctx context.Context, domain, db string, displayLimit int) ([]Row, error) {
	params := domainParams("domain_organic_organic", domain, db, "Dn,Np,Or,Ot")
	params.Set("display_limit", strconv.Itoa(limit(displayLimit)))
	return c.report(ctx, EndpointDomainCompetitors, params)
}

// DomainRank returns nil when SEMrush knows nothing about the domain.
func (c *Client) DomainRank(ctx context.Context, domain, db string) (Row, error) {
	rows, err := c.report(ctx, EndpointDomainRank, domainParams("domain_rank", domain, db, "Dn,Or,Ot"))
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// SubdomainOrganicUnique does not support display_offset.
func (c *Client) SubdomainOrganicUnique(ctx context.Context, subdomain, db string, displayLimit int) ([]Row, error) {
	params := url.Values{}
	params.Set("type", "subdomain_organic_unique")
	params.Set("subdomain", subdomain)
	params.Set("database", db)
	params.Set("display_limit", strconv.Itoa(limit(displayLimit)))
	params.Set("export_columns", "Ur,Pc,Tg,Tr")
	return c.report(ctx, EndpointSubdomainOrganicUnique, params)
}
