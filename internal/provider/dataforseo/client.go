// Package dataforseo talks to the DataForSEO v3 REST API.
package dataforseo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pulserank/apicache/internal/provider"
	"github.com/pulserank/apicache/internal/usage"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL  = "https://api.dataforseo.com"
	DefaultLocation = 2840
	DefaultLanguage = "en"

	statusOK = 20000
)

var errNoData = errors.New("no data in response")

// Locale selects the Google market a query runs against. Zero values fall
// back to the US English market.
type Locale struct {
	LocationCode int    `json:"location_code"`
	LanguageCode string `json:"language_code"`
}

func (l Locale) normalize() Locale {
	if l.LocationCode == 0 {
		l.LocationCode = DefaultLocation
	}
	if l.LanguageCode == "" {
		l.LanguageCode = DefaultLanguage
	}
	return l
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	login      string
	password   string
	log        *logrus.Entry
	now        func() time.Time
}

func NewClient(logger *logrus.Logger, httpClient *http.Client, login, password string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    DefaultBaseURL,
		login:      login,
		password:   password,
		log:        logger.WithField("component", "dataforseo_client"),
		now:        time.Now,
	}
}

// WithBaseURL points the client at another API host.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

type task struct {
	ID            string            `json:"id"`
	StatusCode    int               `json:"status_code"`
	StatusMessage string            `json:"status_message"`
	Result        []json.RawMessage `json:"result"`
}

type envelope struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Tasks         []task `json:"tasks"`
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, payload any) (*envelope, error) {
	if c.login == "" || c.password == "" {
		return nil, provider.NewError(usage.ServiceDataForSEO, endpoint, 0, provider.ErrNotConfigured)
	}

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.SetBasicAuth(c.login, c.password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	raw, err := provider.Do(c.httpClient, usage.ServiceDataForSEO, endpoint, req)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, provider.NewError(usage.ServiceDataForSEO, endpoint, 0, fmt.Errorf("malformed response: %w", err))
	}
	if env.StatusCode != statusOK {
		return nil, c.reject(endpoint, env.StatusCode, env.StatusMessage)
	}
	for _, t := range env.Tasks {
		// 20xxx codes are successes, including 20100 "Task Created".
		if t.StatusCode < 20000 || t.StatusCode >= 30000 {
			return nil, c.reject(endpoint, t.StatusCode, t.StatusMessage)
		}
	}
	return &env, nil
}

func (c *Client) reject(endpoint string, code int, message string) error {
	c.log.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"status_code": code,
	}).Warn("DataForSEO rejected request")
	return provider.NewError(usage.ServiceDataForSEO, endpoint, 0, fmt.Errorf("status %d: %s", code, message))
}

// firstResult returns tasks[0].result[0].
func firstResult(env *envelope) (json.RawMessage, bool) {
	if len(env.Tasks) == 0 || len(env.Tasks[0].Result) == 0 {
		return nil, false
	}
	r := env.Tasks[0].Result[0]
	if len(r) == 0 || string(r) == "null" {
		return nil, false
	}
	return r, true
}

// firstItems returns tasks[0].result[0].items.
func firstItems(env *envelope) (json.RawMessage, bool) {
	r, ok := firstResult(env)
	if !ok {
		return nil, false
	}
	var wrapper struct {
		Items json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(r, &wrapper); err != nil || len(wrapper.Items) == 0 || string(wrapper.Items) == "null" {
		return nil, false
	}
	return wrapper.Items, true
}

func taskIDs(env *envelope) []string {
	ids := make([]string, 0, len(env.Tasks))
	for _, t := range env.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func noData(endpoint string) error {
	return provider.NewError(usage.ServiceDataForSEO, endpoint, 0, errNoData)
}

func (c *Client) SERPData(ctx context.Context, keyword string, loc Locale) (json.RawMessage, error) {
	loc = loc.normalize()
	env, err := c.do(ctx, EndpointSERPData, http.MethodPost, "/v3/serp/google/organic/live/advanced", []map[string]any{{
		"keyword":       keyword,
		"location_code": loc.LocationCode,
		"language_code": loc.LanguageCode,
	}})
	if err != nil {
		return nil, err
	}
	r, ok := firstResult(env)
	if !ok {
		return nil, noData(EndpointSERPData)
	}
	return r, nil
}

type TrendPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

type KeywordMetrics struct {
	Keyword      string       `json:"keyword"`
	SearchVolume int64        `json:"search_volume"`
	CPC          float64      `json:"cpc"`
	Competition  float64      `json:"competition"`
	Trends       []TrendPoint `json:"trends"`
}

func (c *Client) KeywordMetrics(ctx context.Context, keyword string, loc Locale) (KeywordMetrics, error) {
	loc = loc.normalize()
	env, err := c.do(ctx, EndpointKeywordMetrics, http.MethodPost, "/v3/dataforseo_labs/google/keyword_overview/live", []map[string]any{{
		"keywords":      []string{keyword},
		"location_code": loc.LocationCode,
		"language_code": loc.LanguageCode,
	}})
	if err != nil {
		return KeywordMetrics{}, err
	}

	raw, ok := firstItems(env)
	if !ok {
		return KeywordMetrics{}, noData(EndpointKeywordMetrics)
	}
	var items []struct {
		Keyword     string `json:"keyword"`
		KeywordInfo *struct {
			SearchVolume int64   `json:"search_volume"`
			CPC          float64 `json:"cpc"`
			Competition  float64 `json:"competition"`
		} `json:"keyword_info"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return KeywordMetrics{}, provider.NewError(usage.ServiceDataForSEO, EndpointKeywordMetrics, 0, fmt.Errorf("malformed items: %w", err))
	}
	if len(items) == 0 || items[0].KeywordInfo == nil {
		return KeywordMetrics{}, noData(EndpointKeywordMetrics)
	}

	info := items[0].KeywordInfo
	return KeywordMetrics{
		Keyword:      items[0].Keyword,
		SearchVolume: info.SearchVolume,
		CPC:          info.CPC,
		Competition:  info.Competition,
		Trends:       []TrendPoint{},
	}, nil
}

func (c *Client) Trends(ctx context.Context, keyword, dateFrom, dateTo string) ([]TrendPoint, error) {
	env, err := c.do(ctx, EndpointTrends, http.MethodPost, "/v3/keywords_data/google_trends/live", []map[string]any{{
		"keywords":  []string{keyword},
		"date_from": dateFrom,
		"date_to":   dateTo,
	}})
	if err != nil {
		return nil, err
	}

	r, ok := firstResult(env)
	if !ok {
		return nil, noData(EndpointTrends)
	}
	var result struct {
		Trends []TrendPoint `json:"trends"`
	}
	if err := json.Unmarshal(r, &result); err != nil {
		return nil, provider.NewError(usage.ServiceDataForSEO, EndpointTrends, 0, fmt.Errorf("malformed trends: %w", err))
	}
	if result.Trends == nil {
		result.Trends = []TrendPoint{}
	}
	return result.Trends, nil
}

type TitleChange struct {
	Date  string `json:"date"`
	Title string `json:"title"`
}

type OnPageSummary struct {
	Title        string        `json:"title"`
	TitleHistory []TitleChange `json:"titleHistory"`
	IndexedPages int64         `json:"indexedPages"`
}

func (c *Client) OnPageData(ctx context.Context, target string) (OnPageSummary, error) {
	env, err := c.do(ctx, EndpointOnPageData, http.MethodPost, "/v3/on_page/task_post", []map[string]any{{
		"url": target,
	}})
	if err != nil {
		return OnPageSummary{}, err
	}

	r, ok := firstResult(env)
	if !ok {
		return OnPageSummary{}, noData(EndpointOnPageData)
	}
	var result struct {
		Title        string        `json:"title"`
		TitleHistory []TitleChange `json:"title_history"`
		IndexedPages int64         `json:"indexed_pages"`
	}
	if err := json.Unmarshal(r, &result); err != nil {
		return OnPageSummary{}, provider.NewError(usage.ServiceDataForSEO, EndpointOnPageData, 0, fmt.Errorf("malformed on-page result: %w", err))
	}
	return OnPageSummary{
		Title:        result.Title,
		TitleHistory: result.TitleHistory,
		IndexedPages: result.IndexedPages,
	}, nil
}

type KeywordPosition struct {
	Keyword      string  `json:"keyword"`
	Position     int     `json:"position"`
	SearchVolume int64   `json:"searchVolume"`
	CPC          float64 `json:"cpc"`
	Competition  float64 `json:"competition"`
}

func (c *Client) DomainKeywordPositions(ctx context.Context, domain string, limit int) ([]KeywordPosition, error) {
	env, err := c.do(ctx, EndpointDomainKeywordPositions, http.MethodPost, "/v3/domain_analytics/ranked_keywords/live", []map[string]any{{
		"target":        domain,
		"location_code": DefaultLocation,
		"language_code": DefaultLanguage,
		"limit":         limit,
	}})
	if err != nil {
		return nil, err
	}

	raw, ok := firstItems(env)
	if !ok {
		return nil, noData(EndpointDomainKeywordPositions)
	}
	var items []struct {
		Keyword      string  `json:"keyword"`
		RankGroup    int     `json:"rank_group"`
		SearchVolume int64   `json:"search_volume"`
		CPC          float64 `json:"cpc"`
		Competition  float64 `json:"competition"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, provider.NewError(usage.ServiceDataForSEO, EndpointDomainKeywordPositions, 0, fmt.Errorf("malformed items: %w", err))
	}

	positions := make([]KeywordPosition, 0, len(items))
	for _, it := range items {
		positions = append(positions, KeywordPosition{
			Keyword:      it.Keyword,
			Position:     it.RankGroup,
			SearchVolume: it.SearchVolume,
			CPC:          it.CPC,
			Competition:  it.Competition,
		})
	}
	return positions, nil
}

func (c *Client) KeywordOverview(ctx context.Context, keywords []string, loc Locale) (json.RawMessage, error) {
	loc = loc.normalize()
	env, err := c.do(ctx, EndpointKeywordOverview, http.MethodPost, "/v3/dataforseo_labs/google/keyword_overview/live", []map[string]any{{
		"keywords":      keywords,
		"location_code": loc.LocationCode,
		"language_code": loc.LanguageCode,
	}})
	if err != nil {
		return nil, err
	}
	items, ok := firstItems(env)
	if !ok {
		return nil, noData(EndpointKeywordOverview)
	}
	return items, nil
}

func (c *Client) RelatedKeywords(ctx context.Context, keyword string, loc Locale, filters []any) (json.RawMessage, error) {
	loc = loc.normalize()
	query := map[string]any{
		"keyword":       keyword,
		"location_code": loc.LocationCode,
		"language_code": loc.LanguageCode,
	}
	if len(filters) > 0 {
		query["filters"] = filters
	}
	env, err := c.do(ctx, EndpointRelatedKeywords, http.MethodPost, "/v3/dataforseo_labs/google/related_keywords/live", []map[string]any{query})
	if err != nil {
		return nil, err
	}
	items, ok := firstItems(env)
	if !ok {
		return nil, noData(EndpointRelatedKeywords)
	}
	return items, nil
}

// DomainTechnologies returns an empty technology profile when DataForSEO
// has nothing on the target.
func (c *Client) DomainTechnologies(ctx context.Context, target string) (json.RawMessage, error) {
	env, err := c.do(ctx, EndpointDomainTechnologies, http.MethodPost, "/v3/domain_analytics/technologies/domain_technologies/live", []map[string]any{{
		"target": target,
	}})
	if err != nil {
		return nil, err
	}
	if r, ok := firstResult(env); ok {
		return r, nil
	}
	return json.Marshal(map[string]any{
		"target":       target,
		"technologies": map[string]any{"content": map[string]any{"cms": []string{}}},
	})
}

func (c *Client) KeywordsForSite(ctx context.Context, target string, loc Locale) (json.RawMessage, error) {
	loc = loc.normalize()
	env, err := c.do(ctx, EndpointKeywordsForSite, http.MethodPost, "/v3/keywords_data/google_ads/keywords_for_site/live", []map[string]any{{
		"target":        target,
		"location_code": loc.LocationCode,
		"language_code": loc.LanguageCode,
	}})
	if err != nil {
		return nil, err
	}
	if len(env.Tasks) == 0 || env.Tasks[0].Result == nil {
		return nil, noData(EndpointKeywordsForSite)
	}
	return json.Marshal(env.Tasks[0].Result)
}

// PostSERPTask queues one SERP task per keyword and returns the task ids.
func (c *Client) PostSERPTask(ctx context.Context, keywords []string, loc Locale) ([]string, error) {
	loc = loc.normalize()
	tasks := make([]map[string]any, 0, len(keywords))
	for _, kw := range keywords {
		tasks = append(tasks, map[string]any{
			"keyword":       kw,
			"location_code": loc.LocationCode,
			"language_code": loc.LanguageCode,
		})
	}
	env, err := c.do(ctx, EndpointPostSERPTask, http.MethodPost, "/v3/serp/google/organic/task_post", tasks)
	if err != nil {
		return nil, err
	}
	if len(env.Tasks) == 0 {
		return nil, noData(EndpointPostSERPTask)
	}
	return taskIDs(env), nil
}

func (c *Client) SERPTasksReady(ctx context.Context) ([]string, error) {
	env, err := c.do(ctx, EndpointSERPTasksReady, http.MethodGet, "/v3/serp/google/organic/tasks_ready", nil)
	if err != nil {
		return nil, err
	}
	return taskIDs(env), nil
}

func (c *Client) SERPResults(ctx context.Context, taskID string) (json.RawMessage, error) {
	env, err := c.do(ctx, EndpointSERPResults, http.MethodGet, "/v3/serp/google/organic/task_get/advanced/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	r, ok := firstResult(env)
	if !ok {
		return nil, noData(EndpointSERPResults)
	}
	return r, nil
}

// TrendsWindow is the default GoogleTrends range: the four years up to now.
func (c *Client) TrendsWindow(dateFrom, dateTo string) (string, string) {
	now := c.now().UTC()
	if dateTo == "" {
		dateTo = now.Format(time.DateOnly)
	}
	if dateFrom == "" {
		dateFrom = now.Add(-4 * 365 * 24 * time.Hour).Format(time.DateOnly)
	}
	return dateFrom, dateTo
}

func (c *Client) GoogleTrends(ctx context.Context, keywords []string, loc Locale, dateFrom, dateTo string) (json.RawMessage, error) {
	loc = loc.normalize()
	dateFrom, dateTo = c.TrendsWindow(dateFrom, dateTo)
	env, err := c.do(ctx, EndpointGoogleTrends, http.MethodPost, "/v3/keywords_data/google_trends/explore/live", []map[string]any{{
		"keywords":      keywords,
		"location_code": loc.LocationCode,
		"language_code": loc.LanguageCode,
		"date_from":     dateFrom,
		"date_to":       dateTo,
	}})
	if err != nil {
		return nil, err
	}
	r, ok := firstResult(env)
	if !ok {
		return nil, noData(EndpointGoogleTrends)
	}
	return r, nil
}
