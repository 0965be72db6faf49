package dataforseo

import (
	"context"
	"encoding/json"

	"github.com/pulserank/apicache/internal/cachekey"
	"github.com/pulserank/apicache/internal/provider"
)

const (
	EndpointSERPData               = "dataforseo.serpData"
	EndpointKeywordMetrics         = "dataforseo.keywordMetrics"
	EndpointTrends                 = "dataforseo.trends"
	EndpointOnPageData             = "dataforseo.onPageData"
	EndpointDomainKeywordPositions = "dataforseo.domainKeywordPositions"
	EndpointKeywordOverview        = "dataforseo.keywordOverview"
	EndpointRelatedKeywords        = "dataforseo.relatedKeywords"
	EndpointDomainTechnologies     = "dataforseo.domainTechnologies"
	EndpointKeywordsForSite        = "dataforseo.keywordsForSite"
	EndpointPostSERPTask           = "dataforseo.postSERPTask"
	EndpointSERPTasksReady         = "dataforseo.serpTasksReady"
	EndpointSERPResults            = "dataforseo.serpResults"
	EndpointGoogleTrends           = "dataforseo.googleTrends"

	DefaultPositionsLimit = 1000
)

type CachedClient struct {
	raw    *Client
	cacher *provider.Cacher
}

func NewCachedClient(raw *Client, cacher *provider.Cacher) *CachedClient {
	return &CachedClient{raw: raw, cacher: cacher}
}

func items(opts provider.Options, n int) provider.Options {
	if opts.ItemCount == 0 {
		opts.ItemCount = n
	}
	return opts
}

func localeParams(params cachekey.Params, loc Locale) cachekey.Params {
	loc = loc.normalize()
	params["locationCode"] = loc.LocationCode
	params["languageCode"] = loc.LanguageCode
	return params
}

func (c *CachedClient) SERPData(ctx context.Context, keyword string, loc Locale, opts provider.Options) (json.RawMessage, error) {
	params := localeParams(cachekey.Params{"keyword": keyword}, loc)
	return provider.Fetch(ctx, c.cacher, EndpointSERPData, params, opts,
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.SERPData(ctx, keyword, loc)
		})
}

func (c *CachedClient) KeywordMetrics(ctx context.Context, keyword string, loc Locale, opts provider.Options) (KeywordMetrics, error) {
	params := localeParams(cachekey.Params{"keyword": keyword}, loc)
	return provider.Fetch(ctx, c.cacher, EndpointKeywordMetrics, params, items(opts, 1),
		func(ctx context.Context) (KeywordMetrics, error) {
			return c.raw.KeywordMetrics(ctx, keyword, loc)
		})
}

func (c *CachedClient) Trends(ctx context.Context, keyword, dateFrom, dateTo string, opts provider.Options) ([]TrendPoint, error) {
	params := cachekey.Params{"keyword": keyword, "dateFrom": dateFrom, "dateTo": dateTo}
	return provider.Fetch(ctx, c.cacher, EndpointTrends, params, opts,
		func(ctx context.Context) ([]TrendPoint, error) {
			return c.raw.Trends(ctx, keyword, dateFrom, dateTo)
		})
}

func (c *CachedClient) OnPageData(ctx context.Context, target string, opts provider.Options) (OnPageSummary, error) {
	params := cachekey.Params{"url": target}
	return provider.Fetch(ctx, c.cacher, EndpointOnPageData, params, items(opts, 1),
		func(ctx context.Context) (OnPageSummary, error) {
			return c.raw.OnPageData(ctx, target)
		})
}

func (c *CachedClient) DomainKeywordPositions(ctx context.Context, domain string, limit int, opts provider.Options) ([]KeywordPosition, error) {
	if limit <= 0 {
		limit = DefaultPositionsLimit
	}
	params := cachekey.Params{"domain": domain, "limit": limit}
	return provider.Fetch(ctx, c.cacher, EndpointDomainKeywordPositions, params, items(opts, limit),
		func(ctx context.Context) ([]KeywordPosition, error) {
			return c.raw.DomainKeywordPositions(ctx, domain, limit)
		})
}

func (c *CachedClient) KeywordOverview(ctx context.Context, keywords []string, loc Locale, opts provider.Options) (json.RawMessage, error) {
	params := localeParams(cachekey.Params{"keywords": keywords}, loc)
	return provider.Fetch(ctx, c.cacher, EndpointKeywordOverview, params, items(opts, len(keywords)),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.KeywordOverview(ctx, keywords, loc)
		})
}

func (c *CachedClient) RelatedKeywords(ctx context.Context, keyword string, loc Locale, filters []any, opts provider.Options) (json.RawMessage, error) {
	params := localeParams(cachekey.Params{"keyword": keyword, "filters": filters}, loc)
	return provider.Fetch(ctx, c.cacher, EndpointRelatedKeywords, params, opts,
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.RelatedKeywords(ctx, keyword, loc, filters)
		})
}

func (c *CachedClient) DomainTechnologies(ctx context.Context, target string, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"target": target}
	return provider.Fetch(ctx, c.cacher, EndpointDomainTechnologies, params, opts,
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.DomainTechnologies(ctx, target)
		})
}

func (c *CachedClient) KeywordsForSite(ctx context.Context, target string, loc Locale, opts provider.Options) (json.RawMessage, error) {
	params := localeParams(cachekey.Params{"target": target}, loc)
	return provider.Fetch(ctx, c.cacher, EndpointKeywordsForSite, params, opts,
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.KeywordsForSite(ctx, target, loc)
		})
}

// PostSERPTask and SERPTasksReady change state upstream, so they are never
// served from cache.
func (c *CachedClient) PostSERPTask(ctx context.Context, keywords []string, loc Locale, opts provider.Options) ([]string, error) {
	params := localeParams(cachekey.Params{"keywords": keywords}, loc)
	return provider.Call(ctx, c.cacher, EndpointPostSERPTask, params, items(opts, len(keywords)),
		func(ctx context.Context) ([]string, error) {
			return c.raw.PostSERPTask(ctx, keywords, loc)
		})
}

func (c *CachedClient) SERPTasksReady(ctx context.Context, opts provider.Options) ([]string, error) {
	return provider.Call(ctx, c.cacher, EndpointSERPTasksReady, cachekey.Params{}, opts,
		func(ctx context.Context) ([]string, error) {
			return c.raw.SERPTasksReady(ctx)
		})
}

func (c *CachedClient) SERPResults(ctx context.Context, taskID string, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"taskId": taskID}
	return provider.Fetch(ctx, c.cacher, EndpointSERPResults, params, opts,
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.SERPResults(ctx, taskID)
		})
}

func (c *CachedClient) GoogleTrends(ctx context.Context, keywords []string, loc Locale, dateFrom, dateTo string, opts provider.Options) (json.RawMessage, error) {
	// Resolve the default window first so the key names the real range.
	dateFrom, dateTo = c.raw.TrendsWindow(dateFrom, dateTo)
	params := localeParams(cachekey.Params{"keywords": keywords, "dateFrom": dateFrom, "dateTo": dateTo}, loc)
	return provider.Fetch(ctx, c.cacher, EndpointGoogleTrends, params, opts,
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.GoogleTrends(ctx, keywords, loc, dateFrom, dateTo)
		})
}
