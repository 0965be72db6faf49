package semrush

import (
	"context"

	"github.com/pulserank/apicache/internal/cachekey"
	"github.com/pulserank/apicache/internal/provider"
)

const (
	EndpointDomainOverview         = "semrush.domainOverview"
	EndpointDomainOrganic          = "semrush.domainOrganic"
	EndpointDomainOrganicGross     = "semrush.domainOrganicGross"
	EndpointDomainOrganicSearch    = "semrush.domainOrganicSearch"
	EndpointKeywordAnalytics       = "semrush.keywordAnalytics"
	EndpointKeywordSuggestions     = "semrush.keywordSuggestions"
	EndpointDomainCompetitors      = "semrush.domainCompetitors"
	EndpointDomainRank             = "semrush.domainRank"
	EndpointSubdomainOrganicUnique = "semrush.subdomainOrganicUnique"
)

// CachedClient bills list reports by their display limit, the number of
// lines SEMrush may charge for.
type CachedClient struct {
	raw    *Client
	cacher *provider.Cacher
}

func NewCachedClient(raw *Client, cacher *provider.Cacher) *CachedClient {
	return &CachedClient{raw: raw, cacher: cacher}
}

func lines(opts provider.Options, n int) provider.Options {
	if opts.ItemCount == 0 {
		opts.ItemCount = n
	}
	return opts
}

func (c *CachedClient) DomainOverview(ctx context.Context, domain, db string, opts provider.Options) ([]Row, error) {
	params := cachekey.Params{"domain": domain, "database": database(db)}
	return provider.Fetch(ctx, c.cacher, EndpointDomainOverview, params, lines(opts, 1),
		func(ctx context.Context) ([]Row, error) {
			return c.raw.DomainOverview(ctx, domain, db)
		})
}

func (c *CachedClient) DomainOrganic(ctx context.Context, domain, db string, displayLimit int, opts provider.Options) ([]Row, error) {
	displayLimit = limit(displayLimit)
	params := cachekey.Params{"domain": domain, "database": database(db), "displayLimit": displayLimit}
	return provider.Fetch(ctx, c.cacher, EndpointDomainOrganic, params, lines(opts, displayLimit),
		func(ctx context.Context) ([]Row, error) {
			return c.raw.DomainOrganic(ctx, domain, db, displayLimit)
		})
}

func (c *CachedClient) DomainOrganicGross(ctx context.Context, domain, db string, displayLimit, displayOffset int, search string, opts provider.Options) ([]Row, error) {
	displayLimit = limit(displayLimit)
	params := cachekey.Params{
		"domain":        domain,
		"database":      database(db),
		"displayLimit":  displayLimit,
		"displayOffset": displayOffset,
		"search":        search,
	}
	return provider.Fetch(ctx, c.cacher, EndpointDomainOrganicGross, params, lines(opts, displayLimit),
		func(ctx context.Context) ([]Row, error) {
			return c.raw.DomainOrganicGross(ctx, domain, db, displayLimit, displayOffset, search)
		})
}

func (c *CachedClient) DomainOrganicSearch(ctx context.Context, domain, db string, displayLimit int, opts provider.Options) ([]Row, error) {
	displayLimit = limit(displayLimit)
	params := cachekey.Params{"domain": domain, "database": database(db), "displayLimit": displayLimit}
	return provider.Fetch(ctx, c.cacher, EndpointDomainOrganicSearch, params, lines(opts, displayLimit),
		func(ctx context.Context) ([]Row, error) {
			return c.raw.DomainOrganicSearch(ctx, domain, db, displayLimit)
		})
}

func (c *CachedClient) KeywordAnalytics(ctx context.Context, keyword, db string, opts provider.Options) (Row, error) {
	params := cachekey.Params{"keyword": keyword, "database": database(db)}
	return provider.Fetch(ctx, c.cacher, EndpointKeywordAnalytics, params, lines(opts, 1),
		func(ctx context.Context) (Row, error) {
			return c.raw.KeywordAnalytics(ctx, keyword, db)
		})
}

func (c *CachedClient) KeywordSuggestions(ctx context.Context, keyword, db string, opts provider.Options) ([]Row, error) {
	params := cachekey.Params{"keyword": keyword, "database": database(db)}
	return provider.Fetch(ctx, c.cacher, EndpointKeywordSuggestions, params, lines(opts, 1),
		func(ctx context.Context) ([]Row, error) {
			return c.raw.KeywordSuggestions(ctx, keyword, db)
		})
}

func (c *CachedClient) DomainCompetitors(ctx context.Context, domain, db string, displayLimit int, opts provider.Options) ([]Row, error) {
	displayLimit = limit(displayLimit)
	params := cachekey.Params{"domain": domain, "database": database(db), "displayLimit": displayLimit}
	return provider.Fetch(ctx, c.cacher, EndpointDomainCompetitors, params, lines(opts, displayLimit),
		func(ctx context.Context) ([]Row, error) {
			return c.raw.DomainCompetitors(ctx, domain, db, displayLimit)
		})
}

func (c *CachedClient) DomainRank(ctx context.Context, domain, db string, opts provider.Options) (Row, error) {
	params := cachekey.Params{"domain": domain, "database": database(db)}
	return provider.Fetch(ctx, c.cacher, EndpointDomainRank, params, lines(opts, 1),
		func(ctx context.Context) (Row, error) {
			return c.raw.DomainRank(ctx, domain, db)
		})
}

func (c *CachedClient) SubdomainOrganicUnique(ctx context.Context, subdomain, db string, displayLimit int, opts provider.Options) ([]Row, error) {
	displayLimit = limit(displayLimit)
	params := cachekey.Params{"subdomain": subdomain, "database": database(db), "displayLimit": displayLimit}
	return provider.Fetch(ctx, c.cacher, EndpointSubdomainOrganicUnique, params, lines(opts, displayLimit),
		func(ctx context.Context) ([]Row, error) {
			return c.raw.SubdomainOrganicUnique(ctx, subdomain, db, displayLimit)
		})
}
