package majestic

import (
	"context"
	"encoding/json"

	"github.com/pulserank/apicache/internal/cachekey"
	"github.com/pulserank/apicache/internal/provider"
)

const (
	EndpointIndexItemInfo     = "majestic.indexItemInfo"
	EndpointBacklinkData      = "majestic.backlinkData"
	EndpointBatchBacklinkData = "majestic.batchBacklinkData"
	EndpointRefDomains        = "majestic.refDomains"
	EndpointAnchorText        = "majestic.anchorText"
	EndpointTopics            = "majestic.topics"
	EndpointTopPages          = "majestic.topPages"
	EndpointNewLostBacklinks  = "majestic.newLostBacklinks"
	EndpointHostedDomains     = "majestic.hostedDomains"
	EndpointSubscriptionInfo  = "majestic.subscriptionInfo"
)

// CachedClient is the Majestic client the rest of the service uses.
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

func (c *CachedClient) IndexItemInfo(ctx context.Context, urls []string, ds string, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"urls": urls, "dataSource": dataSource(ds)}
	return provider.Fetch(ctx, c.cacher, EndpointIndexItemInfo, params, items(opts, len(urls)),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.IndexItemInfo(ctx, urls, ds)
		})
}

func (c *CachedClient) BacklinkData(ctx context.Context, q BacklinkQuery, opts provider.Options) (json.RawMessage, error) {
	q = q.normalize()
	params := cachekey.Params{
		"url":                       q.URL,
		"dataSource":                q.DataSource,
		"mode":                      q.Mode,
		"refDomain":                 q.RefDomain,
		"maxSourceURLsPerRefDomain": q.MaxSourceURLsPerRefDomain,
		"count":                     q.Count,
		"from":                      q.From,
	}
	return provider.Fetch(ctx, c.cacher, EndpointBacklinkData, params, items(opts, q.Count),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.BacklinkData(ctx, q)
		})
}

func (c *CachedClient) BatchBacklinkData(ctx context.Context, urls []string, ds string, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"urls": urls, "dataSource": dataSource(ds)}
	return provider.Fetch(ctx, c.cacher, EndpointBatchBacklinkData, params, items(opts, len(urls)),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.BatchBacklinkData(ctx, urls, ds)
		})
}

func (c *CachedClient) RefDomains(ctx context.Context, domains []string, ds string, count, from int, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"domains": domains, "dataSource": dataSource(ds), "count": count, "from": from}
	return provider.Fetch(ctx, c.cacher, EndpointRefDomains, params, items(opts, count),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.RefDomains(ctx, domains, ds, count, from)
		})
}

func (c *CachedClient) AnchorText(ctx context.Context, target, ds string, count int, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"target": target, "dataSource": dataSource(ds), "count": count}
	return provider.Fetch(ctx, c.cacher, EndpointAnchorText, params, items(opts, count),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.AnchorText(ctx, target, ds, count)
		})
}

func (c *CachedClient) Topics(ctx context.Context, target, ds string, count int, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"target": target, "dataSource": dataSource(ds), "count": count}
	return provider.Fetch(ctx, c.cacher, EndpointTopics, params, items(opts, count),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.Topics(ctx, target, ds, count)
		})
}

func (c *CachedClient) TopPages(ctx context.Context, target, ds string, count, from int, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"target": target, "dataSource": dataSource(ds), "count": count, "from": from}
	return provider.Fetch(ctx, c.cacher, EndpointTopPages, params, items(opts, count),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.TopPages(ctx, target, ds, count, from)
		})
}

func (c *CachedClient) NewLostBacklinks(ctx context.Context, target, ds string, mode, count int, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"target": target, "dataSource": dataSource(ds), "mode": mode, "count": count}
	return provider.Fetch(ctx, c.cacher, EndpointNewLostBacklinks, params, items(opts, count),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.NewLostBacklinks(ctx, target, ds, mode, count)
		})
}

func (c *CachedClient) HostedDomains(ctx context.Context, domain, ds string, count int, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"domain": domain, "dataSource": dataSource(ds), "count": count}
	return provider.Fetch(ctx, c.cacher, EndpointHostedDomains, params, items(opts, count),
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.HostedDomains(ctx, domain, ds, count)
		})
}

// SubscriptionInfo always reaches Majestic; account balances go stale too
// quickly to cache.
func (c *CachedClient) SubscriptionInfo(ctx context.Context, ds string, opts provider.Options) (json.RawMessage, error) {
	params := cachekey.Params{"dataSource": dataSource(ds)}
	return provider.Call(ctx, c.cacher, EndpointSubscriptionInfo, params, opts,
		func(ctx context.Context) (json.RawMessage, error) {
			return c.raw.SubscriptionInfo(ctx, ds)
		})
}
