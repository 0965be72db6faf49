package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/pulserank/apicache/internal/provider"
	"github.com/pulserank/apicache/internal/provider/dataforseo"
	"github.com/pulserank/apicache/internal/provider/majestic"
	"github.com/pulserank/apicache/internal/provider/semrush"
	"github.com/pulserank/apicache/internal/usage"
	"github.com/sirupsen/logrus"
)

// SEOHandler exposes the cached provider operations over HTTP.
type SEOHandler struct {
	majestic   *majestic.CachedClient
	dataforseo *dataforseo.CachedClient
	semrush    *semrush.CachedClient
	log        *logrus.Entry
}

func NewSEOHandler(logger *logrus.Logger, mj *majestic.CachedClient, dfs *dataforseo.CachedClient, sem *semrush.CachedClient) *SEOHandler {
	return &SEOHandler{
		majestic:   mj,
		dataforseo: dfs,
		semrush:    sem,
		log:        logger.WithField("component", "seo_handler"),
	}
}

// serve adapts a provider operation to an http.HandlerFunc.
func serve[T any](h *SEOHandler, op func(ctx context.Context, q url.Values, opts provider.Options) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := callOptions(r)
		if err != nil {
			writeProviderError(w, h.log, err)
			return
		}
		q := r.URL.Query()
		for k, v := range mux.Vars(r) {
			q.Set(k, v)
		}

		v, err := op(r.Context(), q, opts)
		if err != nil {
			writeProviderError(w, h.log.WithField("path", r.URL.Path), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": v})
	}
}

// serveBody is serve for operations taking a JSON request body.
func serveBody[B, T any](h *SEOHandler, op func(ctx context.Context, body B, opts provider.Options) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := callOptions(r)
		if err != nil {
			writeProviderError(w, h.log, err)
			return
		}
		var body B
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		v, err := op(r.Context(), body, opts)
		if err != nil {
			writeProviderError(w, h.log.WithField("path", r.URL.Path), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": v})
	}
}

func locale(q url.Values) (dataforseo.Locale, error) {
	loc, err := intParam(q, "location", 0)
	if err != nil {
		return dataforseo.Locale{}, err
	}
	return dataforseo.Locale{LocationCode: loc, LanguageCode: q.Get("language")}, nil
}

// notConfigured answers every route of a provider whose credentials are
// missing.
func notConfigured(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:   provider.ErrNotConfigured.Error(),
			Service: service,
		})
	}
}

// register mounts the routes of every provider. A nil client leaves its
// provider answering 503.
func (h *SEOHandler) register(r *mux.Router) {
	mj := r.PathPrefix("/majestic").Subrouter()
	if h.majestic == nil {
		mj.PathPrefix("/").HandlerFunc(notConfigured(usage.ServiceMajestic))
	} else {
		h.registerMajestic(mj)
	}

	dfs := r.PathPrefix("/dataforseo").Subrouter()
	if h.dataforseo == nil {
		dfs.PathPrefix("/").HandlerFunc(notConfigured(usage.ServiceDataForSEO))
	} else {
		h.registerDataForSEO(dfs)
	}

	sem := r.PathPrefix("/semrush").Subrouter()
	if h.semrush == nil {
		sem.PathPrefix("/").HandlerFunc(notConfigured(usage.ServiceSEMrush))
	} else {
		h.registerSEMrush(sem)
	}
}

func (h *SEOHandler) registerMajestic(mj *mux.Router) {
	mj.HandleFunc("/index-item-info", serve(h, h.indexItemInfo)).Methods(http.MethodGet)
	mj.HandleFunc("/backlinks", serve(h, h.backlinkData)).Methods(http.MethodGet)
	mj.HandleFunc("/backlinks/batch", serve(h, h.batchBacklinkData)).Methods(http.MethodGet)
	mj.HandleFunc("/ref-domains", serve(h, h.refDomains)).Methods(http.MethodGet)
	mj.HandleFunc("/anchor-text", serve(h, h.anchorText)).Methods(http.MethodGet)
	mj.HandleFunc("/topics", serve(h, h.topics)).Methods(http.MethodGet)
	mj.HandleFunc("/top-pages", serve(h, h.topPages)).Methods(http.MethodGet)
	mj.HandleFunc("/new-lost-backlinks", serve(h, h.newLostBacklinks)).Methods(http.MethodGet)
	mj.HandleFunc("/hosted-domains", serve(h, h.hostedDomains)).Methods(http.MethodGet)
	mj.HandleFunc("/subscription", serve(h, h.subscriptionInfo)).Methods(http.MethodGet)
}

func (h *SEOHandler) registerDataForSEO(dfs *mux.Router) {
	dfs.HandleFunc("/serp", serve(h, h.serpData)).Methods(http.MethodGet)
	dfs.HandleFunc("/keyword-metrics", serve(h, h.keywordMetrics)).Methods(http.MethodGet)
	dfs.HandleFunc("/trends", serve(h, h.trends)).Methods(http.MethodGet)
	dfs.HandleFunc("/on-page", serve(h, h.onPageData)).Methods(http.MethodGet)
	dfs.HandleFunc("/domain-keyword-positions", serve(h, h.domainKeywordPositions)).Methods(http.MethodGet)
	dfs.HandleFunc("/keyword-overview", serve(h, h.keywordOverview)).Methods(http.MethodGet)
	dfs.HandleFunc("/related-keywords", serveBody(h, h.relatedKeywords)).Methods(http.MethodPost)
	dfs.HandleFunc("/domain-technologies", serve(h, h.domainTechnologies)).Methods(http.MethodGet)
	dfs.HandleFunc("/keywords-for-site", serve(h, h.keywordsForSite)).Methods(http.MethodGet)
	dfs.HandleFunc("/serp-tasks", serveBody(h, h.postSERPTask)).Methods(http.MethodPost)
	dfs.HandleFunc("/serp-tasks/ready", serve(h, h.serpTasksReady)).Methods(http.MethodGet)
	dfs.HandleFunc("/serp-tasks/{taskId}", serve(h, h.serpResults)).Methods(http.MethodGet)
	dfs.HandleFunc("/google-trends", serve(h, h.googleTrends)).Methods(http.MethodGet)
}

func (h *SEOHandler) registerSEMrush(sem *mux.Router) {
	sem.HandleFunc("/domain-overview", serve(h, h.domainOverview)).Methods(http.MethodGet)
	sem.HandleFunc("/domain-organic", serve(h, h.domainOrganic)).Methods(http.MethodGet)
	sem.HandleFunc("/domain-organic-gross", serve(h, h.domainOrganicGross)).Methods(http.MethodGet)
	sem.HandleFunc("/domain-organic-search", serve(h, h.domainOrganicSearch)).Methods(http.MethodGet)
	sem.HandleFunc("/keyword-analytics", serve(h, h.keywordAnalytics)).Methods(http.MethodGet)
	sem.HandleFunc("/keyword-suggestions", serve(h, h.keywordSuggestions)).Methods(http.MethodGet)
	sem.HandleFunc("/domain-competitors", serve(h, h.domainCompetitors)).Methods(http.MethodGet)
	sem.HandleFunc("/domain-rank", serve(h, h.domainRank)).Methods(http.MethodGet)
	sem.HandleFunc("/subdomain-organic", serve(h, h.subdomainOrganicUnique)).Methods(http.MethodGet)
}

// Majestic

func (h *SEOHandler) indexItemInfo(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	urls, err := requiredList(q, "url")
	if err != nil {
		return nil, err
	}
	return h.majestic.IndexItemInfo(ctx, urls, q.Get("dataSource"), opts)
}

func (h *SEOHandler) backlinkData(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	target, err := required(q, "url")
	if err != nil {
		return nil, err
	}
	query := majestic.BacklinkQuery{URL: target, DataSource: q.Get("dataSource"), RefDomain: q.Get("refDomain")}
	if query.Mode, err = intParam(q, "mode", 0); err != nil {
		return nil, err
	}
	if query.MaxSourceURLsPerRefDomain, err = intParam(q, "maxSourceURLsPerRefDomain", 0); err != nil {
		return nil, err
	}
	if query.Count, err = intParam(q, "count", 100); err != nil {
		return nil, err
	}
	if query.From, err = intParam(q, "from", 0); err != nil {
		return nil, err
	}
	return h.majestic.BacklinkData(ctx, query, opts)
}

func (h *SEOHandler) batchBacklinkData(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	urls, err := requiredList(q, "url")
	if err != nil {
		return nil, err
	}
	return h.majestic.BatchBacklinkData(ctx, urls, q.Get("dataSource"), opts)
}

func (h *SEOHandler) refDomains(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	domains, err := requiredList(q, "domain")
	if err != nil {
		return nil, err
	}
	count, err := intParam(q, "count", 100)
	if err != nil {
		return nil, err
	}
	from, err := intParam(q, "from", 0)
	if err != nil {
		return nil, err
	}
	return h.majestic.RefDomains(ctx, domains, q.Get("dataSource"), count, from, opts)
}

func (h *SEOHandler) anchorText(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	target, err := required(q, "target")
	if err != nil {
		return nil, err
	}
	count, err := intParam(q, "count", 100)
	if err != nil {
		return nil, err
	}
	return h.majestic.AnchorText(ctx, target, q.Get("dataSource"), count, opts)
}

func (h *SEOHandler) topics(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	target, err := required(q, "target")
	if err != nil {
		return nil, err
	}
	count, err := intParam(q, "count", 100)
	if err != nil {
		return nil, err
	}
	return h.majestic.Topics(ctx, target, q.Get("dataSource"), count, opts)
}

func (h *SEOHandler) topPages(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	target, err := required(q, "target")
	if err != nil {
		return nil, err
	}
	count, err := intParam(q, "count", 100)
	if err != nil {
		return nil, err
	}
	from, err := intParam(q, "from", 0)
	if err != nil {
		return nil, err
	}
	return h.majestic.TopPages(ctx, target, q.Get("dataSource"), count, from, opts)
}

func (h *SEOHandler) newLostBacklinks(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	target, err := required(q, "target")
	if err != nil {
		return nil, err
	}
	mode, err := intParam(q, "mode", 0)
	if err != nil {
		return nil, err
	}
	count, err := intParam(q, "count", 100)
	if err != nil {
		return nil, err
	}
	return h.majestic.NewLostBacklinks(ctx, target, q.Get("dataSource"), mode, count, opts)
}

func (h *SEOHandler) hostedDomains(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	domain, err := required(q, "domain")
	if err != nil {
		return nil, err
	}
	count, err := intParam(q, "count", 100)
	if err != nil {
		return nil, err
	}
	return h.majestic.HostedDomains(ctx, domain, q.Get("dataSource"), count, opts)
}

func (h *SEOHandler) subscriptionInfo(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	return h.majestic.SubscriptionInfo(ctx, q.Get("dataSource"), opts)
}

// DataForSEO

func (h *SEOHandler) serpData(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	keyword, err := required(q, "keyword")
	if err != nil {
		return nil, err
	}
	loc, err := locale(q)
	if err != nil {
		return nil, err
	}
	return h.dataforseo.SERPData(ctx, keyword, loc, opts)
}

func (h *SEOHandler) keywordMetrics(ctx context.Context, q url.Values, opts provider.Options) (dataforseo.KeywordMetrics, error) {
	keyword, err := required(q, "keyword")
	if err != nil {
		return dataforseo.KeywordMetrics{}, err
	}
	loc, err := locale(q)
	if err != nil {
		return dataforseo.KeywordMetrics{}, err
	}
	return h.dataforseo.KeywordMetrics(ctx, keyword, loc, opts)
}

func (h *SEOHandler) trends(ctx context.Context, q url.Values, opts provider.Options) ([]dataforseo.TrendPoint, error) {
	keyword, err := required(q, "keyword")
	if err != nil {
		return nil, err
	}
	from, err := required(q, "dateFrom")
	if err != nil {
		return nil, err
	}
	to, err := required(q, "dateTo")
	if err != nil {
		return nil, err
	}
	return h.dataforseo.Trends(ctx, keyword, from, to, opts)
}

func (h *SEOHandler) onPageData(ctx context.Context, q url.Values, opts provider.Options) (dataforseo.OnPageSummary, error) {
	target, err := required(q, "url")
	if err != nil {
		return dataforseo.OnPageSummary{}, err
	}
	return h.dataforseo.OnPageData(ctx, target, opts)
}

func (h *SEOHandler) domainKeywordPositions(ctx context.Context, q url.Values, opts provider.Options) ([]dataforseo.KeywordPosition, error) {
	domain, err := required(q, "domain")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(q, "limit", dataforseo.DefaultPositionsLimit)
	if err != nil {
		return nil, err
	}
	return h.dataforseo.DomainKeywordPositions(ctx, domain, limit, opts)
}

func (h *SEOHandler) keywordOverview(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	keywords, err := requiredList(q, "keyword")
	if err != nil {
		return nil, err
	}
	loc, err := locale(q)
	if err != nil {
		return nil, err
	}
	return h.dataforseo.KeywordOverview(ctx, keywords, loc, opts)
}

type relatedKeywordsRequest struct {
	Keyword string `json:"keyword"`
	dataforseo.Locale
	Filters []any `json:"filters"`
}

func (h *SEOHandler) relatedKeywords(ctx context.Context, body relatedKeywordsRequest, opts provider.Options) (json.RawMessage, error) {
	if body.Keyword == "" {
		return nil, badRequest{"keyword is required"}
	}
	return h.dataforseo.RelatedKeywords(ctx, body.Keyword, body.Locale, body.Filters, opts)
}

func (h *SEOHandler) domainTechnologies(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	target, err := required(q, "target")
	if err != nil {
		return nil, err
	}
	return h.dataforseo.DomainTechnologies(ctx, target, opts)
}

func (h *SEOHandler) keywordsForSite(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	target, err := required(q, "target")
	if err != nil {
		return nil, err
	}
	loc, err := locale(q)
	if err != nil {
		return nil, err
	}
	return h.dataforseo.KeywordsForSite(ctx, target, loc, opts)
}

type serpTaskRequest struct {
	Keywords []string `json:"keywords"`
	dataforseo.Locale
}

func (h *SEOHandler) postSERPTask(ctx context.Context, body serpTaskRequest, opts provider.Options) ([]string, error) {
	if len(body.Keywords) == 0 {
		return nil, badRequest{"at least one keyword is required"}
	}
	return h.dataforseo.PostSERPTask(ctx, body.Keywords, body.Locale, opts)
}

func (h *SEOHandler) serpTasksReady(ctx context.Context, _ url.Values, opts provider.Options) ([]string, error) {
	return h.dataforseo.SERPTasksReady(ctx, opts)
}

func (h *SEOHandler) serpResults(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	taskID, err := required(q, "taskId")
	if err != nil {
		return nil, err
	}
	return h.dataforseo.SERPResults(ctx, taskID, opts)
}

func (h *SEOHandler) googleTrends(ctx context.Context, q url.Values, opts provider.Options) (json.RawMessage, error) {
	keywords, err := requiredList(q, "keyword")
	if err != nil {
		return nil, err
	}
	loc, err := locale(q)
	if err != nil {
		return nil, err
	}
	return h.dataforseo.GoogleTrends(ctx, keywords, loc, q.Get("dateFrom"), q.Get("dateTo"), opts)
}

// SEMrush

func (h *SEOHandler) domainOverview(ctx context.Context, q url.Values, opts provider.Options) ([]semrush.Row, error) {
	domain, err := required(q, "domain")
	if err != nil {
		return nil, err
	}
	return h.semrush.DomainOverview(ctx, domain, q.Get("database"), opts)
}

func (h *SEOHandler) domainOrganic(ctx context.Context, q url.Values, opts provider.Options) ([]semrush.Row, error) {
	domain, err := required(q, "domain")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(q, "limit", semrush.DefaultLimit)
	if err != nil {
		return nil, err
	}
	return h.semrush.DomainOrganic(ctx, domain, q.Get("database"), limit, opts)
}

func (h *SEOHandler) domainOrganicGross(ctx context.Context, q url.Values, opts provider.Options) ([]semrush.Row, error) {
	domain, err := required(q, "domain")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(q, "limit", semrush.DefaultLimit)
	if err != nil {
		return nil, err
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		return nil, err
	}
	return h.semrush.DomainOrganicGross(ctx, domain, q.Get("database"), limit, offset, q.Get("search"), opts)
}

func (h *SEOHandler) domainOrganicSearch(ctx context.Context, q url.Values, opts provider.Options) ([]semrush.Row, error) {
	domain, err := required(q, "domain")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(q, "limit", semrush.DefaultLimit)
	if err != nil {
		return nil, err
	}
	return h.semrush.DomainOrganicSearch(ctx, domain, q.Get("database"), limit, opts)
}

func (h *SEOHandler) keywordAnalytics(ctx context.Context, q url.Values, opts provider.Options) (semrush.Row, error) {
	keyword, err := required(q, "keyword")
	if err != nil {
		return nil, err
	}
	return h.semrush.KeywordAnalytics(ctx, keyword, q.Get("database"), opts)
}

func (h *SEOHandler) keywordSuggestions(ctx context.Context, q url.Values, opts provider.Options) ([]semrush.Row, error) {
	keyword, err := required(q, "keyword")
	if err != nil {
		return nil, err
	}
	return h.semrush.KeywordSuggestions(ctx, keyword, q.Get("database"), opts)
}

func (h *SEOHandler) domainCompetitors(ctx context.Context, q url.Values, opts provider.Options) ([]semrush.Row, error) {
	domain, err := required(q, "domain")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(q, "limit", semrush.DefaultLimit)
	if err != nil {
		return nil, err
	}
	return h.semrush.DomainCompetitors(ctx, domain, q.Get("database"), limit, opts)
}

func (h *SEOHandler) domainRank(ctx context.Context, q url.Values, opts provider.Options) (semrush.Row, error) {
	domain, err := required(q, "domain")
	if err != nil {
		return nil, err
	}
	return h.semrush.DomainRank(ctx, domain, q.Get("database"), opts)
}

func (h *SEOHandler) subdomainOrganicUnique(ctx context.Context, q url.Values, opts provider.Options) ([]semrush.Row, error) {
	subdomain, err := required(q, "subdomain")
	if err != nil {
		return nil, err
	}
	limit, err := intParam(q, "limit", semrush.DefaultLimit)
	if err != nil {
		return nil, err
	}
	return h.semrush.SubdomainOrganicUnique(ctx, subdomain, q.Get("database"), limit, opts)
}
