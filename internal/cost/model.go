// Package cost holds the static per-endpoint billing tables of the SEO data
// providers and turns a call into a provider-specific credit breakdown.
package cost

// Category is the unit pool an endpoint draws from.
type Category string

const (
	IndexItemUnits Category = "index_item"
	RetrievalUnits Category = "retrieval"
	AnalysisUnits  Category = "analysis"
	BalanceUSD     Category = "balance"
	APIUnits       Category = "api_units"
)

// Rate prices one endpoint as Base + PerItem*itemCount.
type Rate struct {
	Category Category
	Base     float64
	PerItem  float64
}

// Apply evaluates the rate. Item counts below one are treated as one.
func (r Rate) Apply(itemCount int) float64 {
	if itemCount < 1 {
		itemCount = 1
	}
	return r.Base + r.PerItem*float64(itemCount)
}

// Model is one provider's cost table.
type Model struct {
	Provider Provider
	Rates    map[string]Rate
	Default  Rate
}

// Rate returns the endpoint's rate, or the provider default when the endpoint
// is not listed. Accounting must never block a call, so there is no error.
func (m Model) Rate(endpoint string) (Rate, bool) {
	if r, ok := m.Rates[endpoint]; ok {
		return r, true
	}
	return m.Default, false
}

// Estimate returns the credits consumed by calling endpoint for itemCount
// items.
func (m Model) Estimate(endpoint string, itemCount int) Credits {
	r, _ := m.Rate(endpoint)
	amount := r.Apply(itemCount)

	switch m.Provider {
	case Majestic:
		var c MajesticCredits
		switch r.Category {
		case IndexItemUnits:
			c.IndexItemUnits = amount
		case AnalysisUnits:
			c.AnalysisUnits = amount
		default:
			c.RetrievalUnits = amount
		}
		return c
	case DataForSEO:
		return DataForSEOCredits{BalanceUsed: amount}
	case SEMrush:
		return SEMrushCredits{APIUnitsUsed: amount}
	default:
		return nil
	}
}

var MajesticModel = Model{
	Provider: Majestic,
	Default:  Rate{Category: RetrievalUnits, Base: 1},
	Rates: map[string]Rate{
		"majestic.indexItemInfo":     {Category: IndexItemUnits, PerItem: 1},
		"majestic.backlinkData":      {Category: RetrievalUnits, PerItem: 1},
		"majestic.batchBacklinkData": {Category: RetrievalUnits, PerItem: 100},
		"majestic.refDomains":        {Category: RetrievalUnits, PerItem: 1},
		"majestic.anchorText":        {Category: AnalysisUnits, Base: 1000, PerItem: 1},
		"majestic.topics":            {Category: AnalysisUnits, Base: 1000, PerItem: 1},
		"majestic.topPages":          {Category: RetrievalUnits, PerItem: 1},
		"majestic.newLostBacklinks":  {Category: RetrievalUnits, PerItem: 1},
		"majestic.hostedDomains":     {Category: RetrievalUnits, PerItem: 1},
		"majestic.subscriptionInfo":  {Category: RetrievalUnits},
	},
}

var DataForSEOModel = Model{
	Provider: DataForSEO,
	Default:  Rate{Category: BalanceUSD, Base: 0.01},
	Rates: map[string]Rate{
		"dataforseo.serpData":               {Category: BalanceUSD, Base: 0.002},
		"dataforseo.keywordMetrics":         {Category: BalanceUSD, Base: 0.05},
		"dataforseo.trends":                 {Category: BalanceUSD, Base: 0.009},
		"dataforseo.onPageData":             {Category: BalanceUSD, PerItem: 0.000125},
		"dataforseo.domainKeywordPositions": {Category: BalanceUSD, Base: 0.01, PerItem: 0.0001},
		"dataforseo.keywordOverview":        {Category: BalanceUSD, Base: 0.01, PerItem: 0.0001},
		"dataforseo.relatedKeywords":        {Category: BalanceUSD, Base: 0.01, PerItem: 0.0001},
		"dataforseo.domainTechnologies":     {Category: BalanceUSD, Base: 0.01},
		"dataforseo.keywordsForSite":        {Category: BalanceUSD, Base: 0.05},
		"dataforseo.postSERPTask":           {Category: BalanceUSD, PerItem: 0.0006},
		"dataforseo.serpTasksReady":         {Category: BalanceUSD},
		"dataforseo.serpResults":            {Category: BalanceUSD},
		"dataforseo.googleTrends":           {Category: BalanceUSD, Base: 0.009},
	},
}

// SEMrush bills per returned line; itemCount is the requested display limit.
var SEMrushModel = Model{
	Provider: SEMrush,
	Default:  Rate{Category: APIUnits, Base: 1},
	Rates: map[string]Rate{
		"semrush.domainOverview":         {Category: APIUnits, PerItem: 10},
		"semrush.domainOrganic":          {Category: APIUnits, PerItem: 10},
		"semrush.domainOrganicGross":     {Category: APIUnits, PerItem: 10},
		"semrush.domainOrganicSearch":    {Category: APIUnits, PerItem: 10},
		"semrush.keywordAnalytics":       {Category: APIUnits, PerItem: 10},
		"semrush.keywordSuggestions":     {Category: APIUnits, PerItem: 40},
		"semrush.domainCompetitors":      {Category: APIUnits, PerItem: 40},
		"semrush.domainRank":             {Category: APIUnits, PerItem: 10},
		"semrush.subdomainOrganicUnique": {Category: APIUnits, PerItem: 10},
	},
}

// ModelFor returns the cost table of a provider.
func ModelFor(p Provider) (Model, bool) {
	switch p {
	case Majestic:
		return MajesticModel, true
	case DataForSEO:
		return DataForSEOModel, true
	case SEMrush:
		return SEMrushModel, true
	default:
		return Model{}, false
	}
}

// Estimate prices a call to any provider endpoint. Endpoints of an unknown
// provider have no unit vocabulary and yield nil.
func Estimate(endpoint string, itemCount int) Credits {
	m, ok := ModelFor(ProviderOf(endpoint))
	if !ok {
		return nil
	}
	return m.Estimate(endpoint, itemCount)
}
