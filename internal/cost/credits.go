package cost

import "strings"

// Provider identifies a billed third-party SEO data provider.
type Provider string

const (
	Majestic   Provider = "majestic"
	DataForSEO Provider = "dataforseo"
	SEMrush    Provider = "semrush"
	Unknown    Provider = "unknown"
)

// ProviderOf maps a logical endpoint such as "semrush.domainRank" to its
// provider using the "<provider>." naming convention.
func ProviderOf(endpoint string) Provider {
	prefix, _, found := strings.Cut(endpoint, ".")
	if !found {
		return Unknown
	}
	switch Provider(prefix) {
	case Majestic, DataForSEO, SEMrush:
		return Provider(prefix)
	default:
		return Unknown
	}
}

// Credits is the billed amount of one provider call. Each provider has its
// own unit vocabulary, so the concrete types are never mixed; Total only
// exists for coarse dashboards.
type Credits interface {
	Provider() Provider
	Total() float64
	isCredits()
}

// MajesticCredits counts the three Majestic resource unit pools.
type MajesticCredits struct {
	IndexItemUnits float64 `json:"indexItemResUnits"`
	RetrievalUnits float64 `json:"retrievalResUnits"`
	AnalysisUnits  float64 `json:"analysisResUnits"`
}

func (MajesticCredits) Provider() Provider { return Majestic }
func (c MajesticCredits) Total() float64 {
	return c.IndexItemUnits + c.RetrievalUnits + c.AnalysisUnits
}
func (MajesticCredits) isCredits() {}

// Add returns the element-wise sum.
func (c MajesticCredits) Add(o MajesticCredits) MajesticCredits {
	return MajesticCredits{
		IndexItemUnits: c.IndexItemUnits + o.IndexItemUnits,
		RetrievalUnits: c.RetrievalUnits + o.RetrievalUnits,
		AnalysisUnits:  c.AnalysisUnits + o.AnalysisUnits,
	}
}

// DataForSEOCredits is the account balance, in USD, consumed by a call.
type DataForSEOCredits struct {
	BalanceUsed float64 `json:"balanceUsed"`
}

func (DataForSEOCredits) Provider() Provider { return DataForSEO }
func (c DataForSEOCredits) Total() float64   { return c.BalanceUsed }
func (DataForSEOCredits) isCredits()         {}

// SEMrushCredits is the number of API units consumed by a call.
type SEMrushCredits struct {
	APIUnitsUsed float64 `json:"apiUnitsUsed"`
}

func (SEMrushCredits) Provider() Provider { return SEMrush }
func (c SEMrushCredits) Total() float64   { return c.APIUnitsUsed }
func (SEMrushCredits) isCredits()         {}

// Zero returns an empty breakdown in the provider's vocabulary, or nil for
// an unknown provider.
func Zero(p Provider) Credits {
	switch p {
	case Majestic:
		return MajesticCredits{}
	case DataForSEO:
		return DataForSEOCredits{}
	case SEMrush:
		return SEMrushCredits{}
	default:
		return nil
	}
}
