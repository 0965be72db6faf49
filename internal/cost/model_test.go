package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderOf(t *testing.T) {
	tests := map[string]Provider{
		"majestic.backlinkData":    Majestic,
		"dataforseo.serpData":      DataForSEO,
		"semrush.domainRank":       SEMrush,
		"ahrefs.backlinks":         Unknown,
		"noprefix":                 Unknown,
		"totally.new.endpoint":     Unknown,
		"semrush.brandNewEndpoint": SEMrush,
	}
	for endpoint, want := range tests {
		t.Run(endpoint, func(t *testing.T) {
			assert.Equal(t, want, ProviderOf(endpoint))
		})
	}
}

func TestEstimateKeepsUnitVocabulariesApart(t *testing.T) {
	assert.Equal(t, MajesticCredits{IndexItemUnits: 3}, Estimate("majestic.indexItemInfo", 3))
	assert.Equal(t, MajesticCredits{RetrievalUnits: 100}, Estimate("majestic.backlinkData", 100))
	assert.Equal(t, MajesticCredits{AnalysisUnits: 1010}, Estimate("majestic.anchorText", 10))
	assert.Equal(t, DataForSEOCredits{BalanceUsed: 0.002}, Estimate("dataforseo.serpData", 1))
	assert.Equal(t, SEMrushCredits{APIUnitsUsed: 100}, Estimate("semrush.domainOrganic", 10))
}

func TestEstimateScalesWithItemCount(t *testing.T) {
	one := Estimate("dataforseo.keywordOverview", 1).(DataForSEOCredits)
	many := Estimate("dataforseo.keywordOverview", 50).(DataForSEOCredits)

	assert.InDelta(t, 0.0101, one.BalanceUsed, 1e-9)
	assert.InDelta(t, 0.015, many.BalanceUsed, 1e-9)
}

func TestEstimateDefaultsItemCountToOne(t *testing.T) {
	assert.Equal(t, Estimate("majestic.refDomains", 1), Estimate("majestic.refDomains", 0))
	assert.Equal(t, Estimate("majestic.refDomains", 1), Estimate("majestic.refDomains", -4))
}

func TestEstimateUnknownEndpointFallsBackToProviderDefault(t *testing.T) {
	assert.Equal(t, MajesticCredits{RetrievalUnits: 1}, Estimate("majestic.somethingNew", 25))
	assert.Equal(t, DataForSEOCredits{BalanceUsed: 0.01}, Estimate("dataforseo.somethingNew", 1))
	assert.Equal(t, SEMrushCredits{APIUnitsUsed: 1}, Estimate("semrush.somethingNew", 1))

	_, listed := SEMrushModel.Rate("semrush.somethingNew")
	assert.False(t, listed)
}

func TestEstimateUnknownProvider(t *testing.T) {
	assert.Nil(t, Estimate("totally.new.endpoint", 1))
	assert.Nil(t, Zero(Unknown))
}

func TestFreeEndpoints(t *testing.T) {
	assert.Zero(t, Estimate("dataforseo.serpTasksReady", 1).Total())
	assert.Zero(t, Estimate("majestic.subscriptionInfo", 1).Total())
}

func TestCreditsTotalAndAdd(t *testing.T) {
	c := MajesticCredits{IndexItemUnits: 1, RetrievalUnits: 2, AnalysisUnits: 3}
	assert.Equal(t, 6.0, c.Total())
	assert.Equal(t, MajesticCredits{IndexItemUnits: 2, RetrievalUnits: 4, AnalysisUnits: 6}, c.Add(c))
}

func TestPricingUSD(t *testing.T) {
	p := DefaultPricing

	assert.InDelta(t, 0.06, p.USD(MajesticCredits{IndexItemUnits: 1, RetrievalUnits: 2, AnalysisUnits: 3}), 1e-9)
	assert.InDelta(t, 0.25, p.USD(DataForSEOCredits{BalanceUsed: 0.25}), 1e-9)
	assert.InDelta(t, 1.0, p.USD(SEMrushCredits{APIUnitsUsed: 100}), 1e-9)
	assert.Zero(t, p.USD(nil))
}
