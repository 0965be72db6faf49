package cost

// Pricing converts provider units into an estimated USD figure for reports.
type Pricing struct {
	MajesticUnitUSD   float64
	DataForSEOUSD     float64
	SEMrushAPIUnitUSD float64
}

// DataForSEO already bills in account dollars, hence the 1:1 rate.
var DefaultPricing = Pricing{
	MajesticUnitUSD:   0.01,
	DataForSEOUSD:     1,
	SEMrushAPIUnitUSD: 0.01,
}

func (p Pricing) USD(c Credits) float64 {
	switch v := c.(type) {
	case MajesticCredits:
		return v.Total() * p.MajesticUnitUSD
	case DataForSEOCredits:
		return v.BalanceUsed * p.DataForSEOUSD
	case SEMrushCredits:
		return v.APIUnitsUsed * p.SEMrushAPIUnitUSD
	default:
		return 0
	}
}
