package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pulserank/apicache/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultPriority = 5
)

// EndpointPolicy overrides the defaults of one endpoint. Nil fields keep the
// default.
type EndpointPolicy struct {
	TTL      time.Duration `yaml:"ttl"`
	MaxHits  *int          `yaml:"maxHits"`
	IsActive *bool         `yaml:"isActive"`
	Priority *int          `yaml:"priority"`
}

// Policy seeds the CacheConfig rows created on first access. Once a row
// exists it wins over the policy.
type Policy struct {
	DefaultTTL time.Duration             `yaml:"defaultTTL"`
	Endpoints  map[string]EndpointPolicy `yaml:"endpoints"`
}

const (
	hour = time.Hour
	day  = 24 * time.Hour
)

// Volatile data such as live SERPs and backlink churn is kept for hours,
// structural data such as keyword metrics or technology fingerprints for
// weeks.
var builtinTTLs = map[string]time.Duration{
	"majestic.indexItemInfo":     7 * day,
	"majestic.backlinkData":      day,
	"majestic.batchBacklinkData": day,
	"majestic.refDomains":        day,
	"majestic.anchorText":        7 * day,
	"majestic.topics":            7 * day,
	"majestic.topPages":          day,
	"majestic.newLostBacklinks":  6 * hour,
	"majestic.hostedDomains":     day,

	"dataforseo.serpData":               6 * hour,
	"dataforseo.keywordMetrics":         30 * day,
	"dataforseo.trends":                 day,
	"dataforseo.onPageData":             day,
	"dataforseo.domainKeywordPositions": day,
	"dataforseo.keywordOverview":        7 * day,
	"dataforseo.relatedKeywords":        7 * day,
	"dataforseo.domainTechnologies":     30 * day,
	"dataforseo.keywordsForSite":        7 * day,
	"dataforseo.serpResults":            6 * hour,
	"dataforseo.googleTrends":           day,

	"semrush.domainOverview":         day,
	"semrush.domainOrganic":          day,
	"semrush.domainOrganicGross":     day,
	"semrush.domainOrganicSearch":    day,
	"semrush.keywordAnalytics":       30 * day,
	"semrush.keywordSuggestions":     7 * day,
	"semrush.domainCompetitors":      7 * day,
	"semrush.domainRank":             day,
	"semrush.subdomainOrganicUnique": day,
}

// DefaultPolicy returns the built-in TTL table. A non-positive defaultTTL
// means DefaultTTL.
func DefaultPolicy(defaultTTL time.Duration) *Policy {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	p := &Policy{
		DefaultTTL: defaultTTL,
		Endpoints:  make(map[string]EndpointPolicy, len(builtinTTLs)),
	}
	for endpoint, ttl := range builtinTTLs {
		p.Endpoints[endpoint] = EndpointPolicy{TTL: ttl}
	}
	return p
}

// LoadPolicy merges the YAML file at path over the built-in table. An empty
// path or a missing file yields the built-in table.
func LoadPolicy(path string, defaultTTL time.Duration) (*Policy, error) {
	p := DefaultPolicy(defaultTTL)
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache policy %s: %w", path, err)
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse cache policy %s: %w", path, err)
	}

	if file.DefaultTTL > 0 {
		p.DefaultTTL = file.DefaultTTL
	}
	for endpoint, override := range file.Endpoints {
		merged := p.Endpoints[endpoint]
		if override.TTL > 0 {
			merged.TTL = override.TTL
		}
		if override.MaxHits != nil {
			merged.MaxHits = override.MaxHits
		}
		if override.IsActive != nil {
			merged.IsActive = override.IsActive
		}
		if override.Priority != nil {
			merged.Priority = override.Priority
		}
		p.Endpoints[endpoint] = merged
	}
	return p, nil
}

// Config builds the default CacheConfig of endpoint. Unlisted endpoints get
// the blanket default TTL.
func (p *Policy) Config(endpoint string) models.CacheConfig {
	cfg := models.CacheConfig{
		Endpoint: endpoint,
		TTL:      int(p.DefaultTTL / time.Second),
		IsActive: true,
		Priority: DefaultPriority,
	}

	ep, ok := p.Endpoints[endpoint]
	if !ok {
		return cfg
	}
	if ep.TTL > 0 {
		cfg.TTL = int(ep.TTL / time.Second)
	}
	if ep.MaxHits != nil {
		maxHits := *ep.MaxHits
		cfg.MaxHits = &maxHits
	}
	if ep.IsActive != nil {
		cfg.IsActive = *ep.IsActive
	}
	if ep.Priority != nil {
		cfg.Priority = *ep.Priority
	}
	return cfg
}
