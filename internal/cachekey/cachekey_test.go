package cachekey

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIsOrderIndependent(t *testing.T) {
	a := Params{"url": "example.com", "dataSource": "fresh", "count": 100}
	b := Params{"count": 100, "dataSource": "fresh", "url": "example.com"}

	assert.Equal(t, MustBuild("majestic.backlinkData", a), MustBuild("majestic.backlinkData", b))
}

func TestBuildCanonicalizesNestedObjects(t *testing.T) {
	a := Params{
		"filters": map[string]any{"lang": "en", "geo": map[string]any{"country": "us", "city": "nyc"}},
		"items":   []any{map[string]any{"b": 2, "a": 1}},
	}
	b := Params{
		"items":   []any{map[string]any{"a": 1, "b": 2}},
		"filters": map[string]any{"geo": map[string]any{"city": "nyc", "country": "us"}, "lang": "en"},
	}

	assert.Equal(t, MustBuild("dataforseo.serpData", a), MustBuild("dataforseo.serpData", b))
}

func TestBuildKeepsArrayOrderSignificant(t *testing.T) {
	a := Params{"urls": []string{"a.com", "b.com"}}
	b := Params{"urls": []string{"b.com", "a.com"}}

	assert.NotEqual(t, MustBuild("majestic.indexItemInfo", a), MustBuild("majestic.indexItemInfo", b))
}

func TestBuildDistinguishesEndpointsAndValues(t *testing.T) {
	params := Params{"url": "example.com", "dataSource": "fresh"}

	tests := []struct {
		name     string
		endpoint string
		params   Params
	}{
		{"different value", "majestic.backlinkData", Params{"url": "example.com", "dataSource": "historic"}},
		{"different endpoint", "majestic.refDomains", params},
		{"extra key", "majestic.backlinkData", Params{"url": "example.com", "dataSource": "fresh", "from": 0}},
		{"typed number", "majestic.backlinkData", Params{"url": "example.com", "dataSource": 1}},
	}

	base := MustBuild("majestic.backlinkData", params)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, MustBuild(tt.endpoint, tt.params))
		})
	}
}

func TestBuildCollisionResistance(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seen := make(map[string]string, 5000)

	for i := 0; i < 5000; i++ {
		params := Params{
			"domain":   fmt.Sprintf("site-%d.example", rng.Intn(1_000_000)),
			"database": []string{"us", "uk", "de", "fr"}[rng.Intn(4)],
			"limit":    rng.Intn(500),
			"seq":      i,
		}
		canonical, err := Canonical(params)
		require.NoError(t, err)

		key := MustBuild("semrush.domainOrganic", params)
		if prev, ok := seen[key]; ok {
			t.Fatalf("collision between %s and %s", prev, canonical)
		}
		seen[key] = string(canonical)
	}
}

func TestBuildKeyShape(t *testing.T) {
	key := MustBuild("semrush.domainOverview", Params{"domain": "example.com"})

	assert.True(t, strings.HasPrefix(key, "semrush.domainOverview:"))
	assert.Len(t, strings.TrimPrefix(key, "semrush.domainOverview:"), 64)
	assert.Equal(t, "semrush.domainOverview", Endpoint(key))
}

func TestBuildNilParams(t *testing.T) {
	assert.Equal(t, MustBuild("dataforseo.serpTasksReady", nil), MustBuild("dataforseo.serpTasksReady", Params{}))
}

func TestBuildRejectsUnencodableParams(t *testing.T) {
	_, err := Build("majestic.topics", Params{"fn": func() {}})
	assert.Error(t, err)
}

func TestCanonicalPreservesLargeIntegers(t *testing.T) {
	out, err := Canonical(Params{"id": int64(9007199254740993)})
	require.NoError(t, err)
	assert.Equal(t, `{"id":9007199254740993}`, string(out))
}
