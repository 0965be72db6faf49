package semrush

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulserank/apicache/internal/cache"
	"github.com/pulserank/apicache/internal/database/dbtest"
	"github.com/pulserank/apicache/internal/models"
	"github.com/pulserank/apicache/internal/provider"
	"github.com/pulserank/apicache/internal/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	httpClient := provider.NewHTTPClient(dbtest.Logger(), usage.ServiceSEMrush, 5*time.Second, 0)
	return NewClient(dbtest.Logger(), httpClient, "sem-key").WithBaseURL(srv.URL)
}

func TestParseReport(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Row
	}{
		{
			name: "header only",
			text: "Keyword;Position",
			want: []Row{},
		},
		{
			name: "lines",
			text: "Keyword;Position\nseo tools;3\n\"a;b\";7",
			want: []Row{{"Ph": "seo tools", "Po": "3"}, {"Ph": "a;b", "Po": "7"}},
		},
		{
			name: "short line",
			text: "Keyword;Position\nlonely",
			want: []Row{{"Ph": "lonely"}},
		},
		{
			name: "empty",
			text: "",
			want: []Row{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := parseReport(tt.text, []string{"Ph", "Po"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestDomainOrganicGrossQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "domain_organic", q.Get("type"))
		assert.Equal(t, "sem-key", q.Get("key"))
		assert.Equal(t, "example.com", q.Get("domain"))
		assert.Equal(t, "us", q.Get("database"))
		assert.Equal(t, "25", q.Get("display_limit"))
		assert.Equal(t, "50", q.Get("display_offset"))
		assert.Equal(t, "tr_desc", q.Get("display_sort"))
		assert.Equal(t, "+|Ph|Co|shoes", q.Get("display_filter"))
		fmt.Fprint(w, "Keyword;Position;Traffic;Traffic Cost;Search Volume;CPC;Competition;Number of Results;Url\nred shoes;1;900;10;5000;1.2;0.8;100;https://example.com/red\n")
	})

	rows, err := client.DomainOrganicGross(context.Background(), "example.com", "", 25, 50, "shoes")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "red shoes", rows[0]["Ph"])
	assert.Equal(t, "https://example.com/red", rows[0]["Ur"])
}

func TestDomainOverviewDates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "domain_rank_history", r.URL.Query().Get("type"))
		fmt.Fprint(w, "Organic Traffic;Organic Keywords;Date\n1000;50;20250115\n")
	})

	rows, err := client.DomainOverview(context.Background(), "example.com", "uk")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-01-15", rows[0]["Dt"])
}

func TestNothingFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ERROR 50 :: NOTHING FOUND\n")
	})

	rows, err := client.DomainCompetitors(context.Background(), "unknown.test", "", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	row, err := client.DomainRank(context.Background(), "unknown.test", "")
	require.NoError(t, err)
	assert.Nil(t, row)

	_, err = client.KeywordAnalytics(context.Background(), "zzz", "")
	assert.ErrorIs(t, err, errNoKeywordData)
}

func TestErrorLine(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ERROR 132 :: API UNITS BALANCE IS ZERO")
	})

	_, err := client.KeywordSuggestions(context.Background(), "seo", "")
	var apiErr *provider.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, EndpointKeywordSuggestions, apiErr.Endpoint)
	assert.Contains(t, apiErr.Error(), "BALANCE IS ZERO")
}

func TestMissingKey(t *testing.T) {
	client := NewClient(dbtest.Logger(), http.DefaultClient, "")
	_, err := client.DomainRank(context.Background(), "a.com", "")
	assert.True(t, errors.Is(err, provider.ErrNotConfigured))
}

func TestCachedDomainOrganic(t *testing.T) {
	var calls atomic.Int32
	db := dbtest.New(t)
	logger := dbtest.Logger()
	recorder := usage.NewRecorder(logger, db, nil, false)
	store := cache.NewStore(logger, db, nil, recorder)
	cacher := provider.NewCacher(logger, store, recorder, true)
	client := NewCachedClient(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, "Keyword;Position\nseo;1\n")
	}), cacher)
	ctx := context.Background()

	first, err := client.DomainOrganic(ctx, "example.com", "", 0, provider.Options{UserID: "user-1"})
	require.NoError(t, err)
	second, err := client.DomainOrganic(ctx, "example.com", "us", DefaultLimit, provider.Options{UserID: "user-1"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first, second)

	var rollup models.APIUsageStats
	require.NoError(t, db.Where("endpoint = ?", EndpointDomainOrganic).Take(&rollup).Error)
	assert.Equal(t, usage.ServiceSEMrush, rollup.ServiceName)
	assert.Equal(t, int64(2), rollup.TotalCalls)
	assert.InDelta(t, 100.0, rollup.TotalSemrushAPIUnitsUsed, 1e-9)
}
