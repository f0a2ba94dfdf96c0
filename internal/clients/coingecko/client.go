// Package coingecko is the primary market data provider: quote lists, single
// and bulk quotes, historical series and text search.
package coingecko

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/coinfolio/internal/clients/httputil"
	"github.com/aristath/coinfolio/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// ProviderName identifies CoinGecko in rate limits, errors and quote sources
	ProviderName = "coingecko"

	vsCurrency   = "usd"
	maxPerPage   = 250
	apiKeyHeader = "x-cg-demo-api-key"
)

// Client for the CoinGecko v3 API
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new CoinGecko client. timeout bounds every call.
func NewClient(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		client:  &http.Client{},
		log:     log.With().Str("client", ProviderName).Logger(),
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return ProviderName
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	headers := map[string]string{}
	if c.apiKey != "" {
		headers[apiKeyHeader] = c.apiKey
	}

	c.log.Debug().Str("op", op).Str("path", path).Msg("Calling provider")

	return httputil.GetJSON(ctx, c.client, httputil.Request{
		Provider: ProviderName,
		Op:       op,
		URL:      c.baseURL + path,
		Query:    query,
		Headers:  headers,
		Timeout:  c.timeout,
	})
}

func (c *Client) malformed(op string, err error) error {
	c.log.Warn().Err(err).Str("op", op).Msg("Malformed provider response")
	return domain.NewProviderError(ProviderName, op, domain.KindMalformed, http.StatusOK, err)
}

// FetchTopQuotes returns the top coins by market cap
func (c *Client) FetchTopQuotes(ctx context.Context, limit int) ([]domain.Quote, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > maxPerPage {
		limit = maxPerPage
	}

	query := url.Values{
		"vs_currency": {vsCurrency},
		"order":       {"market_cap_desc"},
		"per_page":    {strconv.Itoa(limit)},
		"page":        {"1"},
		"sparkline":   {"false"},
	}
	body, err := c.get(ctx, "top_quotes", "/coins/markets", query)
	if err != nil {
		return nil, err
	}

	quotes, err := decodeMarkets(body)
	if err != nil {
		return nil, c.malformed("top_quotes", err)
	}
	stamp(quotes)
	return quotes, nil
}

// FetchQuote returns the quote for one coin
func (c *Client) FetchQuote(ctx context.Context, coinID string) (domain.Quote, error) {
	query := url.Values{
		"localization":   {"false"},
		"tickers":        {"false"},
		"market_data":    {"true"},
		"community_data": {"false"},
		"developer_data": {"false"},
		"sparkline":      {"false"},
	}
	body, err := c.get(ctx, "quote", "/coins/"+url.PathEscape(coinID), query)
	if err != nil {
		return domain.Quote{}, err
	}

	q, err := decodeCoin(body)
	if err != nil {
		return domain.Quote{}, c.malformed("quote", err)
	}
	q.AsOf = time.Now().UTC()
	return q, nil
}

// FetchQuotesBulk returns quotes for the given ids in one call.
// Ids the provider does not know are simply absent from the result.
func (c *Client) FetchQuotesBulk(ctx context.Context, coinIDs []string) ([]domain.Quote, error) {
	if len(coinIDs) == 0 {
		return []domain.Quote{}, nil
	}

	query := url.Values{
		"vs_currency": {vsCurrency},
		"ids":         {strings.Join(coinIDs, ",")},
		"per_page":    {strconv.Itoa(len(coinIDs))},
		"page":        {"1"},
		"sparkline":   {"false"},
	}
	body, err := c.get(ctx, "bulk_quotes", "/coins/markets", query)
	if err != nil {
		return nil, err
	}

	quotes, err := decodeMarkets(body)
	if err != nil {
		return nil, c.malformed("bulk_quotes", err)
	}
	stamp(quotes)
	return quotes, nil
}

// FetchSeries returns the price history of a coin over the last days.
// An empty history is reported as NotFound so callers can try another source.
func (c *Client) FetchSeries(ctx context.Context, coinID string, days int) (domain.Series, error) {
	query := url.Values{
		"vs_currency": {vsCurrency},
		"days":        {strconv.Itoa(days)},
	}
	body, err := c.get(ctx, "series", "/coins/"+url.PathEscape(coinID)+"/market_chart", query)
	if err != nil {
		return domain.Series{}, err
	}

	points, err := decodeChart(body)
	if err != nil {
		return domain.Series{}, c.malformed("series", err)
	}
	if len(points) == 0 {
		return domain.Series{}, domain.NewProviderError(ProviderName, "series", domain.KindNotFound, http.StatusOK, fmt.Errorf("no price history for %s", coinID))
	}

	return domain.Series{
		CoinID: coinID,
		Days:   days,
		Points: points,
		Source: ProviderName,
	}, nil
}

// Search returns coins matching a free-text query
func (c *Client) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	body, err := c.get(ctx, "search", "/search", url.Values{"query": {query}})
	if err != nil {
		return nil, err
	}

	results, err := decodeSearch(body)
	if err != nil {
		return nil, c.malformed("search", err)
	}
	return results, nil
}

func decodeChart(body []byte) ([]domain.PricePoint, error) {
	var chart marketChart
	if err := jsonUnmarshal(body, &chart); err != nil {
		return nil, err
	}

	points := make([]domain.PricePoint, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		if len(p) < 2 {
			continue
		}
		points = append(points, domain.PricePoint{
			Time:  time.UnixMilli(int64(p[0])).UTC(),
			Price: float64(p[1]),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return points, nil
}

func stamp(quotes []domain.Quote) {
	now := time.Now().UTC()
	for i := range quotes {
		quotes[i].AsOf = now
	}
}
