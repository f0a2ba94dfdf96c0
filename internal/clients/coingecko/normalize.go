package coingecko

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/coinfolio/internal/clients/httputil"
	"github.com/aristath/coinfolio/internal/domain"
)

// listWrapperKeys are the object fields a list may be wrapped in
var listWrapperKeys = []string{"data", "coins", "items", "results"}

// normalizeListResponse returns the elements of a list response, accepting a
// bare array or an object wrapping the array under a known key. null is empty.
func normalizeListResponse(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []json.RawMessage{}, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return items, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("decode wrapper: %w", err)
		}
		for _, key := range listWrapperKeys {
			inner, ok := obj[key]
			if !ok {
				continue
			}
			inner = bytes.TrimSpace(inner)
			if len(inner) > 0 && (inner[0] == '[' || bytes.Equal(inner, []byte("null"))) {
				return normalizeListResponse(inner)
			}
		}
		return nil, errors.New("object does not wrap a list")
	default:
		return nil, errors.New("response is neither a list nor an object")
	}
}

// image accepts either a URL string or an object of sized URLs
type image struct {
	URL   string
	Large string
	Small string
	Thumb string
}

// UnmarshalJSON implements json.Unmarshaler
func (i *image) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &i.URL)
	}
	var sized struct {
		Large string `json:"large"`
		Small string `json:"small"`
		Thumb string `json:"thumb"`
	}
	if err := json.Unmarshal(b, &sized); err != nil {
		return err
	}
	i.Large, i.Small, i.Thumb = sized.Large, sized.Small, sized.Thumb
	return nil
}

// iconURL returns the first non-empty candidate
func iconURL(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

// marketItem is one entry of /coins/markets
type marketItem struct {
	ID                       string         `json:"id"`
	Symbol                   string         `json:"symbol"`
	Name                     string         `json:"name"`
	Image                    image          `json:"image"`
	Thumb                    string         `json:"thumb"`
	Large                    string         `json:"large"`
	CurrentPrice             httputil.Float `json:"current_price"`
	PriceChangePercentage24h httputil.Float `json:"price_change_percentage_24h"`
	MarketCap                httputil.Float `json:"market_cap"`
	MarketCapRank            httputil.Float `json:"market_cap_rank"`
}

func (m marketItem) toQuote() domain.Quote {
	return domain.Quote{
		CoinID:       m.ID,
		Symbol:       domain.NormalizeSymbol(m.Symbol),
		Name:         strings.TrimSpace(m.Name),
		Image:        iconURL(m.Image.URL, m.Image.Large, m.Image.Small, m.Image.Thumb, m.Large, m.Thumb),
		CurrentPrice: float64(m.CurrentPrice),
		Change24hPct: float64(m.PriceChangePercentage24h),
		MarketCap:    float64(m.MarketCap),
		Rank:         int(m.MarketCapRank),
		Source:       ProviderName,
	}
}

// decodeMarkets turns a /coins/markets response into quotes. Entries without an id are skipped.
func decodeMarkets(raw json.RawMessage) ([]domain.Quote, error) {
	items, err := normalizeListResponse(raw)
	if err != nil {
		return nil, err
	}

	quotes := make([]domain.Quote, 0, len(items))
	for _, item := range items {
		var m marketItem
		if err := json.Unmarshal(item, &m); err != nil {
			continue
		}
		if m.ID == "" {
			continue
		}
		quotes = append(quotes, m.toQuote())
	}
	return quotes, nil
}

// searchItem is one coin of /search
type searchItem struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	Name          string         `json:"name"`
	Thumb         string         `json:"thumb"`
	Large         string         `json:"large"`
	MarketCapRank httputil.Float `json:"market_cap_rank"`
}

func decodeSearch(raw json.RawMessage) ([]domain.SearchResult, error) {
	items, err := normalizeListResponse(raw)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SearchResult, 0, len(items))
	for _, item := range items {
		var s searchItem
		if err := json.Unmarshal(item, &s); err != nil || s.ID == "" {
			continue
		}
		results = append(results, domain.SearchResult{
			CoinID:        s.ID,
			Symbol:        domain.NormalizeSymbol(s.Symbol),
			Name:          strings.TrimSpace(s.Name),
			Thumb:         iconURL(s.Thumb, s.Large),
			MarketCapRank: int(s.MarketCapRank),
		})
	}
	return results, nil
}

// coinDetail is the subset of /coins/{id} the quote needs
type coinDetail struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	Name          string         `json:"name"`
	Image         image          `json:"image"`
	MarketCapRank httputil.Float `json:"market_cap_rank"`
	MarketData    *struct {
		CurrentPrice             map[string]httputil.Float `json:"current_price"`
		MarketCap                map[string]httputil.Float `json:"market_cap"`
		PriceChangePercentage24h httputil.Float            `json:"price_change_percentage_24h"`
	} `json:"market_data"`
}

func decodeCoin(raw json.RawMessage) (domain.Quote, error) {
	var d coinDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		return domain.Quote{}, fmt.Errorf("decode coin: %w", err)
	}
	if d.ID == "" {
		return domain.Quote{}, errors.New("coin has no id")
	}
	if d.MarketData == nil {
		return domain.Quote{}, errors.New("coin has no market data")
	}
	price, ok := d.MarketData.CurrentPrice[vsCurrency]
	if !ok {
		return domain.Quote{}, fmt.Errorf("coin has no %s price", vsCurrency)
	}

	return domain.Quote{
		CoinID:       d.ID,
		Symbol:       domain.NormalizeSymbol(d.Symbol),
		Name:         strings.TrimSpace(d.Name),
		Image:        iconURL(d.Image.URL, d.Image.Large, d.Image.Small, d.Image.Thumb),
		CurrentPrice: float64(price),
		Change24hPct: float64(d.MarketData.PriceChangePercentage24h),
		MarketCap:    float64(d.MarketData.MarketCap[vsCurrency]),
		Rank:         int(d.MarketCapRank),
		Source:       ProviderName,
	}, nil
}

func jsonUnmarshal(b []byte, v interface{}) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// marketChart is /coins/{id}/market_chart
type marketChart struct {
	Prices [][]httputil.Float `json:"prices"`
}
