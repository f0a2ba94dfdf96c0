// Package httputil performs JSON GET requests against market data providers and
// classifies failures into domain provider errors.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
)

// maxBodySize caps how much of a response body is read
const maxBodySize = 16 << 20

// Request describes one provider call
type Request struct {
	Provider string
	Op       string
	URL      string
	Query    url.Values
	Headers  map[string]string
	Timeout  time.Duration // hard timeout for this call, 0 uses the client's
}

// GetJSON performs the request and returns the raw JSON body.
// Every failure is a *domain.ProviderError except cancellation of ctx itself.
func GetJSON(ctx context.Context, client *http.Client, r Request) (json.RawMessage, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	target := r.URL
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, domain.NewProviderError(r.Provider, r.Op, domain.KindRejected, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", r.Provider, r.Op, context.Canceled)
		}
		return nil, domain.NewProviderError(r.Provider, r.Op, domain.KindTransient, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, domain.NewProviderError(r.Provider, r.Op, domain.KindTransient, resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		pe := domain.NewProviderError(r.Provider, r.Op, domain.KindForStatus(resp.StatusCode), resp.StatusCode, nil)
		if resp.StatusCode == http.StatusTooManyRequests {
			pe.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return nil, pe
	}

	if !json.Valid(body) {
		return nil, domain.NewProviderError(r.Provider, r.Op, domain.KindMalformed, resp.StatusCode, errors.New("response is not valid JSON"))
	}

	return body, nil
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as an HTTP date
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// Float is a JSON number that also accepts numeric strings and null
type Float float64

// UnmarshalJSON implements json.Unmarshaler
func (f *Float) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q", s)
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}
