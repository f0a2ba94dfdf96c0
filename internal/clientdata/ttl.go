package clientdata

import "time"

// TTL constants for different data types.
// These are added to time.Now() when storing to calculate expires_at.
const (
	TTLQuote      = 5 * time.Minute  // single coin quote
	TTLBulkQuotes = 5 * time.Minute  // per-coin entries written by bulk fetches
	TTLTopQuotes  = 10 * time.Minute // market-cap ranked lists
	TTLSeries     = 30 * time.Minute // historical price series
	TTLSearch     = time.Hour        // text search results

	// TTLStaleShadow is how long the last-known-good copy is kept for fallback
	TTLStaleShadow = 24 * time.Hour
)
