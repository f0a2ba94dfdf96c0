package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// PortfolioChangedData describes a ledger mutation
type PortfolioChangedData struct {
	CoinID        string `json:"coin_id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Action        string `json:"action"` // added, updated, removed
}

// EventType returns the event type for PortfolioChangedData
func (d *PortfolioChangedData) EventType() EventType {
	return PortfolioChanged
}

// PortfolioImportedData describes a completed import
type PortfolioImportedData struct {
	Positions    int `json:"positions"`
	Transactions int `json:"transactions"`
}

// EventType returns the event type for PortfolioImportedData
func (d *PortfolioImportedData) EventType() EventType {
	return PortfolioImported
}

// PricesRefreshedData summarizes a holdings price refresh
type PricesRefreshedData struct {
	Priced   int      `json:"priced"`
	Unpriced []string `json:"unpriced"`
	Stale    bool     `json:"stale"`
}

// EventType returns the event type for PricesRefreshedData
func (d *PricesRefreshedData) EventType() EventType {
	return PricesRefreshed
}
