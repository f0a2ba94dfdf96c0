package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidateTransaction checks the user-editable fields of a transaction
func ValidateTransaction(in domain.TransactionInput) error {
	return validateTransaction("transaction", in)
}

func validateTransaction(path string, in domain.TransactionInput) error {
	if !in.Type.Valid() {
		return domain.Invalid(path+".type", "must be %q or %q, got %q", domain.TransactionBuy, domain.TransactionSell, in.Type)
	}
	if !in.Amount.IsPositive() {
		return domain.Invalid(path+".amount", "must be greater than zero")
	}
	if in.Price.IsNegative() {
		return domain.Invalid(path+".price", "must not be negative")
	}
	if in.Timestamp.IsZero() {
		return domain.Invalid(path+".timestamp", "is required")
	}
	return nil
}

// ValidatePortfolio checks every position and transaction of a portfolio
func ValidatePortfolio(p *domain.Portfolio) error {
	coins := make(map[string]bool, len(p.Positions))
	for i, pos := range p.Positions {
		path := fmt.Sprintf("positions[%d]", i)
		if strings.TrimSpace(pos.CoinID) == "" {
			return domain.Invalid(path+".coinId", "is required")
		}
		if coins[pos.CoinID] {
			return domain.Invalid(path+".coinId", "duplicate coin %q", pos.CoinID)
		}
		coins[pos.CoinID] = true

		ids := make(map[string]bool, len(pos.Transactions))
		for j, tx := range pos.Transactions {
			txPath := fmt.Sprintf("%s.transactions[%d]", path, j)
			if tx.ID == "" {
				return domain.Invalid(txPath+".id", "is required")
			}
			if ids[tx.ID] {
				return domain.Invalid(txPath+".id", "duplicate transaction %q", tx.ID)
			}
			ids[tx.ID] = true
			if err := validateTransaction(txPath, inputOf(tx)); err != nil {
				return err
			}
		}
	}
	return nil
}

func inputOf(tx domain.Transaction) domain.TransactionInput {
	return domain.TransactionInput{
		Type:      tx.Type,
		Amount:    tx.Amount,
		Price:     tx.Price,
		Timestamp: tx.Timestamp,
		Note:      tx.Note,
	}
}

// rawTransaction keeps required fields as pointers so absence is detectable
type rawTransaction struct {
	ID        *string          `json:"id"`
	Type      *string          `json:"type"`
	Amount    *decimal.Decimal `json:"amount"`
	Price     *decimal.Decimal `json:"price"`
	Timestamp json.RawMessage  `json:"timestamp"`
	Note      string           `json:"note"`
}

type rawPosition struct {
	CoinID       *string           `json:"coinId"`
	ID           *string           `json:"id"`
	Symbol       string            `json:"symbol"`
	Name         string            `json:"name"`
	Image        string            `json:"image"`
	Transactions *[]rawTransaction `json:"transactions"`
}

type rawPortfolio struct {
	Positions *[]json.RawMessage `json:"positions"`
	UpdatedAt *time.Time         `json:"updatedAt"`
}

// ParsePortfolioDocument decodes and validates a portfolio document. It
// accepts either {"positions": [...]} or a bare array of positions.
// Transactions without an id get a fresh one; positions without transactions
// are dropped. Any structural problem yields domain.ErrInvalidLedgerData.
func ParsePortfolioDocument(data []byte) (*domain.Portfolio, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, domain.Invalid("", "document is empty")
	}

	var items []json.RawMessage
	p := domain.NewPortfolio()
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, domain.Invalid("", "malformed JSON: %v", err)
		}
	case '{':
		var raw rawPortfolio
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, domain.Invalid("", "malformed JSON: %v", err)
		}
		if raw.Positions == nil {
			return nil, domain.Invalid("positions", "is required")
		}
		items = *raw.Positions
		if raw.UpdatedAt != nil {
			p.UpdatedAt = raw.UpdatedAt.UTC()
		}
	default:
		return nil, domain.Invalid("", "document must be an object or an array")
	}

	for i, item := range items {
		path := fmt.Sprintf("positions[%d]", i)
		pos, err := parsePosition(path, item)
		if err != nil {
			return nil, err
		}
		if len(pos.Transactions) == 0 {
			continue
		}
		p.Positions = append(p.Positions, pos)
	}

	if err := ValidatePortfolio(p); err != nil {
		return nil, err
	}
	return p, nil
}

func parsePosition(path string, data json.RawMessage) (domain.CoinPosition, error) {
	var raw rawPosition
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.CoinPosition{}, domain.Invalid(path, "malformed position: %v", err)
	}

	coinID := raw.CoinID
	if coinID == nil {
		coinID = raw.ID
	}
	if coinID == nil || strings.TrimSpace(*coinID) == "" {
		return domain.CoinPosition{}, domain.Invalid(path+".coinId", "is required")
	}
	if raw.Transactions == nil {
		return domain.CoinPosition{}, domain.Invalid(path+".transactions", "must be an array")
	}

	pos := domain.CoinPosition{
		CoinID:       strings.TrimSpace(*coinID),
		Symbol:       domain.NormalizeSymbol(raw.Symbol),
		Name:         raw.Name,
		Image:        raw.Image,
		Transactions: make([]domain.Transaction, 0, len(*raw.Transactions)),
	}
	for j, rt := range *raw.Transactions {
		tx, err := parseTransaction(fmt.Sprintf("%s.transactions[%d]", path, j), rt)
		if err != nil {
			return domain.CoinPosition{}, err
		}
		pos.Transactions = append(pos.Transactions, tx)
	}
	return pos, nil
}

func parseTransaction(path string, rt rawTransaction) (domain.Transaction, error) {
	if rt.Type == nil {
		return domain.Transaction{}, domain.Invalid(path+".type", "is required")
	}
	if rt.Amount == nil {
		return domain.Transaction{}, domain.Invalid(path+".amount", "is required")
	}
	if rt.Price == nil {
		return domain.Transaction{}, domain.Invalid(path+".price", "is required")
	}
	ts, err := parseTimestamp(rt.Timestamp)
	if err != nil {
		return domain.Transaction{}, domain.Invalid(path+".timestamp", "%v", err)
	}

	tx := domain.Transaction{
		Type:      domain.TransactionType(strings.ToLower(strings.TrimSpace(*rt.Type))),
		Amount:    *rt.Amount,
		Price:     *rt.Price,
		Timestamp: ts,
		Note:      rt.Note,
	}
	if rt.ID != nil && strings.TrimSpace(*rt.ID) != "" {
		tx.ID = strings.TrimSpace(*rt.ID)
	} else {
		tx.ID = uuid.New().String()
	}

	if err := validateTransaction(path, inputOf(tx)); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// parseTimestamp accepts an ISO-8601 string or epoch milliseconds
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, fmt.Errorf("is required")
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %s", raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}
