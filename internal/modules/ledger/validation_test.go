package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	testutil "github.com/aristath/coinfolio/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortfolioDocument_RoundTrip(t *testing.T) {
	original := testutil.NewPortfolioFixture()
	data, err := json.Marshal(original)
	require.NoError(t, err)

	parsed, err := ParsePortfolioDocument(data)
	require.NoError(t, err)
	require.Len(t, parsed.Positions, 2)
	for i, pos := range original.Positions {
		got := parsed.Positions[i]
		assert.Equal(t, pos.CoinID, got.CoinID)
		require.Len(t, got.Transactions, len(pos.Transactions))
		for j, tx := range pos.Transactions {
			assert.Equal(t, tx.ID, got.Transactions[j].ID)
			assert.True(t, tx.Amount.Equal(got.Transactions[j].Amount))
			assert.True(t, tx.Price.Equal(got.Transactions[j].Price))
			assert.True(t, tx.Timestamp.Equal(got.Transactions[j].Timestamp))
			assert.Equal(t, tx.Note, got.Transactions[j].Note)
		}
	}
}

func TestParsePortfolioDocument_LenientShapes(t *testing.T) {
	doc := `[
		{"id":"bitcoin","symbol":"btc","transactions":[
			{"type":"BUY","amount":1.5,"price":"42000","timestamp":"2024-01-01T10:00:00Z"},
			{"type":"sell","amount":"0.5","price":43000,"timestamp":1704110400000}
		]},
		{"coinId":"empty","transactions":[]}
	]`

	p, err := ParsePortfolioDocument([]byte(doc))
	require.NoError(t, err)
	require.Len(t, p.Positions, 1, "positions without transactions are dropped")

	pos := p.Positions[0]
	assert.Equal(t, "bitcoin", pos.CoinID)
	assert.Equal(t, "BTC", pos.Symbol)
	require.Len(t, pos.Transactions, 2)
	assert.Equal(t, domain.TransactionBuy, pos.Transactions[0].Type)
	assert.NotEmpty(t, pos.Transactions[0].ID)
	assert.NotEqual(t, pos.Transactions[0].ID, pos.Transactions[1].ID)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), pos.Transactions[1].Timestamp)
}

func TestParsePortfolioDocument_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":             ``,
		"not json":          `{positions:`,
		"scalar":            `42`,
		"no positions":      `{"version":1}`,
		"missing coin id":   `{"positions":[{"transactions":[]}]}`,
		"transactions obj":  `{"positions":[{"coinId":"btc","transactions":{}}]}`,
		"no transactions":   `{"positions":[{"coinId":"btc"}]}`,
		"missing amount":    `{"positions":[{"coinId":"btc","transactions":[{"type":"buy","price":1,"timestamp":"2024-01-01T00:00:00Z"}]}]}`,
		"missing price":     `{"positions":[{"coinId":"btc","transactions":[{"type":"buy","amount":1,"timestamp":"2024-01-01T00:00:00Z"}]}]}`,
		"missing type":      `{"positions":[{"coinId":"btc","transactions":[{"amount":1,"price":1,"timestamp":"2024-01-01T00:00:00Z"}]}]}`,
		"bad type":          `{"positions":[{"coinId":"btc","transactions":[{"type":"swap","amount":1,"price":1,"timestamp":"2024-01-01T00:00:00Z"}]}]}`,
		"zero amount":       `{"positions":[{"coinId":"btc","transactions":[{"type":"buy","amount":0,"price":1,"timestamp":"2024-01-01T00:00:00Z"}]}]}`,
		"bad amount":        `{"positions":[{"coinId":"btc","transactions":[{"type":"buy","amount":"lots","price":1,"timestamp":"2024-01-01T00:00:00Z"}]}]}`,
		"bad timestamp":     `{"positions":[{"coinId":"btc","transactions":[{"type":"buy","amount":1,"price":1,"timestamp":"yesterday"}]}]}`,
		"missing timestamp": `{"positions":[{"coinId":"btc","transactions":[{"type":"buy","amount":1,"price":1}]}]}`,
		"duplicate coin":    `{"positions":[{"coinId":"btc","transactions":[{"type":"buy","amount":1,"price":1,"timestamp":"2024-01-01T00:00:00Z"}]},{"coinId":"btc","transactions":[{"type":"buy","amount":1,"price":1,"timestamp":"2024-01-01T00:00:00Z"}]}]}`,
		"duplicate tx id":   `{"positions":[{"coinId":"btc","transactions":[{"id":"a","type":"buy","amount":1,"price":1,"timestamp":"2024-01-01T00:00:00Z"},{"id":"a","type":"buy","amount":1,"price":1,"timestamp":"2024-01-01T00:00:00Z"}]}]}`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePortfolioDocument([]byte(doc))
			assert.ErrorIs(t, err, domain.ErrInvalidLedgerData)
		})
	}
}

func TestParsePortfolioDocument_ErrorNamesPath(t *testing.T) {
	doc := `{"positions":[{"coinId":"btc","transactions":[
		{"type":"buy","amount":1,"price":1,"timestamp":"2024-01-01T00:00:00Z"},
		{"type":"buy","price":1,"timestamp":"2024-01-01T00:00:00Z"}
	]}]}`

	_, err := ParsePortfolioDocument([]byte(doc))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "positions[0].transactions[1].amount", verr.Path)
}
