package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/aristath/coinfolio/internal/events"
	"github.com/aristath/coinfolio/internal/marketdata"
	"github.com/aristath/coinfolio/internal/modules/ledger"
	testutil "github.com/aristath/coinfolio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	mu         sync.Mutex
	quotes     map[string]domain.Quote
	series     map[string]domain.Series
	bulkCalls  []bool
	quoteCalls int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		quotes: map[string]domain.Quote{},
		series: map[string]domain.Series{},
	}
}

func (f *fakeMarket) Quote(ctx context.Context, coinID string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	q, ok := f.quotes[coinID]
	if !ok {
		return domain.Quote{}, domain.ErrNoData
	}
	return q, nil
}

func (f *fakeMarket) QuotesBulk(ctx context.Context, coinIDs []string, force bool) (marketdata.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls = append(f.bulkCalls, force)
	res := marketdata.BulkResult{Quotes: map[string]domain.Quote{}}
	for _, id := range coinIDs {
		if q, ok := f.quotes[id]; ok {
			res.Quotes[id] = q
		} else {
			res.Missing = append(res.Missing, id)
		}
	}
	return res, nil
}

func (f *fakeMarket) TopQuotes(ctx context.Context, limit int) ([]domain.Quote, error) {
	return []domain.Quote{f.quotes["bitcoin"]}, nil
}

func (f *fakeMarket) Series(ctx context.Context, coinID, symbol string, days int) (domain.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[coinID]
	if !ok {
		return domain.Series{}, domain.ErrNoData
	}
	return s, nil
}

func (f *fakeMarket) Search(ctx context.Context, query string) ([]domain.SearchResult, error) {
	return []domain.SearchResult{{CoinID: "bitcoin", Symbol: "btc", Name: "Bitcoin"}}, nil
}

func newTestService(t *testing.T) (*Service, *fakeMarket, *ledger.Repository) {
	t.Helper()
	db := testutil.NewTestDB(t, "ledger")
	repo := ledger.NewRepository(ledger.NewSQLiteKV(db.Conn()), zerolog.Nop())
	market := newFakeMarket()
	svc := NewService(repo, market, zerolog.Nop())
	svc.now = func() time.Time { return testutil.FixtureTime.Add(72 * time.Hour) }
	return svc, market, repo
}

func seedFixture(t *testing.T, repo *ledger.Repository) {
	t.Helper()
	require.NoError(t, repo.Replace(testutil.NewPortfolioFixture()))
}

func quote(id string, price float64) domain.Quote {
	return domain.Quote{CoinID: id, CurrentPrice: price, Change24hPct: 1.5, AsOf: testutil.FixtureTime, Source: "coingecko"}
}

func TestGetPortfolio_ValuesPositions(t *testing.T) {
	svc, market, repo := newTestService(t)
	seedFixture(t, repo)
	market.quotes["bitcoin"] = quote("bitcoin", 15000)
	market.quotes["ethereum"] = quote("ethereum", 3000)

	view, err := svc.GetPortfolio(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Positions, 2)

	btc := view.Positions[0]
	assert.Equal(t, "bitcoin", btc.CoinID)
	assert.True(t, btc.Holdings.Equal(decimal.RequireFromString("0.6")))
	assert.True(t, btc.InvestedCapital.Equal(decimal.NewFromInt(6000)))
	assert.True(t, btc.CurrentValue.Equal(decimal.NewFromInt(9000)))
	assert.True(t, btc.ProfitLossPct.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "coingecko", btc.PriceSource)

	// 6000 + 4000 invested, 9000 + 6000 value
	assert.True(t, view.Totals.InvestedCapital.Equal(decimal.NewFromInt(10000)))
	assert.True(t, view.Totals.CurrentValue.Equal(decimal.NewFromInt(15000)))
	assert.True(t, view.Totals.ProfitLossPct.Equal(decimal.NewFromInt(50)))
	assert.True(t, view.Totals.Complete)
	assert.Equal(t, []bool{false}, market.bulkCalls)
}

func TestGetPortfolio_UnpricedPositionRendersWithoutPrice(t *testing.T) {
	svc, market, repo := newTestService(t)
	seedFixture(t, repo)
	stale := quote("bitcoin", 15000)
	stale.Stale = true
	market.quotes["bitcoin"] = stale

	view, err := svc.GetPortfolio(context.Background())
	require.NoError(t, err)
	require.Len(t, view.Positions, 2)

	assert.True(t, view.Stale)
	assert.Equal(t, "bitcoin", view.Positions[0].CoinID)
	eth := view.Positions[1]
	assert.Equal(t, "ethereum", eth.CoinID)
	assert.Nil(t, eth.CurrentPrice)
	assert.Nil(t, eth.Change24hPct)
	assert.False(t, view.Totals.Complete)
	assert.Equal(t, []string{"ethereum"}, view.Totals.Unpriced)
}

func TestGetPortfolio_EmptyDoesNotCallMarket(t *testing.T) {
	svc, market, _ := newTestService(t)

	view, err := svc.GetPortfolio(context.Background())
	require.NoError(t, err)
	assert.Empty(t, view.Positions)
	assert.Empty(t, market.bulkCalls)
}

func TestRefresh_ForcesAndIsIdempotent(t *testing.T) {
	svc, market, repo := newTestService(t)
	seedFixture(t, repo)
	market.quotes["bitcoin"] = quote("bitcoin", 15000)
	market.quotes["ethereum"] = quote("ethereum", 3000)

	first, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	second, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []bool{true, true}, market.bulkCalls)
	assert.Equal(t, first, second)

	p, err := repo.Load()
	require.NoError(t, err)
	assert.Len(t, p.Positions, 2)
}

func TestAddTransaction_LooksUpMissingMetadata(t *testing.T) {
	svc, market, _ := newTestService(t)
	q := quote("solana", 100)
	q.Symbol = "sol"
	q.Name = "Solana"
	q.Image = "https://img/sol.png"
	market.quotes["solana"] = q

	view, err := svc.AddTransaction(context.Background(), "solana", AddTransactionRequest{
		TransactionInput: testutil.Tx(domain.TransactionBuy, "10", "80", testutil.FixtureTime),
	})
	require.NoError(t, err)

	assert.Equal(t, "SOL", view.Symbol)
	assert.Equal(t, "Solana", view.Name)
	assert.Equal(t, "https://img/sol.png", view.Image)
	assert.True(t, view.Holdings.Equal(decimal.NewFromInt(10)))
	assert.True(t, view.ProfitLoss.Equal(decimal.NewFromInt(200)))
}

func TestAddTransaction_MetadataLookupFailureIsIgnored(t *testing.T) {
	svc, _, _ := newTestService(t)

	view, err := svc.AddTransaction(context.Background(), "solana", AddTransactionRequest{
		TransactionInput: testutil.Tx(domain.TransactionBuy, "1", "80", testutil.FixtureTime),
		Symbol:           "sol",
	})
	require.NoError(t, err)
	assert.Equal(t, "SOL", view.Symbol)
	assert.Nil(t, view.CurrentValue)
}

func TestAddTransaction_InvalidInputSkipsLookup(t *testing.T) {
	svc, market, _ := newTestService(t)

	_, err := svc.AddTransaction(context.Background(), "solana", AddTransactionRequest{
		TransactionInput: testutil.Tx(domain.TransactionBuy, "0", "80", testutil.FixtureTime),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidLedgerData)
	assert.Zero(t, market.quoteCalls)
}

func TestUpdateAndRemoveTransaction(t *testing.T) {
	svc, _, repo := newTestService(t)
	seedFixture(t, repo)

	view, err := svc.UpdateTransaction(context.Background(), "bitcoin", "btc-sell-1",
		testutil.Tx(domain.TransactionSell, "0.5", "12000", testutil.FixtureTime.Add(24*time.Hour)))
	require.NoError(t, err)
	assert.True(t, view.Holdings.Equal(decimal.RequireFromString("0.5")))

	require.NoError(t, svc.RemoveTransaction(context.Background(), "ethereum", "eth-buy-1"))
	_, err = svc.GetPosition(context.Background(), "ethereum")
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestExportImport_RoundTrip(t *testing.T) {
	svc, _, repo := newTestService(t)
	seedFixture(t, repo)

	exported, err := svc.ExportPortfolio(context.Background())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(exported, &doc))
	assert.EqualValues(t, ExportVersion, doc["version"])

	before, err := repo.Load()
	require.NoError(t, err)

	_, err = svc.ImportPortfolio(context.Background(), exported)
	require.NoError(t, err)

	after, err := repo.Load()
	require.NoError(t, err)
	require.Len(t, after.Positions, len(before.Positions))
	for i := range before.Positions {
		b, a := before.Positions[i], after.Positions[i]
		assert.Equal(t, b.CoinID, a.CoinID)
		assert.Equal(t, b.Symbol, a.Symbol)
		require.Len(t, a.Transactions, len(b.Transactions))
		for j := range b.Transactions {
			assert.Equal(t, b.Transactions[j].ID, a.Transactions[j].ID)
			assert.True(t, b.Transactions[j].Amount.Equal(a.Transactions[j].Amount))
			assert.True(t, b.Transactions[j].Price.Equal(a.Transactions[j].Price))
			assert.True(t, b.Transactions[j].Timestamp.Equal(a.Transactions[j].Timestamp))
			assert.Equal(t, b.Transactions[j].Note, a.Transactions[j].Note)
		}
	}
}

func TestImport_InvalidDocumentLeavesPortfolioUntouched(t *testing.T) {
	svc, _, repo := newTestService(t)
	seedFixture(t, repo)

	doc := `{"positions":[{"coinId":"solana","symbol":"SOL","name":"Solana","transactions":[
		{"id":"a","type":"buy","price":"10","timestamp":"2024-01-01T00:00:00Z"}]}]}`

	_, err := svc.ImportPortfolio(context.Background(), []byte(doc))
	require.ErrorIs(t, err, domain.ErrInvalidLedgerData)

	p, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"bitcoin", "ethereum"}, p.CoinIDs())
}

func TestGetSeries_UsesPositionSymbolAndSummarizes(t *testing.T) {
	svc, market, repo := newTestService(t)
	seedFixture(t, repo)
	market.series["bitcoin"] = domain.Series{
		CoinID: "bitcoin",
		Days:   3,
		Points: []domain.PricePoint{
			{Time: testutil.FixtureTime, Price: 100},
			{Time: testutil.FixtureTime.Add(24 * time.Hour), Price: 120},
			{Time: testutil.FixtureTime.Add(48 * time.Hour), Price: 90},
		},
	}

	view, err := svc.GetSeries(context.Background(), "bitcoin", "", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Summary.Points)
	assert.Equal(t, 120.0, view.Summary.High)
	assert.InDelta(t, -10.0, view.Summary.ChangePct, 1e-9)
}

func TestGetSeries_NoData(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetSeries(context.Background(), "bitcoin", "btc", 7)
	assert.True(t, errors.Is(err, domain.ErrNoData))
}

func TestGetPortfolioHistory(t *testing.T) {
	svc, market, repo := newTestService(t)
	seedFixture(t, repo)
	day := 24 * time.Hour
	market.series["bitcoin"] = domain.Series{
		CoinID: "bitcoin",
		Points: []domain.PricePoint{
			{Time: testutil.FixtureTime, Price: 10000},
			{Time: testutil.FixtureTime.Add(day), Price: 12000},
			{Time: testutil.FixtureTime.Add(2 * day), Price: 15000},
		},
		Estimated: true,
	}

	hist, err := svc.GetPortfolioHistory(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, hist.Points, 3)
	assert.Equal(t, []string{"ethereum"}, hist.Missing)
	assert.Equal(t, []string{"bitcoin"}, hist.Estimated)

	// 1 BTC at the first point, 0.6 after the sell
	assert.True(t, hist.Points[0].Value.Equal(decimal.NewFromInt(10000)))
	assert.True(t, hist.Points[1].Value.Equal(decimal.NewFromInt(7200)))
	assert.True(t, hist.Points[2].Value.Equal(decimal.NewFromInt(9000)))
	assert.True(t, hist.Points[2].InvestedCapital.Equal(decimal.NewFromInt(6000)))
}

func TestPriceRefreshJob(t *testing.T) {
	svc, market, repo := newTestService(t)
	seedFixture(t, repo)

	job := NewPriceRefreshJob(svc, time.Second, zerolog.Nop())
	assert.Equal(t, "portfolio_price_refresh", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, []bool{true}, market.bulkCalls)
}

func TestMutations_EmitEvents(t *testing.T) {
	svc, _, repo := newTestService(t)
	seedFixture(t, repo)
	bus := events.NewBus(zerolog.Nop())
	svc.SetEventBus(bus)

	var got []events.EventType
	bus.Subscribe(func(e *events.Event) { got = append(got, e.Type) })

	_, err := svc.AddTransaction(context.Background(), "bitcoin", AddTransactionRequest{
		TransactionInput: testutil.Tx(domain.TransactionBuy, "1", "10000", testutil.FixtureTime),
	})
	require.NoError(t, err)
	require.NoError(t, svc.RemoveTransaction(context.Background(), "ethereum", "eth-buy-1"))
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)

	// rejected mutations stay silent
	_, err = svc.ImportPortfolio(context.Background(), []byte(`{"positions":[{"coinId":"x","transactions":[{"type":"buy"}]}]}`))
	require.Error(t, err)

	assert.Equal(t, []events.EventType{events.PortfolioChanged, events.PortfolioChanged, events.PricesRefreshed}, got)
}
