package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	testutil "github.com/aristath/coinfolio/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	failSet bool
	sets    int
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: map[string][]byte{}}
}

func (m *memoryKV) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("disk full")
	}
	m.sets++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func newSQLiteRepo(t *testing.T) *Repository {
	t.Helper()
	db := testutil.NewTestDB(t, "ledger")
	return NewRepository(NewSQLiteKV(db.Conn()), zerolog.Nop())
}

var btcInfo = domain.CoinInfo{Symbol: "btc", Name: "Bitcoin", Image: "https://img/btc.png"}

func TestLoad_EmptyOnFirstRun(t *testing.T) {
	repo := newSQLiteRepo(t)

	p, err := repo.Load()
	require.NoError(t, err)
	assert.Empty(t, p.Positions)
}

func TestAddTransaction_CreatesPositionAndPersists(t *testing.T) {
	repo := newSQLiteRepo(t)

	tx, err := repo.AddTransaction("bitcoin", btcInfo, testutil.Tx(domain.TransactionBuy, "1.0", "10000", testutil.FixtureTime))
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)

	_, err = repo.AddTransaction("bitcoin", domain.CoinInfo{}, testutil.Tx(domain.TransactionSell, "0.4", "12000", testutil.FixtureTime.Add(time.Hour)))
	require.NoError(t, err)

	p, err := repo.Load()
	require.NoError(t, err)
	require.Len(t, p.Positions, 1)
	pos := p.Positions[0]
	assert.Equal(t, "BTC", pos.Symbol)
	assert.Equal(t, "Bitcoin", pos.Name, "metadata survives an add without info")
	require.Len(t, pos.Transactions, 2)
	assert.Equal(t, tx.ID, pos.Transactions[0].ID)
	assert.Equal(t, "0.4", pos.Transactions[1].Amount.String())
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestAddTransaction_RejectsInvalidInput(t *testing.T) {
	repo := newSQLiteRepo(t)

	cases := []domain.TransactionInput{
		testutil.Tx("hold", "1", "1", testutil.FixtureTime),
		testutil.Tx(domain.TransactionBuy, "0", "1", testutil.FixtureTime),
		testutil.Tx(domain.TransactionBuy, "-1", "1", testutil.FixtureTime),
		testutil.Tx(domain.TransactionBuy, "1", "-0.01", testutil.FixtureTime),
		testutil.Tx(domain.TransactionBuy, "1", "1", time.Time{}),
	}
	for i, in := range cases {
		_, err := repo.AddTransaction("bitcoin", btcInfo, in)
		assert.ErrorIs(t, err, domain.ErrInvalidLedgerData, "case %d", i)
	}

	_, err := repo.AddTransaction(" ", btcInfo, testutil.Tx(domain.TransactionBuy, "1", "1", testutil.FixtureTime))
	assert.ErrorIs(t, err, domain.ErrInvalidLedgerData)

	p, err := repo.Load()
	require.NoError(t, err)
	assert.Empty(t, p.Positions)
}

func TestAddTransaction_ZeroPriceAllowed(t *testing.T) {
	repo := newSQLiteRepo(t)
	_, err := repo.AddTransaction("airdrop", domain.CoinInfo{Symbol: "air"}, testutil.Tx(domain.TransactionBuy, "100", "0", testutil.FixtureTime))
	assert.NoError(t, err)
}

func TestUpdateTransaction_ReplacesAllFieldsButID(t *testing.T) {
	repo := newSQLiteRepo(t)
	tx, err := repo.AddTransaction("bitcoin", btcInfo, testutil.Tx(domain.TransactionBuy, "1", "10000", testutil.FixtureTime))
	require.NoError(t, err)

	in := testutil.Tx(domain.TransactionSell, "0.5", "11000", testutil.FixtureTime.Add(time.Hour))
	in.Note = "fixed typo"
	updated, err := repo.UpdateTransaction("bitcoin", tx.ID, in)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, updated.ID)

	p, err := repo.Load()
	require.NoError(t, err)
	got := p.Positions[0].Transactions[0]
	assert.Equal(t, tx.ID, got.ID)
	assert.Equal(t, domain.TransactionSell, got.Type)
	assert.Equal(t, "0.5", got.Amount.String())
	assert.Equal(t, "fixed typo", got.Note)
	assert.True(t, got.Timestamp.Equal(testutil.FixtureTime.Add(time.Hour)))
}

func TestUpdateTransaction_NotFound(t *testing.T) {
	repo := newSQLiteRepo(t)
	_, err := repo.AddTransaction("bitcoin", btcInfo, testutil.Tx(domain.TransactionBuy, "1", "1", testutil.FixtureTime))
	require.NoError(t, err)

	in := testutil.Tx(domain.TransactionBuy, "1", "1", testutil.FixtureTime)
	_, err = repo.UpdateTransaction("ethereum", "x", in)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)

	_, err = repo.UpdateTransaction("bitcoin", "missing", in)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestRemoveTransaction_LastRemovesPosition(t *testing.T) {
	repo := newSQLiteRepo(t)
	first, err := repo.AddTransaction("bitcoin", btcInfo, testutil.Tx(domain.TransactionBuy, "1", "1", testutil.FixtureTime))
	require.NoError(t, err)
	second, err := repo.AddTransaction("bitcoin", btcInfo, testutil.Tx(domain.TransactionBuy, "2", "1", testutil.FixtureTime))
	require.NoError(t, err)

	require.NoError(t, repo.RemoveTransaction("bitcoin", first.ID))
	p, err := repo.Load()
	require.NoError(t, err)
	require.Len(t, p.Positions, 1)
	assert.Equal(t, second.ID, p.Positions[0].Transactions[0].ID)

	require.NoError(t, repo.RemoveTransaction("bitcoin", second.ID))
	p, err = repo.Load()
	require.NoError(t, err)
	assert.Empty(t, p.Positions)

	assert.ErrorIs(t, repo.RemoveTransaction("bitcoin", second.ID), domain.ErrPositionNotFound)
}

func TestMutation_FailedWriteLeavesStoreUntouched(t *testing.T) {
	kv := newMemoryKV()
	repo := NewRepository(kv, zerolog.Nop())
	_, err := repo.AddTransaction("bitcoin", btcInfo, testutil.Tx(domain.TransactionBuy, "1", "1", testutil.FixtureTime))
	require.NoError(t, err)
	before := string(kv.data[PortfolioKey])

	kv.failSet = true
	_, err = repo.AddTransaction("ethereum", domain.CoinInfo{Symbol: "eth"}, testutil.Tx(domain.TransactionBuy, "1", "1", testutil.FixtureTime))
	require.Error(t, err)

	assert.Equal(t, before, string(kv.data[PortfolioKey]))
	kv.failSet = false
	p, err := repo.Load()
	require.NoError(t, err)
	assert.Len(t, p.Positions, 1)
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	kv := newMemoryKV()
	repo := NewRepository(kv, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			coin := fmt.Sprintf("coin-%d", i%4)
			_, err := repo.AddTransaction(coin, domain.CoinInfo{Symbol: coin}, testutil.Tx(domain.TransactionBuy, "1", "1", testutil.FixtureTime))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := repo.Load()
	require.NoError(t, err)
	require.Len(t, p.Positions, 4)
	total := 0
	for _, pos := range p.Positions {
		total += len(pos.Transactions)
	}
	assert.Equal(t, 20, total)
}

func TestReplace(t *testing.T) {
	repo := newSQLiteRepo(t)
	_, err := repo.AddTransaction("dogecoin", domain.CoinInfo{Symbol: "doge"}, testutil.Tx(domain.TransactionBuy, "1000", "0.1", testutil.FixtureTime))
	require.NoError(t, err)

	require.NoError(t, repo.Replace(testutil.NewPortfolioFixture()))
	p, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"bitcoin", "ethereum"}, p.CoinIDs())

	bad := testutil.NewPortfolioFixture()
	bad.Positions[1].CoinID = "bitcoin"
	assert.ErrorIs(t, repo.Replace(bad), domain.ErrInvalidLedgerData)

	p, err = repo.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"bitcoin", "ethereum"}, p.CoinIDs())
}
