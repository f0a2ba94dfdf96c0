package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/coinfolio/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PortfolioKey is the key the portfolio document is stored under
const PortfolioKey = "portfolio"

// Repository is CRUD over the portfolio document. A single mutex
// serializes every read-modify-write, and each mutation persists the whole
// document in one write or not at all.
type Repository struct {
	mu    sync.Mutex
	kv    KV
	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// NewRepository creates a ledger repository over kv
func NewRepository(kv KV, log zerolog.Logger) *Repository {
	return &Repository{
		kv:    kv,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
		log:   log.With().Str("repo", "ledger").Logger(),
	}
}

// Load returns the stored portfolio, or an empty one on first run
func (r *Repository) Load() (*domain.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Save validates and stores the whole portfolio
func (r *Repository) Save(p *domain.Portfolio) error {
	if err := ValidatePortfolio(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persist(p.Clone())
}

// Replace swaps the stored portfolio for p in one write. Used by import.
func (r *Repository) Replace(p *domain.Portfolio) error {
	if err := ValidatePortfolio(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.persist(p.Clone()); err != nil {
		return err
	}
	r.log.Info().Int("positions", len(p.Positions)).Msg("Portfolio replaced")
	return nil
}

// AddTransaction appends a transaction to the coin's position, creating the
// position with info when it does not exist yet
func (r *Repository) AddTransaction(coinID string, info domain.CoinInfo, in domain.TransactionInput) (domain.Transaction, error) {
	coinID = strings.TrimSpace(coinID)
	if coinID == "" {
		return domain.Transaction{}, domain.Invalid("coinId", "is required")
	}
	if err := ValidateTransaction(in); err != nil {
		return domain.Transaction{}, err
	}

	var tx domain.Transaction
	err := r.mutate(func(p *domain.Portfolio) error {
		idx := p.Find(coinID)
		if idx < 0 {
			p.Positions = append(p.Positions, domain.CoinPosition{CoinID: coinID})
			idx = len(p.Positions) - 1
		}
		pos := &p.Positions[idx]
		if info.Symbol != "" {
			pos.Symbol = domain.NormalizeSymbol(info.Symbol)
		}
		if info.Name != "" {
			pos.Name = info.Name
		}
		if info.Image != "" {
			pos.Image = info.Image
		}

		tx = domain.Transaction{
			ID:        r.newID(),
			Type:      in.Type,
			Amount:    in.Amount,
			Price:     in.Price,
			Timestamp: in.Timestamp.UTC(),
			Note:      in.Note,
		}
		pos.Transactions = append(pos.Transactions, tx)
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	r.log.Debug().Str("coin", coinID).Str("tx", tx.ID).Str("type", string(tx.Type)).Msg("Transaction added")
	return tx, nil
}

// UpdateTransaction replaces every field of a transaction except its id
func (r *Repository) UpdateTransaction(coinID, txID string, in domain.TransactionInput) (domain.Transaction, error) {
	if err := ValidateTransaction(in); err != nil {
		return domain.Transaction{}, err
	}

	var tx domain.Transaction
	err := r.mutate(func(p *domain.Portfolio) error {
		pos, i, err := locate(p, coinID, txID)
		if err != nil {
			return err
		}
		tx = domain.Transaction{
			ID:        txID,
			Type:      in.Type,
			Amount:    in.Amount,
			Price:     in.Price,
			Timestamp: in.Timestamp.UTC(),
			Note:      in.Note,
		}
		pos.Transactions[i] = tx
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}

// RemoveTransaction deletes a transaction. Removing the last transaction of
// a coin removes its position.
func (r *Repository) RemoveTransaction(coinID, txID string) error {
	return r.mutate(func(p *domain.Portfolio) error {
		pos, i, err := locate(p, coinID, txID)
		if err != nil {
			return err
		}
		pos.Transactions = append(pos.Transactions[:i], pos.Transactions[i+1:]...)
		if len(pos.Transactions) == 0 {
			idx := p.Find(coinID)
			p.Positions = append(p.Positions[:idx], p.Positions[idx+1:]...)
			r.log.Debug().Str("coin", coinID).Msg("Last transaction removed, dropping position")
		}
		return nil
	})
}

func locate(p *domain.Portfolio, coinID, txID string) (*domain.CoinPosition, int, error) {
	idx := p.Find(coinID)
	if idx < 0 {
		return nil, 0, fmt.Errorf("coin %s: %w", coinID, domain.ErrPositionNotFound)
	}
	pos := &p.Positions[idx]
	for i := range pos.Transactions {
		if pos.Transactions[i].ID == txID {
			return pos, i, nil
		}
	}
	return nil, 0, fmt.Errorf("transaction %s of %s: %w", txID, coinID, domain.ErrTransactionNotFound)
}

// mutate applies fn to a copy of the stored portfolio and persists it when fn succeeds
func (r *Repository) mutate(fn func(p *domain.Portfolio) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.load()
	if err != nil {
		return err
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	return r.persist(next)
}

func (r *Repository) load() (*domain.Portfolio, error) {
	data, ok, err := r.kv.Get(PortfolioKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}
	if !ok {
		return domain.NewPortfolio(), nil
	}

	p, err := ParsePortfolioDocument(data)
	if err != nil {
		return nil, fmt.Errorf("stored portfolio is unreadable: %w", err)
	}
	return p, nil
}

func (r *Repository) persist(p *domain.Portfolio) error {
	p.UpdatedAt = r.now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode portfolio: %w", err)
	}
	if err := r.kv.Set(PortfolioKey, data); err != nil {
		return fmt.Errorf("failed to save portfolio: %w", err)
	}
	return nil
}
