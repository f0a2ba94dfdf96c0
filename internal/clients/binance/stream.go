package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aristath/coinfolio/internal/clients/httputil"
	"github.com/aristath/coinfolio/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout = 30 * time.Second

	baseReconnectDelay = 2 * time.Second
	maxReconnectDelay  = 2 * time.Minute

	// DefaultTickFreshness is how long a streamed price can stand in for a REST call
	DefaultTickFreshness = 30 * time.Second
)

// miniTicker is one element of the !miniTicker@arr stream
type miniTicker struct {
	Event     string         `json:"e"`
	EventTime int64          `json:"E"`
	Symbol    string         `json:"s"`
	Close     httputil.Float `json:"c"`
	Open      httputil.Float `json:"o"`
}

// TickerStream keeps the latest streamed price per coin symbol
type TickerStream struct {
	url       string
	freshness time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu           sync.RWMutex
	conn         *websocket.Conn
	cancelFunc   context.CancelFunc
	connected    bool
	reconnecting bool
	stopped      bool
	stopChan     chan struct{}

	ticksMu sync.RWMutex
	ticks   map[string]domain.PriceTick
}

// NewTickerStream creates a stream client for the given websocket URL
func NewTickerStream(url string, log zerolog.Logger) *TickerStream {
	return &TickerStream{
		url:       url,
		freshness: DefaultTickFreshness,
		now:       time.Now,
		log:       log.With().Str("component", "binance_stream").Logger(),
		stopChan:  make(chan struct{}),
		ticks:     make(map[string]domain.PriceTick),
	}
}

// Start connects and begins reading. A failed first connection is retried in the background.
func (s *TickerStream) Start() error {
	s.log.Info().Str("url", s.url).Msg("Starting ticker stream")

	ctx, err := s.connect()
	if err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go s.reconnectLoop()
		return err
	}

	go s.readLoop(ctx)
	return nil
}

// Stop closes the connection and ends reconnection attempts
func (s *TickerStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopChan)
	s.mu.Unlock()

	s.log.Info().Msg("Stopping ticker stream")
	return s.disconnect()
}

func (s *TickerStream) connect() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ticker stream: %w", err)
	}
	// The array stream sends a frame per second with every symbol in it.
	conn.SetReadLimit(8 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancelFunc = cancel
	s.connected = true

	s.log.Info().Msg("Connected to ticker stream")
	return ctx, nil
}

func (s *TickerStream) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connected = false
	if err != nil && websocket.CloseStatus(err) == -1 {
		return fmt.Errorf("error closing ticker stream: %w", err)
	}
	return nil
}

func (s *TickerStream) readLoop(ctx context.Context) {
	defer func() {
		s.mu.Lock()
		s.connected = false
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			switch {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				s.log.Info().Int("status", int(status)).Msg("Ticker stream closed")
			case ctx.Err() != nil:
				s.log.Debug().Msg("Ticker stream read cancelled")
			default:
				s.log.Error().Err(err).Msg("Ticker stream read error")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		if err := s.handleMessage(message); err != nil {
			s.log.Warn().Err(err).Msg("Failed to handle ticker message")
		}
	}
}

func (s *TickerStream) handleMessage(message []byte) error {
	var tickers []miniTicker
	if err := json.Unmarshal(message, &tickers); err != nil {
		return fmt.Errorf("failed to parse ticker array: %w", err)
	}

	received := s.now().UTC()
	s.ticksMu.Lock()
	defer s.ticksMu.Unlock()
	for _, t := range tickers {
		sym := SymbolFor(t.Symbol)
		if sym == "" || t.Close <= 0 {
			continue
		}
		var change float64
		if t.Open > 0 {
			change = (float64(t.Close) - float64(t.Open)) / float64(t.Open) * 100
		}
		s.ticks[sym] = domain.PriceTick{
			Symbol:       sym,
			Price:        float64(t.Close),
			Change24hPct: change,
			At:           received,
		}
	}
	return nil
}

func (s *TickerStream) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		delay := reconnectBackoff(attempt)
		s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting ticker stream")

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		ctx, err := s.connect()
		if err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Ticker stream reconnection failed")
			continue
		}

		go s.readLoop(ctx)
		return
	}
}

func reconnectBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// Price returns the latest streamed tick for a symbol and whether it is recent enough to use
func (s *TickerStream) Price(symbol string) (domain.PriceTick, bool) {
	s.ticksMu.RLock()
	tick, ok := s.ticks[domain.NormalizeSymbol(symbol)]
	s.ticksMu.RUnlock()
	if !ok {
		return domain.PriceTick{}, false
	}
	return tick, s.now().Sub(tick.At) <= s.freshness
}

// IsConnected reports whether the stream currently has a live connection
func (s *TickerStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Len returns the number of symbols with a streamed price
func (s *TickerStream) Len() int {
	s.ticksMu.RLock()
	defer s.ticksMu.RUnlock()
	return len(s.ticks)
}
