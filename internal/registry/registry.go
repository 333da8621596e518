// Package registry is the Session Registry of spec.md §4.7: it maps an
// opaque backtest id to its session (exchange, broker, clock position) and a
// dataset name to its loaded price source. Isolation is coarse: one mutex
// guards the whole registry, which spec.md §5 explicitly sanctions since
// sessions are short-lived relative to a request.
package registry

import (
	"errors"
	"sync"

	"bourse/internal/broker"
	"bourse/internal/clock"
	"bourse/internal/exchange"
	"bourse/internal/ledger"
	"bourse/internal/marketdata"
	"bourse/internal/types"
)

// ErrUnknownDataset is returned by Init when no dataset was registered under
// the given name.
var ErrUnknownDataset = errors.New("unknown dataset")

// ErrUnknownBacktest is returned by any session lookup against an id that
// was never issued or has been closed.
var ErrUnknownBacktest = errors.New("unknown backtest")

// Variant selects which order book an Init'd session's exchange uses.
type Variant int

const (
	BBO Variant = iota
	Depth
)

// Config controls how every session created by Init is built.
type Config struct {
	Variant     Variant
	Frequency   clock.Frequency
	MaxSlippage float64 // BBO only
	Latency     types.Timestamp
	Costs       ledger.CostModel
}

// Session is one running backtest: its exchange, its broker and the dataset
// it was built from.
type Session struct {
	Id          uint64
	DatasetName string
	Exchange    *exchange.Exchange
	Broker      *broker.Broker
	priceSource marketdata.PriceSource
}

// PriceSource exposes the session's read-only price source, needed by the
// tick-driving loop to fetch dividends/quotes alongside exchange.Tick().
func (s *Session) PriceSource() marketdata.PriceSource { return s.priceSource }

// Registry holds registered datasets and live sessions behind one mutex.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	datasets map[string]marketdata.PriceSource
	sessions map[uint64]*Session
	nextID   uint64
}

// New builds an empty registry. cfg governs every session Init creates.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		datasets: make(map[string]marketdata.PriceSource),
		sessions: make(map[uint64]*Session),
	}
}

// RegisterDataset makes a loaded price source available under name for
// future Init calls.
func (r *Registry) RegisterDataset(name string, ps marketdata.PriceSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.datasets[name] = ps
}

// Init allocates a fresh backtest id, builds an empty exchange/broker pair
// over the named dataset's price source starting at its first timestamp,
// and registers the session.
func (r *Registry) Init(datasetName string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps, ok := r.datasets[datasetName]
	if !ok {
		return nil, ErrUnknownDataset
	}

	clk := clock.New(ps.Dates(), r.cfg.Frequency)

	var ex *exchange.Exchange
	switch r.cfg.Variant {
	case Depth:
		ex = exchange.NewDepth(ps, clk, r.cfg.Latency)
	default:
		ex = exchange.NewBBO(ps, clk, r.cfg.MaxSlippage, r.cfg.Latency)
	}

	r.nextID++
	session := &Session{
		Id:          r.nextID,
		DatasetName: datasetName,
		Exchange:    ex,
		Broker:      broker.New(ex, r.cfg.Costs),
		priceSource: ps,
	}
	r.sessions[session.Id] = session
	return session, nil
}

// Get looks up a live session by id.
func (r *Registry) Get(id uint64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownBacktest
	}
	return s, nil
}

// Close drops a session from the registry, freeing its exchange and broker
// for garbage collection.
func (r *Registry) Close(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
