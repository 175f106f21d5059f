package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sgupta-algo/tickrunner/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --------------------------------------------------------------------------
// In-memory fakes
// --------------------------------------------------------------------------

type fakePositionStore struct {
	mu   sync.Mutex
	byID map[string]domain.Position
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{byID: make(map[string]domain.Position)}
}

func (s *fakePositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
	return nil
}

func (s *fakePositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePositionStore) GetByOrderID(_ context.Context, orderID string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.OrderID == orderID || p.ExitOrderID == orderID {
			return p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *fakePositionStore) ListByScripAndStatus(_ context.Context, scripCode int, status domain.TradeStatus) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.byID {
		if p.Instrument.ScripCode == scripCode && p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ListByStatus(_ context.Context, status domain.TradeStatus) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.byID {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ListIntradayOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.byID {
		if p.Intraday && p.Status == domain.StatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ClaimStatus(_ context.Context, id string, from, to domain.TradeStatus, exitReason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if exitReason != "" {
		p.ExitReason = exitReason
	}
	s.byID[id] = p
	return true, nil
}

func (s *fakePositionStore) UpdateStatus(_ context.Context, id string, status domain.TradeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	s.byID[id] = p
	return nil
}

func (s *fakePositionStore) SetStopLoss(_ context.Context, id string, stop float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.StopLoss = stop
	s.byID[id] = p
	return nil
}

func (s *fakePositionStore) SetExitOrder(_ context.Context, id, exitOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.ExitOrderID = exitOrderID
	s.byID[id] = p
	return nil
}

func (s *fakePositionStore) MarkEntryFilled(_ context.Context, id string, avgPrice float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.StatusOpen
	p.EntryPrice = avgPrice
	p.EntryAt = &at
	s.byID[id] = p
	return nil
}

func (s *fakePositionStore) MarkExited(_ context.Context, id string, exitPrice, pnl float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = domain.StatusExitFilled
	p.ExitPrice = &exitPrice
	p.PnL = &pnl
	p.ExitedAt = &at
	s.byID[id] = p
	return nil
}

type fakeEntryStore struct {
	mu   sync.Mutex
	byID map[string]domain.PendingEntry
}

func newFakeEntryStore() *fakeEntryStore {
	return &fakeEntryStore{byID: make(map[string]domain.PendingEntry)}
}

func (s *fakeEntryStore) Create(_ context.Context, pe domain.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[pe.ID] = pe
	return nil
}

func (s *fakeEntryStore) GetByID(_ context.Context, id string) (domain.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pe, ok := s.byID[id]
	if !ok {
		return domain.PendingEntry{}, domain.ErrNotFound
	}
	return pe, nil
}

func (s *fakeEntryStore) ListAwaiting(_ context.Context, scripCode int) ([]domain.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingEntry
	for _, pe := range s.byID {
		if pe.Instrument.ScripCode == scripCode && pe.Status == domain.StatusAwaitingEntry {
			out = append(out, pe)
		}
	}
	return out, nil
}

func (s *fakeEntryStore) ListAllAwaiting(_ context.Context) ([]domain.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingEntry
	for _, pe := range s.byID {
		if pe.Status == domain.StatusAwaitingEntry {
			out = append(out, pe)
		}
	}
	return out, nil
}

func (s *fakeEntryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *fakeEntryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]domain.PendingEntry)
	return nil
}

// fakeBroker counts calls and delegates to overridable funcs.
type fakeBroker struct {
	mu          sync.Mutex
	placeCalls  int
	modifyCalls int

	placeFn   func(req domain.OrderRequest) (domain.OrderReceipt, error)
	modifyFn  func(req domain.OrderRequest) (domain.OrderReceipt, error)
	historyFn func(orderID string) ([]domain.OrderRecord, error)
}

func newFakeBroker() *fakeBroker {
	seq := 0
	return &fakeBroker{
		placeFn: func(domain.OrderRequest) (domain.OrderReceipt, error) {
			seq++
			return domain.OrderReceipt{OrderID: fmt.Sprintf("ORD-%d", seq), OrderStatus: "Pending"}, nil
		},
		modifyFn: func(req domain.OrderRequest) (domain.OrderReceipt, error) {
			return domain.OrderReceipt{OrderID: req.OrderID, OrderStatus: "Pending"}, nil
		},
		historyFn: func(string) ([]domain.OrderRecord, error) {
			return nil, nil
		},
	}
}

func (b *fakeBroker) PlaceOrder(_ context.Context, _ domain.Credential, req domain.OrderRequest) (domain.OrderReceipt, error) {
	b.mu.Lock()
	b.placeCalls++
	fn := b.placeFn
	b.mu.Unlock()
	return fn(req)
}

func (b *fakeBroker) ModifyOrder(_ context.Context, _ domain.Credential, req domain.OrderRequest) (domain.OrderReceipt, error) {
	b.mu.Lock()
	b.modifyCalls++
	fn := b.modifyFn
	b.mu.Unlock()
	return fn(req)
}

func (b *fakeBroker) OrderHistory(_ context.Context, _ domain.Credential, _, orderID string) ([]domain.OrderRecord, error) {
	b.mu.Lock()
	fn := b.historyFn
	b.mu.Unlock()
	return fn(orderID)
}

func (b *fakeBroker) GenerateSession(context.Context, string, string, string) (domain.SessionToken, error) {
	return domain.SessionToken{Token: "tok", ExpiresIn: time.Hour}, nil
}

type fakeCache struct {
	mu     sync.Mutex
	prices map[int]float64
}

func newFakeCache() *fakeCache {
	return &fakeCache{prices: make(map[int]float64)}
}

func (c *fakeCache) SetLTP(_ context.Context, scripCode int, ltp float64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[scripCode] = ltp
	return nil
}

func (c *fakeCache) GetLTP(_ context.Context, scripCode int) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ltp, ok := c.prices[scripCode]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return ltp, time.Now(), nil
}

func (c *fakeCache) RemoveLTP(_ context.Context, scripCode int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prices, scripCode)
	return nil
}

type fakeFeed struct {
	mu     sync.Mutex
	subs   []domain.InstrumentKey
	unsubs []domain.InstrumentKey
}

func (f *fakeFeed) Subscribe(key domain.InstrumentKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, key)
	return nil
}

func (f *fakeFeed) Unsubscribe(_ context.Context, key domain.InstrumentKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, key)
	return nil
}

type fakeCreds struct{}

func (fakeCreds) Credential(_ context.Context, id string) (domain.Credential, error) {
	return domain.Credential{ID: id, Broker: "sharekhan", CustomerID: "CUST1", APIKey: "key"}, nil
}

// --------------------------------------------------------------------------
// Test rig
// --------------------------------------------------------------------------

type rig struct {
	positions *fakePositionStore
	entries   *fakeEntryStore
	broker    *fakeBroker
	cache     *fakeCache
	feed      *fakeFeed

	lifecycle  *LifecycleManager
	reconciler *Reconciler
	trigger    *TriggerEvaluator
	monitor    *PositionMonitor
}

func newRig() *rig {
	logger := testLogger()
	r := &rig{
		positions: newFakePositionStore(),
		entries:   newFakeEntryStore(),
		broker:    newFakeBroker(),
		cache:     newFakeCache(),
		feed:      &fakeFeed{},
	}
	r.reconciler = NewReconciler(
		r.positions, r.broker, fakeCreds{}, r.cache, nil,
		5*time.Millisecond, 100*time.Millisecond,
		logger,
	)
	r.lifecycle = NewLifecycleManager(
		r.positions, r.broker, fakeCreds{}, r.feed, r.cache,
		r.reconciler, nil, logger,
	)
	r.trigger = NewTriggerEvaluator(r.entries, r.lifecycle, logger)
	r.monitor = NewPositionMonitor(r.positions, r.lifecycle, logger)
	return r
}

func openPosition(id string, scrip int, entry, stop, target float64) domain.Position {
	return domain.Position{
		ID:           id,
		Symbol:       "NIFTY25SEP24000CE",
		Instrument:   domain.InstrumentKey{Exchange: "NF", ScripCode: scrip},
		Quantity:     75,
		EntryPrice:   entry,
		StopLoss:     stop,
		Target1:      target,
		CredentialID: "cred-1",
		OrderID:      "ENTRY-" + id,
		Status:       domain.StatusOpen,
		TriggeredAt:  time.Now(),
	}
}
