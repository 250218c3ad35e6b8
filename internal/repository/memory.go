package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devinpfox/fanbidz-reconcile/internal/domain"
)

// In-memory implementations of the store interfaces. They mirror the
// conditional-write semantics of the gorm repos under a mutex and back the
// test suites and local runs without a database.

type MemLedger struct {
	mu      sync.Mutex
	entries map[string]*domain.WalletLedgerEntry // by idempotency key
}

func NewMemLedger() *MemLedger {
	return &MemLedger{entries: make(map[string]*domain.WalletLedgerEntry)}
}

func (m *MemLedger) CreateIfAbsent(_ context.Context, e *domain.WalletLedgerEntry) (bool, *domain.WalletLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[e.IdempotencyKey]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *e
	m.entries[e.IdempotencyKey] = &cp
	return true, e, nil
}

func (m *MemLedger) MarkApplied(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[idempotencyKey]
	if !ok || e.Status != domain.LedgerPending {
		return false, nil
	}
	e.Status = domain.LedgerApplied
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemLedger) ByKey(_ context.Context, idempotencyKey string) (*domain.WalletLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[idempotencyKey]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemLedger) Balance(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.AccountID == accountID && e.Status == domain.LedgerApplied {
			sum += e.Amount
		}
	}
	return sum, nil
}

// AppliedCount reports how many entries for the key ever reached applied.
// Test helper for the at-most-once invariant.
func (m *MemLedger) AppliedCount(idempotencyKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[idempotencyKey]
	if ok && e.Status == domain.LedgerApplied {
		return 1
	}
	return 0
}

type MemShipments struct {
	mu      sync.Mutex
	byOrder map[string]*domain.ShipmentRecord
	byTrack map[string]*domain.ShipmentRecord
}

func NewMemShipments() *MemShipments {
	return &MemShipments{
		byOrder: make(map[string]*domain.ShipmentRecord),
		byTrack: make(map[string]*domain.ShipmentRecord),
	}
}

func (m *MemShipments) Create(_ context.Context, rec *domain.ShipmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOrder[rec.OrderID]; ok {
		return ErrOrderExists
	}
	cp := *rec
	m.byOrder[rec.OrderID] = &cp
	m.byTrack[rec.ExternalTrackerID] = &cp
	return nil
}

func (m *MemShipments) ByOrderID(_ context.Context, orderID string) (*domain.ShipmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byOrder[orderID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemShipments) ByTrackerID(_ context.Context, trackerID string) (*domain.ShipmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byTrack[trackerID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemShipments) UpdateStateCAS(_ context.Context, trackerID string, fromStatus domain.ShipmentState, fromRank int, to domain.ShipmentState, toRank int, eventAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byTrack[trackerID]
	if !ok || rec.Status != fromStatus || rec.Rank != fromRank {
		return false, nil
	}
	rec.Status = to
	rec.Rank = toRank
	rec.LastEventAt = eventAt
	rec.UpdatedAt = time.Now().UTC()
	return true, nil
}

type MemAuctions struct {
	mu       sync.Mutex
	auctions map[string]*domain.AuctionRecord
	bids     map[string][]domain.Bid
}

func NewMemAuctions() *MemAuctions {
	return &MemAuctions{
		auctions: make(map[string]*domain.AuctionRecord),
		bids:     make(map[string][]domain.Bid),
	}
}

func (m *MemAuctions) Create(_ context.Context, a *domain.AuctionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.auctions[a.AuctionID] = &cp
	return nil
}

func (m *MemAuctions) AddBid(b domain.Bid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids[b.AuctionID] = append(m.bids[b.AuctionID], b)
}

func (m *MemAuctions) ByID(_ context.Context, auctionID string) (*domain.AuctionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemAuctions) ExpiredIDs(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, a := range m.auctions {
		if !a.EndAt.After(now) && (a.Status == domain.AuctionOpen || a.Status == domain.AuctionClosing) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemAuctions) TransitionStatus(_ context.Context, auctionID string, from, to domain.AuctionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemAuctions) SetWinner(_ context.Context, auctionID, bidID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return domain.ErrUnknownEntity
	}
	a.WinningBidID = bidID
	a.WinningAmount = amount
	return nil
}

func (m *MemAuctions) WinningBid(_ context.Context, auctionID string) (*domain.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bids := m.bids[auctionID]
	if len(bids) == 0 {
		return nil, domain.ErrNoBids
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > best.Amount {
			best = b
		}
	}
	cp := best
	return &cp, nil
}

type MemWebhooks struct {
	mu     sync.Mutex
	events map[string]*domain.WebhookEvent // provider + "/" + event id
}

func NewMemWebhooks() *MemWebhooks {
	return &MemWebhooks{events: make(map[string]*domain.WebhookEvent)}
}

func webhookKey(provider, id string) string { return provider + "/" + id }

func (m *MemWebhooks) InsertIfAbsent(_ context.Context, ev *domain.WebhookEvent) (bool, *domain.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := webhookKey(ev.Provider, ev.ExternalEventID)
	if existing, ok := m.events[k]; ok {
		cp := *existing
		return false, &cp, nil
	}
	cp := *ev
	m.events[k] = &cp
	return true, ev, nil
}

func (m *MemWebhooks) MarkProcessed(_ context.Context, provider, externalEventID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[webhookKey(provider, externalEventID)]
	if !ok {
		return domain.ErrUnknownEntity
	}
	ev.Processed = true
	ev.ProcessedAt = &at
	return nil
}

func (m *MemWebhooks) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, ev := range m.events {
		if ev.Processed && ev.ReceivedAt.Before(cutoff) {
			delete(m.events, k)
			n++
		}
	}
	return n, nil
}
