package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pricewatch/models"
)

// WritePolicy is consulted before every mutation of the memory store. A
// non-nil result rejects the write with ErrPermissionDenied.
type WritePolicy func(collection, id string) error

// MemoryStore is an in-process Backend. Like a document store without a
// unique index it does not enforce name uniqueness; callers serialise
// get-or-create themselves.
type MemoryStore struct {
	mu       sync.RWMutex
	products []*models.Product
	stores   []*models.Store
	prices   map[string]*models.PriceReport
	order    []string
	comments map[string][]*models.Comment
	policy   WritePolicy
	closed   bool

	hub *Hub
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices:   make(map[string]*models.PriceReport),
		comments: make(map[string][]*models.Comment),
		hub:      NewHub(),
	}
}

// SetWritePolicy installs an access policy. Nil allows everything.
func (m *MemoryStore) SetWritePolicy(p WritePolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy = p
}

// Hub exposes the change hub, mainly for tests.
func (m *MemoryStore) Hub() *Hub { return m.hub }

func (m *MemoryStore) check(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return fmt.Errorf("memory: %s: %w", collection, ErrUnavailable)
	}
	if m.policy != nil {
		if err := m.policy(collection, id); err != nil {
			return fmt.Errorf("memory: %s/%s: %w: %w", collection, id, ErrPermissionDenied, err)
		}
	}
	return nil
}

func (m *MemoryStore) readable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return fmt.Errorf("memory: %w", ErrUnavailable)
	}
	return nil
}

func (m *MemoryStore) FindProductsByName(ctx context.Context, name string) ([]*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.readable(ctx); err != nil {
		return nil, err
	}

	var out []*models.Product
	for _, p := range m.products {
		if p.Name == name {
			c := *p
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return before(out[i].CreatedAt.UnixNano(), out[i].ID, out[j].CreatedAt.UnixNano(), out[j].ID)
	})
	return out, nil
}

func (m *MemoryStore) InsertProduct(ctx context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "products", p.ID); err != nil {
		return err
	}
	c := *p
	m.products = append(m.products, &c)
	return nil
}

func (m *MemoryStore) FindStoresByName(ctx context.Context, name string) ([]*models.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.readable(ctx); err != nil {
		return nil, err
	}

	var out []*models.Store
	for _, s := range m.stores {
		if s.Name == name {
			c := *s
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return before(out[i].CreatedAt.UnixNano(), out[i].ID, out[j].CreatedAt.UnixNano(), out[j].ID)
	})
	return out, nil
}

func (m *MemoryStore) InsertStore(ctx context.Context, s *models.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "stores", s.ID); err != nil {
		return err
	}
	c := *s
	m.stores = append(m.stores, &c)
	return nil
}

func (m *MemoryStore) InsertPrice(ctx context.Context, p *models.PriceReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "prices", p.ID); err != nil {
		return err
	}
	if _, exists := m.prices[p.ID]; exists {
		return fmt.Errorf("memory: prices/%s: %w", p.ID, ErrDuplicate)
	}
	m.prices[p.ID] = p.Clone()
	m.order = append(m.order, p.ID)
	return nil
}

func (m *MemoryStore) GetPrice(ctx context.Context, id string) (*models.PriceReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.readable(ctx); err != nil {
		return nil, err
	}
	p, ok := m.prices[id]
	if !ok {
		return nil, fmt.Errorf("memory: prices/%s: %w", id, ErrNotFound)
	}
	return p.Clone(), nil
}

func (m *MemoryStore) UpdateVotes(ctx context.Context, id string, expectedVersion int64, tally models.VoteTally) (int64, error) {
	version, err := m.updateVotes(ctx, id, expectedVersion, tally)
	if err != nil {
		return 0, err
	}
	m.hub.Publish(Change{Kind: ReportChanged, PriceID: id})
	return version, nil
}

func (m *MemoryStore) updateVotes(ctx context.Context, id string, expectedVersion int64, tally models.VoteTally) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "prices", id); err != nil {
		return 0, err
	}
	p, ok := m.prices[id]
	if !ok {
		return 0, fmt.Errorf("memory: prices/%s: %w", id, ErrNotFound)
	}
	if p.Version != expectedVersion {
		return 0, fmt.Errorf("memory: prices/%s at version %d, expected %d: %w",
			id, p.Version, expectedVersion, ErrVersionConflict)
	}
	if tally.Score != len(tally.Upvotes)-len(tally.Downvotes) {
		return 0, fmt.Errorf("memory: prices/%s: score %d does not match tally", id, tally.Score)
	}

	p.Upvotes = append([]string{}, tally.Upvotes...)
	p.Downvotes = append([]string{}, tally.Downvotes...)
	p.VoteScore = tally.Score
	p.Version++
	return p.Version, nil
}

func (m *MemoryStore) ListPrices(ctx context.Context) ([]*models.PriceReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.readable(ctx); err != nil {
		return nil, err
	}
	out := make([]*models.PriceReport, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.prices[id].Clone())
	}
	return out, nil
}

func (m *MemoryStore) InsertComment(ctx context.Context, c *models.Comment) error {
	if err := m.insertComment(ctx, c); err != nil {
		return err
	}
	m.hub.Publish(Change{Kind: CommentAdded, PriceID: c.PriceReportID})
	return nil
}

func (m *MemoryStore) insertComment(ctx context.Context, c *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx, "comments", c.ID); err != nil {
		return err
	}
	if _, ok := m.prices[c.PriceReportID]; !ok {
		return fmt.Errorf("memory: prices/%s: %w", c.PriceReportID, ErrNotFound)
	}

	cp := *c
	list := m.comments[c.PriceReportID]
	i := sort.Search(len(list), func(i int) bool {
		return before(cp.CreatedAt.UnixNano(), cp.ID, list[i].CreatedAt.UnixNano(), list[i].ID)
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &cp
	m.comments[c.PriceReportID] = list
	return nil
}

func (m *MemoryStore) ListComments(ctx context.Context, priceID string) ([]*models.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.readable(ctx); err != nil {
		return nil, err
	}
	var out []*models.Comment
	for _, c := range m.comments[priceID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Subscribe(priceID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("memory: subscribe: %w", ErrUnavailable)
	}
	return m.hub.Subscribe(priceID), nil
}

// Close marks the store unavailable; later calls fail with ErrUnavailable.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func before(aTime int64, aID string, bTime int64, bID string) bool {
	if aTime != bTime {
		return aTime < bTime
	}
	return aID < bID
}
