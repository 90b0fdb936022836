package storage

import (
	"fmt"
	"strings"
	"sync"
)

// ChangeKind tells subscribers which part of a report changed.
type ChangeKind int

const (
	ReportChanged ChangeKind = iota + 1
	CommentAdded
)

// Change is a committed mutation notice. It carries no data; subscribers
// re-read the current state.
type Change struct {
	Kind    ChangeKind
	PriceID string
}

// encode renders a change as a NOTIFY payload.
func (c Change) encode() string {
	switch c.Kind {
	case CommentAdded:
		return "c:" + c.PriceID
	default:
		return "r:" + c.PriceID
	}
}

func decodeChange(payload string) (Change, error) {
	kind, id, ok := strings.Cut(payload, ":")
	if !ok || id == "" {
		return Change{}, fmt.Errorf("feed: malformed payload %q", payload)
	}
	switch kind {
	case "r":
		return Change{Kind: ReportChanged, PriceID: id}, nil
	case "c":
		return Change{Kind: CommentAdded, PriceID: id}, nil
	}
	return Change{}, fmt.Errorf("feed: unknown change kind %q", kind)
}

// Subscription delivers coalesced change signals for one report. Each
// channel holds at most one pending signal; a publish while one is pending
// is dropped, so publishers never block.
type Subscription struct {
	priceID  string
	reportC  chan struct{}
	commentC chan struct{}

	once    sync.Once
	release func(*Subscription)
}

// ReportChanged fires after the report document (vote-state) changes.
func (s *Subscription) ReportChanged() <-chan struct{} { return s.reportC }

// CommentAdded fires after a comment is appended to the report.
func (s *Subscription) CommentAdded() <-chan struct{} { return s.commentC }

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.release != nil {
			s.release(s)
		}
	})
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Hub fans committed changes out to subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(priceID string) *Subscription {
	s := &Subscription{
		priceID:  priceID,
		reportC:  make(chan struct{}, 1),
		commentC: make(chan struct{}, 1),
		release:  h.remove,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[priceID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[priceID] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.priceID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.priceID)
	}
}

// Publish signals every subscriber of the change's report.
func (h *Hub) Publish(c Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[c.PriceID] {
		if c.Kind == CommentAdded {
			signal(s.commentC)
		} else {
			signal(s.reportC)
		}
	}
}

// PublishAll signals both streams of every subscriber. Used after the
// notification source may have lost messages.
func (h *Hub) PublishAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.subs {
		for s := range set {
			signal(s.reportC)
			signal(s.commentC)
		}
	}
}

// Subscribers returns the number of live subscriptions for a report.
func (h *Hub) Subscribers(priceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[priceID])
}
