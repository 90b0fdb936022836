package storage

import (
	"context"
	"errors"

	"pricewatch/models"
)

// Sentinel errors every backend returns, possibly wrapped together with the
// driver error. Services translate them into the models error taxonomy.
var (
	ErrNotFound         = errors.New("storage: not found")
	ErrVersionConflict  = errors.New("storage: version conflict")
	ErrDuplicate        = errors.New("storage: duplicate key")
	ErrPermissionDenied = errors.New("storage: permission denied")
	ErrUnavailable      = errors.New("storage: unavailable")
)

// EntityStore holds the canonical products and stores. Find methods return
// matches ordered by (CreatedAt, ID) ascending.
type EntityStore interface {
	FindProductsByName(ctx context.Context, name string) ([]*models.Product, error)
	InsertProduct(ctx context.Context, p *models.Product) error
	FindStoresByName(ctx context.Context, name string) ([]*models.Store, error)
	InsertStore(ctx context.Context, s *models.Store) error
}

// PriceStore holds price reports.
type PriceStore interface {
	InsertPrice(ctx context.Context, p *models.PriceReport) error
	GetPrice(ctx context.Context, id string) (*models.PriceReport, error)
	// UpdateVotes commits tally only if the stored version still equals
	// expectedVersion, returning the new version. A mismatch yields
	// ErrVersionConflict.
	UpdateVotes(ctx context.Context, id string, expectedVersion int64, tally models.VoteTally) (int64, error)
	ListPrices(ctx context.Context) ([]*models.PriceReport, error)
}

// CommentStore holds the per-report comment collection.
type CommentStore interface {
	// InsertComment fails with ErrNotFound when the parent report is absent.
	InsertComment(ctx context.Context, c *models.Comment) error
	// ListComments returns a report's comments ordered by (CreatedAt, ID).
	ListComments(ctx context.Context, priceID string) ([]*models.Comment, error)
}

// ChangeFeed hands out per-report change subscriptions.
type ChangeFeed interface {
	Subscribe(priceID string) (*Subscription, error)
}

// Backend is a complete document store.
type Backend interface {
	EntityStore
	PriceStore
	CommentStore
	ChangeFeed
	Close() error
}

// ReportWriter is the interface any export sink must satisfy.
type ReportWriter interface {
	WriteReports(reports []*models.PriceReport) error
	Close() error
}
