package services

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

// Ledger appends price reports. Reports are never updated or deleted here;
// vote-state changes go through the VoteAggregator.
type Ledger struct {
	prices storage.PriceStore
	clock  func() time.Time
	logger *utils.Logger
}

func NewLedger(prices storage.PriceStore, logger *utils.Logger) *Ledger {
	return &Ledger{prices: prices, clock: now, logger: logger.With("ledger")}
}

// Record creates an unverified report with an empty vote-state. productID
// and storeID must already be resolved.
func (l *Ledger) Record(ctx context.Context, userID, productID, storeID string, price decimal.Decimal) (string, error) {
	price = price.Round(2)
	switch {
	case strings.TrimSpace(userID) == "":
		return "", &models.ValidationError{Field: "user_id", Reason: "must not be empty"}
	case productID == "":
		return "", &models.ValidationError{Field: "product_id", Reason: "must not be empty"}
	case storeID == "":
		return "", &models.ValidationError{Field: "store_id", Reason: "must not be empty"}
	case !price.IsPositive():
		return "", &models.ValidationError{Field: "price", Reason: "must be greater than zero"}
	}

	report := &models.PriceReport{
		ID:        newID(),
		UserID:    userID,
		ProductID: productID,
		StoreID:   storeID,
		Price:     price,
		CreatedAt: l.clock(),
		Upvotes:   []string{},
		Downvotes: []string{},
	}
	if err := l.prices.InsertPrice(ctx, report); err != nil {
		return "", translate("record price", err)
	}

	l.logger.Debug("recorded price %s: %s for product %s at store %s by %s",
		report.ID, report.Price.StringFixed(2), productID, storeID, userID)
	return report.ID, nil
}

// Get reads a report.
func (l *Ledger) Get(ctx context.Context, id string) (*models.PriceReport, error) {
	p, err := l.prices.GetPrice(ctx, id)
	if err != nil {
		return nil, notFoundOr("get price", "price report", id, err)
	}
	return p, nil
}
