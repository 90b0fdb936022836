package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pricewatch/models"
	"pricewatch/utils"
)

// Submission is a user's free-text price report.
type Submission struct {
	UserID string

	ProductName string
	Brand       string
	Category    string
	Barcode     string
	// Image, when set and a Classifier is configured, fills in whichever
	// of ProductName, Brand and Category were left blank.
	Image []byte

	StoreName string
	Address   string
	Geo       *models.Geo

	Price decimal.Decimal
}

// SubmissionResult names the entities a submission resolved to.
type SubmissionResult struct {
	ReportID  string `json:"id"`
	ProductID string `json:"product_id"`
	StoreID   string `json:"store_id"`
}

// SubmissionService runs the write path: store, then product, then report.
type SubmissionService struct {
	resolver   *Resolver
	ledger     *Ledger
	classifier Classifier
	logger     *utils.Logger
}

func NewSubmissionService(resolver *Resolver, ledger *Ledger, classifier Classifier, logger *utils.Logger) *SubmissionService {
	return &SubmissionService{resolver: resolver, ledger: ledger, classifier: classifier, logger: logger.With("submit")}
}

func (s *SubmissionService) Submit(ctx context.Context, sub Submission) (SubmissionResult, error) {
	if strings.TrimSpace(sub.UserID) == "" {
		return SubmissionResult{}, &models.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	price, err := ValidPrice(sub.Price)
	if err != nil {
		return SubmissionResult{}, err
	}
	sub.Price = price

	if len(sub.Image) > 0 && s.classifier != nil {
		if err := s.applyGuess(ctx, &sub); err != nil {
			return SubmissionResult{}, err
		}
	}

	// Nothing is written until every field has been checked.
	switch {
	case strings.TrimSpace(sub.StoreName) == "":
		return SubmissionResult{}, &models.ValidationError{Field: "store name", Reason: "must not be empty"}
	case strings.TrimSpace(sub.ProductName) == "":
		return SubmissionResult{}, &models.ValidationError{Field: "product name", Reason: "must not be empty"}
	case sub.Geo != nil:
		if err := validateGeo(*sub.Geo); err != nil {
			return SubmissionResult{}, err
		}
	}

	storeID, err := s.resolver.ResolveStore(ctx, sub.StoreName, StoreMeta{Address: sub.Address, Geo: sub.Geo})
	if err != nil {
		return SubmissionResult{}, err
	}
	productID, err := s.resolver.ResolveProduct(ctx, sub.ProductName, ProductMeta{
		Brand:    sub.Brand,
		Category: sub.Category,
		Barcode:  sub.Barcode,
	})
	if err != nil {
		return SubmissionResult{}, err
	}

	reportID, err := s.ledger.Record(ctx, sub.UserID, productID, storeID, sub.Price)
	if err != nil {
		return SubmissionResult{}, err
	}

	s.logger.Info("price %s: %q at %q = %s by %s",
		reportID, strings.TrimSpace(sub.ProductName), strings.TrimSpace(sub.StoreName), sub.Price.StringFixed(2), sub.UserID)
	return SubmissionResult{ReportID: reportID, ProductID: productID, StoreID: storeID}, nil
}

func (s *SubmissionService) applyGuess(ctx context.Context, sub *Submission) error {
	guess, err := s.classifier.Classify(ctx, sub.Image)
	if err != nil {
		return fmt.Errorf("classify product image: %w", err)
	}
	if strings.TrimSpace(sub.ProductName) == "" {
		sub.ProductName = guess.Name
	}
	if strings.TrimSpace(sub.Brand) == "" {
		sub.Brand = guess.Brand
	}
	if strings.TrimSpace(sub.Category) == "" {
		sub.Category = guess.Category
	}
	return nil
}
