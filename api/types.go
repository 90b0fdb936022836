package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"pricewatch/models"
	"pricewatch/services"
)

// PriceInput accepts a price as a JSON number, taken exactly, or as free
// text such as "3,50 dh".
type PriceInput struct {
	text   string
	number *decimal.Decimal
}

func (p *PriceInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = PriceInput{}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PriceInput{text: s}
	default:
		d, err := decimal.NewFromString(string(data))
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		*p = PriceInput{number: &d}
	}
	return nil
}

// Decimal validates the price and rounds it to cents.
func (p PriceInput) Decimal() (decimal.Decimal, error) {
	if p.number != nil {
		return services.ValidPrice(*p.number)
	}
	if p.text == "" {
		return decimal.Zero, &models.ValidationError{Field: "price", Reason: "must not be empty"}
	}
	return services.ParsePrice(p.text)
}

type SubmitInput struct {
	Product  string `json:"product"`
	Brand    string `json:"brand"`
	Category string `json:"category"`
	Barcode  string `json:"barcode"`
	// Image is base64 in JSON.
	Image []byte `json:"image"`

	Store     string   `json:"store" binding:"required"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	Price PriceInput `json:"price"`
}

type VoteInput struct {
	Type string `json:"type" binding:"required"`
}

type CommentInput struct {
	Text string `json:"text" binding:"required"`
}

type PriceResponse struct {
	Report   *models.PriceReport `json:"report"`
	Comments []*models.Comment   `json:"comments"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
