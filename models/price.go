package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VoteType is the direction of a vote on a PriceReport.
type VoteType int

const (
	Upvote VoteType = iota + 1
	Downvote
)

func (v VoteType) String() string {
	switch v {
	case Upvote:
		return "upvote"
	case Downvote:
		return "downvote"
	default:
		return fmt.Sprintf("VoteType(%d)", int(v))
	}
}

// ParseVoteType accepts "upvote"/"up" and "downvote"/"down", any case.
func ParseVoteType(s string) (VoteType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upvote", "up":
		return Upvote, nil
	case "downvote", "down":
		return Downvote, nil
	}
	return 0, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown vote type %q", s)}
}

// VoteTally is the vote-state of a report. Score is always
// len(Upvotes) - len(Downvotes) and no user appears in both slices.
type VoteTally struct {
	Upvotes   []string `json:"upvotes"`
	Downvotes []string `json:"downvotes"`
	Score     int      `json:"vote_score"`
}

// PriceReport is a user-submitted observation of a product's price at a store.
type PriceReport struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	ProductID string          `json:"product_id"`
	StoreID   string          `json:"store_id"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	Verified  bool            `json:"verified"`
	Upvotes   []string        `json:"upvotes"`
	Downvotes []string        `json:"downvotes"`
	VoteScore int             `json:"vote_score"`

	// Version increments on every committed vote transition.
	Version int64 `json:"version"`
}

// Tally returns a copy of the report's vote-state.
func (p *PriceReport) Tally() VoteTally {
	return VoteTally{
		Upvotes:   append([]string{}, p.Upvotes...),
		Downvotes: append([]string{}, p.Downvotes...),
		Score:     p.VoteScore,
	}
}

// Clone returns a deep copy so callers can hand reports across goroutines.
func (p *PriceReport) Clone() *PriceReport {
	c := *p
	c.Upvotes = append([]string{}, p.Upvotes...)
	c.Downvotes = append([]string{}, p.Downvotes...)
	return &c
}

// Comment is an append-only child of a PriceReport.
type Comment struct {
	ID            string    `json:"id"`
	PriceReportID string    `json:"price_report_id"`
	UserID        string    `json:"user_id"`
	UserName      string    `json:"user_name"`
	UserPhotoURL  string    `json:"user_photo_url,omitempty"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

// View is a report together with its ordered comments.
type View struct {
	Report   *PriceReport `json:"report"`
	Comments []*Comment   `json:"comments"`
}
