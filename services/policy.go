package services

import (
	"context"

	"pricewatch/models"
	"pricewatch/storage"
)

// VotePolicy is the authorization layer in front of a Voter: authors may
// not vote on their own reports.
type VotePolicy struct {
	prices storage.PriceStore
	next   Voter
}

func NewVotePolicy(prices storage.PriceStore, next Voter) *VotePolicy {
	return &VotePolicy{prices: prices, next: next}
}

func (p *VotePolicy) CastVote(ctx context.Context, priceID, userID string, vote models.VoteType) (models.VoteTally, error) {
	report, err := p.prices.GetPrice(ctx, priceID)
	if err != nil {
		return models.VoteTally{}, notFoundOr("cast vote", "price report", priceID, err)
	}
	if report.UserID == userID {
		return models.VoteTally{}, &models.PermissionError{Op: "cast vote", Reason: "cannot vote on your own price report"}
	}
	return p.next.CastVote(ctx, priceID, userID, vote)
}
