package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"pricewatch/models"
	"pricewatch/storage"
	"pricewatch/utils"
)

// DefaultVoteAttempts bounds optimistic retries of a single vote.
const DefaultVoteAttempts = 5

// Voter applies a vote to a report and returns the committed tally.
type Voter interface {
	CastVote(ctx context.Context, priceID, userID string, vote models.VoteType) (models.VoteTally, error)
}

// VoteAggregator applies toggle transitions to a report's vote-state. Each
// attempt reads the report, computes the next tally from it and commits only
// if the report's version is unchanged; a version conflict restarts from the
// read. It enforces no authorship rules, see VotePolicy.
type VoteAggregator struct {
	prices storage.PriceStore
	retry  utils.RetryConfig
	logger *utils.Logger
}

func NewVoteAggregator(prices storage.PriceStore, maxAttempts int, logger *utils.Logger) *VoteAggregator {
	if maxAttempts < 1 {
		maxAttempts = DefaultVoteAttempts
	}
	logger = logger.With("votes")
	return &VoteAggregator{
		prices: prices,
		retry: utils.RetryConfig{
			MaxAttempts: maxAttempts,
			BaseDelay:   2 * time.Millisecond,
			MaxDelay:    50 * time.Millisecond,
			Jitter:      true,
			Retryable:   func(err error) bool { return errors.Is(err, storage.ErrVersionConflict) },
			Logger:      logger,
		},
		logger: logger,
	}
}

func (v *VoteAggregator) CastVote(ctx context.Context, priceID, userID string, vote models.VoteType) (models.VoteTally, error) {
	switch {
	case priceID == "":
		return models.VoteTally{}, &models.ValidationError{Field: "price_id", Reason: "must not be empty"}
	case strings.TrimSpace(userID) == "":
		return models.VoteTally{}, &models.ValidationError{Field: "user_id", Reason: "must not be empty"}
	case vote != models.Upvote && vote != models.Downvote:
		return models.VoteTally{}, &models.ValidationError{Field: "type", Reason: "unknown vote type " + vote.String()}
	}

	var committed models.VoteTally
	attempts := 0
	err := v.retry.Do(ctx, "cast vote on "+priceID, func(attempt int) error {
		attempts = attempt
		report, err := v.prices.GetPrice(ctx, priceID)
		if err != nil {
			return err
		}
		next := applyVote(report.Tally(), userID, vote)
		if _, err := v.prices.UpdateVotes(ctx, priceID, report.Version, next); err != nil {
			return err
		}
		committed = next
		return nil
	})

	switch {
	case err == nil:
		v.logger.Debug("%s by %s on %s committed after %d attempt(s), score %d",
			vote, userID, priceID, attempts, committed.Score)
		return committed, nil
	case errors.Is(err, utils.ErrRetriesExhausted):
		v.logger.Warn("giving up on %s by %s on %s after %d attempts", vote, userID, priceID, attempts)
		return models.VoteTally{}, &models.ConflictError{ID: priceID, Attempts: attempts, Err: err}
	}
	return models.VoteTally{}, notFoundOr("cast vote", "price report", priceID, err)
}

// applyVote is the per-user toggle: repeating a vote retracts it, the
// opposite vote moves the user across. The input is not modified.
func applyVote(t models.VoteTally, userID string, vote models.VoteType) models.VoteTally {
	up, wasUp := without(t.Upvotes, userID)
	down, wasDown := without(t.Downvotes, userID)

	switch vote {
	case models.Upvote:
		if !wasUp {
			up = append(up, userID)
		}
	case models.Downvote:
		if !wasDown {
			down = append(down, userID)
		}
	}
	return models.VoteTally{Upvotes: up, Downvotes: down, Score: len(up) - len(down)}
}

// without returns a fresh copy of ids minus id and whether id was present.
func without(ids []string, id string) ([]string, bool) {
	out := make([]string, 0, len(ids)+1)
	found := false
	for _, v := range ids {
		if v == id {
			found = true
			continue
		}
		out = append(out, v)
	}
	return out, found
}
