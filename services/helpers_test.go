package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pricewatch/storage"
	"pricewatch/utils"
)

func quietLogger() *utils.Logger { return utils.Discard() }

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixture wires every service over one memory store.
type fixture struct {
	store      *storage.MemoryStore
	resolver   *Resolver
	ledger     *Ledger
	votes      *VoteAggregator
	policy     *VotePolicy
	comments   *CommentLog
	composer   *ViewComposer
	submission *SubmissionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := quietLogger()
	m := storage.NewMemoryStore()
	f := &fixture{
		store:    m,
		resolver: NewResolver(m, log),
		ledger:   NewLedger(m, log),
		votes:    NewVoteAggregator(m, DefaultVoteAttempts, log),
		comments: NewCommentLog(m, log),
		composer: NewViewComposer(m, m, m, log),
	}
	f.policy = NewVotePolicy(m, f.votes)
	f.submission = NewSubmissionService(f.resolver, f.ledger, nil, log)
	return f
}

// report records a price by u1 and returns its id.
func (f *fixture) report(t *testing.T) string {
	t.Helper()
	res, err := f.submission.Submit(context.Background(), Submission{
		UserID:      "u1",
		ProductName: "Coca-Cola Can",
		StoreName:   "Hanout Omar",
		Price:       price("3.50"),
	})
	require.NoError(t, err)
	return res.ReportID
}
