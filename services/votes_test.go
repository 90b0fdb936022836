package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/models"
	"pricewatch/storage"
)

func assertInvariant(t *testing.T, tally models.VoteTally) {
	t.Helper()
	assert.Equal(t, len(tally.Upvotes)-len(tally.Downvotes), tally.Score, "score must equal |up| - |down|")
	up := make(map[string]bool)
	for _, u := range tally.Upvotes {
		assert.False(t, up[u], "user %s upvoted twice", u)
		up[u] = true
	}
	down := make(map[string]bool)
	for _, u := range tally.Downvotes {
		assert.False(t, up[u], "user %s in both sets", u)
		assert.False(t, down[u], "user %s downvoted twice", u)
		down[u] = true
	}
}

func TestApplyVoteTransitions(t *testing.T) {
	empty := models.VoteTally{}

	up := applyVote(empty, "u", models.Upvote)
	assert.Equal(t, []string{"u"}, up.Upvotes)
	assert.Equal(t, 1, up.Score)

	retracted := applyVote(up, "u", models.Upvote)
	assert.Empty(t, retracted.Upvotes)
	assert.Equal(t, 0, retracted.Score)

	switched := applyVote(up, "u", models.Downvote)
	assert.Empty(t, switched.Upvotes)
	assert.Equal(t, []string{"u"}, switched.Downvotes)
	assert.Equal(t, -1, switched.Score)

	back := applyVote(switched, "u", models.Upvote)
	assert.Equal(t, []string{"u"}, back.Upvotes)
	assert.Empty(t, back.Downvotes)

	assert.Equal(t, []string{"u"}, up.Upvotes, "input tally must not be modified")
}

func TestVoteScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.report(t)

	tally, err := f.votes.CastVote(ctx, r1, "u2", models.Upvote)
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Score)

	tally, err = f.votes.CastVote(ctx, r1, "u2", models.Upvote)
	require.NoError(t, err)
	assert.Equal(t, 0, tally.Score)

	report, err := f.ledger.Get(ctx, r1)
	require.NoError(t, err)
	assert.Equal(t, 0, report.VoteScore)
	assert.Empty(t, report.Upvotes)
}

func TestVoteSwitchAtomicity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.report(t)

	_, err := f.votes.CastVote(ctx, r1, "u2", models.Upvote)
	require.NoError(t, err)
	tally, err := f.votes.CastVote(ctx, r1, "u2", models.Downvote)
	require.NoError(t, err)

	assert.Equal(t, []string{"u2"}, tally.Downvotes)
	assert.NotContains(t, tally.Upvotes, "u2")
	assert.Equal(t, -1, tally.Score)
}

func TestVoteInvariantRandomSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.report(t)
	rng := rand.New(rand.NewSource(7))

	users := []string{"a", "b", "c", "d", "e"}
	for i := 0; i < 200; i++ {
		vote := models.Upvote
		if rng.Intn(2) == 0 {
			vote = models.Downvote
		}
		tally, err := f.votes.CastVote(ctx, r1, users[rng.Intn(len(users))], vote)
		require.NoError(t, err)
		assertInvariant(t, tally)

		stored, err := f.ledger.Get(ctx, r1)
		require.NoError(t, err)
		assertInvariant(t, stored.Tally())
	}
}

func TestConcurrentVotesConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.report(t)

	const n = 40
	// Each failed attempt means another voter committed, so n attempts
	// always suffice.
	votes := NewVoteAggregator(f.store, n, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := votes.CastVote(ctx, r1, fmt.Sprintf("voter-%d", i), models.Upvote)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	report, err := f.ledger.Get(ctx, r1)
	require.NoError(t, err)
	assert.Equal(t, n, report.VoteScore)
	assert.Len(t, report.Upvotes, n)
	assert.Empty(t, report.Downvotes)
	assertInvariant(t, report.Tally())
}

func TestConcurrentMixedVotesKeepInvariant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.report(t)
	votes := NewVoteAggregator(f.store, 100, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%5)
			vote := models.Upvote
			if i%3 == 0 {
				vote = models.Downvote
			}
			_, err := votes.CastVote(ctx, r1, user, vote)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	report, err := f.ledger.Get(ctx, r1)
	require.NoError(t, err)
	assertInvariant(t, report.Tally())
	assert.Equal(t, int64(30), report.Version)
}

// conflictingStore bumps the version behind every reader's back.
type conflictingStore struct {
	*storage.MemoryStore
	updates int
}

func (c *conflictingStore) UpdateVotes(ctx context.Context, id string, expected int64, tally models.VoteTally) (int64, error) {
	c.updates++
	return 0, fmt.Errorf("prices/%s: %w", id, storage.ErrVersionConflict)
}

func TestVoteConflictExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	r1 := f.report(t)
	cs := &conflictingStore{MemoryStore: f.store}
	votes := NewVoteAggregator(cs, 3, quietLogger())

	_, err := votes.CastVote(context.Background(), r1, "u2", models.Upvote)
	var cerr *models.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, cerr.Attempts)
	assert.Equal(t, 3, cs.updates)
	assert.True(t, errors.Is(err, storage.ErrVersionConflict))
}

func TestVoteNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.votes.CastVote(context.Background(), "missing", "u2", models.Upvote)
	var nf *models.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestVotePermissionFromStore(t *testing.T) {
	f := newFixture(t)
	r1 := f.report(t)
	f.store.SetWritePolicy(func(collection, id string) error {
		return errors.New("rule: prices are locked")
	})

	_, err := f.votes.CastVote(context.Background(), r1, "u2", models.Upvote)
	var perr *models.PermissionError
	require.ErrorAs(t, err, &perr)
	var verr *models.ValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestVoteValidation(t *testing.T) {
	f := newFixture(t)
	r1 := f.report(t)
	var verr *models.ValidationError

	_, err := f.votes.CastVote(context.Background(), r1, "", models.Upvote)
	assert.ErrorAs(t, err, &verr)
	_, err = f.votes.CastVote(context.Background(), r1, "u2", models.VoteType(9))
	assert.ErrorAs(t, err, &verr)
	_, err = f.votes.CastVote(context.Background(), "", "u2", models.Upvote)
	assert.ErrorAs(t, err, &verr)
}

func TestPolicyRejectsSelfVote(t *testing.T) {
	f := newFixture(t)
	r1 := f.report(t)

	_, err := f.policy.CastVote(context.Background(), r1, "u1", models.Upvote)
	var perr *models.PermissionError
	require.ErrorAs(t, err, &perr)

	report, err := f.ledger.Get(context.Background(), r1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Version, "rejected vote must not touch the report")

	tally, err := f.policy.CastVote(context.Background(), r1, "u2", models.Downvote)
	require.NoError(t, err)
	assert.Equal(t, -1, tally.Score)
}
