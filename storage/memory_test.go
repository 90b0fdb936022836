package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/models"
)

func seedPrice(t *testing.T, m *MemoryStore, id string) *models.PriceReport {
	t.Helper()
	p := &models.PriceReport{
		ID:        id,
		UserID:    "u1",
		ProductID: "p1",
		StoreID:   "s1",
		Price:     decimal.RequireFromString("3.50"),
		CreatedAt: time.Now(),
	}
	require.NoError(t, m.InsertPrice(context.Background(), p))
	return p
}

func TestMemoryFindOrdersByCreation(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.InsertProduct(ctx, &models.Product{ID: "b", Name: "Milk", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, m.InsertProduct(ctx, &models.Product{ID: "a", Name: "Milk", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, m.InsertProduct(ctx, &models.Product{ID: "c", Name: "Milk", CreatedAt: base}))
	require.NoError(t, m.InsertProduct(ctx, &models.Product{ID: "d", Name: "milk", CreatedAt: base}))

	found, err := m.FindProductsByName(ctx, "Milk")
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{found[0].ID, found[1].ID, found[2].ID})
}

func TestMemoryUpdateVotesVersioning(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedPrice(t, m, "r1")

	v, err := m.UpdateVotes(ctx, "r1", 0, models.VoteTally{Upvotes: []string{"u2"}, Score: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = m.UpdateVotes(ctx, "r1", 0, models.VoteTally{Score: 0})
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = m.UpdateVotes(ctx, "missing", 0, models.VoteTally{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.UpdateVotes(ctx, "r1", 1, models.VoteTally{Upvotes: []string{"u2"}, Score: 0})
	assert.Error(t, err, "inconsistent score must be rejected")

	got, err := m.GetPrice(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, got.Upvotes)
	assert.Equal(t, 1, got.VoteScore)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemoryStore()
	seedPrice(t, m, "r1")

	got, err := m.GetPrice(context.Background(), "r1")
	require.NoError(t, err)
	got.Upvotes = append(got.Upvotes, "intruder")
	got.VoteScore = 99

	again, err := m.GetPrice(context.Background(), "r1")
	require.NoError(t, err)
	assert.Empty(t, again.Upvotes)
	assert.Equal(t, 0, again.VoteScore)
}

func TestMemoryWritePolicy(t *testing.T) {
	m := NewMemoryStore()
	seedPrice(t, m, "r1")
	rule := errors.New("prices are read-only")
	m.SetWritePolicy(func(collection, id string) error {
		if collection == "prices" {
			return rule
		}
		return nil
	})

	_, err := m.UpdateVotes(context.Background(), "r1", 0, models.VoteTally{Upvotes: []string{"u2"}, Score: 1})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, rule)
}

func TestMemoryCommentsOrdered(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedPrice(t, m, "r1")
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, m.InsertComment(ctx, &models.Comment{ID: "c2", PriceReportID: "r1", Text: "second", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, m.InsertComment(ctx, &models.Comment{ID: "c1", PriceReportID: "r1", Text: "first", CreatedAt: base}))
	require.NoError(t, m.InsertComment(ctx, &models.Comment{ID: "c3", PriceReportID: "r1", Text: "third", CreatedAt: base.Add(2 * time.Minute)}))

	all, err := m.ListComments(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c1", all[0].ID)
	assert.Equal(t, "c2", all[1].ID)
	assert.Equal(t, "c3", all[2].ID)

	err = m.InsertComment(ctx, &models.Comment{ID: "x", PriceReportID: "nope", CreatedAt: base})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPublishesOnCommit(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seedPrice(t, m, "r1")

	sub, err := m.Subscribe("r1")
	require.NoError(t, err)
	defer sub.Close()

	_, err = m.UpdateVotes(ctx, "r1", 0, models.VoteTally{Upvotes: []string{"u2"}, Score: 1})
	require.NoError(t, err)
	select {
	case <-sub.ReportChanged():
	case <-time.After(time.Second):
		t.Fatal("no report signal after vote update")
	}

	require.NoError(t, m.InsertComment(ctx, &models.Comment{ID: "c1", PriceReportID: "r1", CreatedAt: time.Now()}))
	select {
	case <-sub.CommentAdded():
	case <-time.After(time.Second):
		t.Fatal("no comment signal after insert")
	}
}

func TestMemoryClosedIsUnavailable(t *testing.T) {
	m := NewMemoryStore()
	require.NoError(t, m.Close())

	_, err := m.FindStoresByName(context.Background(), "Hanout Omar")
	assert.ErrorIs(t, err, ErrUnavailable)
	err = m.InsertStore(context.Background(), &models.Store{ID: "s", Name: "Hanout Omar"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
