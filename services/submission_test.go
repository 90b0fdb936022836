package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/models"
)

type fakeClassifier struct {
	guess Guess
	err   error
	calls int
}

func (c *fakeClassifier) Classify(ctx context.Context, image []byte) (Guess, error) {
	c.calls++
	return c.guess, c.err
}

func TestSubmitResolvesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.submission.Submit(ctx, Submission{UserID: "u1", ProductName: "Coca-Cola Can", StoreName: "Hanout Omar", Price: price("3.50")})
	require.NoError(t, err)
	second, err := f.submission.Submit(ctx, Submission{UserID: "u2", ProductName: "Coca-Cola Can", StoreName: "Hanout Omar", Price: price("3.75")})
	require.NoError(t, err)

	assert.Equal(t, first.ProductID, second.ProductID)
	assert.Equal(t, first.StoreID, second.StoreID)
	assert.NotEqual(t, first.ReportID, second.ReportID)

	all, err := f.store.ListPrices(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSubmitValidatesBeforeResolving(t *testing.T) {
	tests := []struct {
		name string
		sub  Submission
	}{
		{"missing price", Submission{UserID: "u1", ProductName: "Milk", StoreName: "Hanout Omar"}},
		{"negative price", Submission{UserID: "u1", ProductName: "Milk", StoreName: "Hanout Omar", Price: price("-3.50")}},
		{"price rounds to zero", Submission{UserID: "u1", ProductName: "Milk", StoreName: "Hanout Omar", Price: price("0.001")}},
		{"blank product", Submission{UserID: "u1", ProductName: " ", StoreName: "Hanout Omar", Price: price("1")}},
		{"blank store", Submission{UserID: "u1", ProductName: "Milk", StoreName: "  ", Price: price("1")}},
		{"bad geo", Submission{UserID: "u1", ProductName: "Milk", StoreName: "Hanout Omar", Price: price("1"), Geo: &models.Geo{Latitude: 91}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			_, err := f.submission.Submit(ctx, tt.sub)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)

			stores, err := f.store.FindStoresByName(ctx, "Hanout Omar")
			require.NoError(t, err)
			assert.Empty(t, stores, "no store should be created for a rejected submission")
			products, err := f.store.FindProductsByName(ctx, "Milk")
			require.NoError(t, err)
			assert.Empty(t, products, "no product should be created for a rejected submission")
			prices, err := f.store.ListPrices(ctx)
			require.NoError(t, err)
			assert.Empty(t, prices)
		})
	}
}

func TestSubmitRoundsPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.submission.Submit(ctx, Submission{UserID: "u1", ProductName: "Milk", StoreName: "Hanout Omar", Price: price("0.125")})
	require.NoError(t, err)
	report, err := f.ledger.Get(ctx, res.ReportID)
	require.NoError(t, err)
	assert.Equal(t, "0.13", report.Price.StringFixed(2))
}

func TestSubmitUsesClassifierForBlanks(t *testing.T) {
	f := newFixture(t)
	cls := &fakeClassifier{guess: Guess{Name: "Coca-Cola Can", Brand: "Coca-Cola", Category: "Soda"}}
	svc := NewSubmissionService(f.resolver, f.ledger, cls, quietLogger())
	ctx := context.Background()

	res, err := svc.Submit(ctx, Submission{UserID: "u1", StoreName: "Hanout Omar", Brand: "Coke", Image: []byte{0xff, 0xd8}, Price: price("3.50")})
	require.NoError(t, err)
	assert.Equal(t, 1, cls.calls)

	products, err := f.store.FindProductsByName(ctx, "Coca-Cola Can")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, res.ProductID, products[0].ID)
	assert.Equal(t, "Coke", products[0].Brand, "typed fields win over the guess")
	assert.Equal(t, "Soda", products[0].Category)
}

func TestSubmitClassifierFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("model offline")
	svc := NewSubmissionService(f.resolver, f.ledger, &fakeClassifier{err: boom}, quietLogger())

	_, err := svc.Submit(context.Background(), Submission{UserID: "u1", StoreName: "Hanout Omar", Image: []byte{1}, Price: price("1")})
	assert.ErrorIs(t, err, boom)
}
