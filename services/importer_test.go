package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/models"
)

func TestImportSubmitsRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	im := NewImporter(f.submission, 1, 0, quietLogger())

	input := `user_id,product,brand,store,address,latitude,longitude,price
u1,Coca-Cola Can,Coca-Cola,Hanout Omar,12 Rue Atlas,33.57,-7.59,"3,50 MAD"
u2,Coca-Cola Can,,Hanout Omar,,,,3.75
u2,Coca-Cola Can,,Hanout Omar,,,,3.75
u3,Milk 1L,,Marjane,,,,free
u3,Bread,,Marjane,,91,0,1.20
`
	report, err := im.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 5, report.Rows)
	assert.Equal(t, 2, report.Submitted)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, 2, report.Failed)
	for _, e := range report.Errors {
		var verr *models.ValidationError
		assert.ErrorAs(t, e, &verr)
	}

	products, err := f.store.FindProductsByName(ctx, "Coca-Cola Can")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Coca-Cola", products[0].Brand)

	stores, err := f.store.FindStoresByName(ctx, "Hanout Omar")
	require.NoError(t, err)
	require.Len(t, stores, 1)
	require.NotNil(t, stores[0].Latitude)

	prices, err := f.store.ListPrices(ctx)
	require.NoError(t, err)
	assert.Len(t, prices, 2)
}

func TestImportRequiresColumns(t *testing.T) {
	f := newFixture(t)
	im := NewImporter(f.submission, 1, 0, quietLogger())

	_, err := im.Import(context.Background(), strings.NewReader("user_id,product,price\nu1,Milk,1\n"))
	assert.ErrorContains(t, err, `missing column "store"`)
}

func TestImportRejectsNegativePrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	im := NewImporter(f.submission, 1, 0, quietLogger())

	input := "user_id,product,store,price\nu1,Olive Oil,Marjane,-12.00\nu1,Olive Oil,Marjane,MAD -9\n"
	report, err := im.Import(ctx, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Submitted)
	assert.Equal(t, 2, report.Failed)

	stores, err := f.store.FindStoresByName(ctx, "Marjane")
	require.NoError(t, err)
	assert.Empty(t, stores)
}
