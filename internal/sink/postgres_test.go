package sink

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/pricepulse/shopcrawler/internal/catalog"
)

func TestPostgresSinkUpsertsRecords(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink, err := NewPostgresSinkWithPool(mock, "products")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	rec := catalog.ProductRecord{
		ArticleNo:          "0714790001",
		Title:              "Slim Fit Jeans",
		Description:        "5-pocket jeans in washed denim.",
		Division:           "Ladies",
		Category:           "Jeans",
		ListPrice:          29.99,
		SalePrice:          19.99,
		Currency:           "EUR",
		DiscountPercentage: 33,
		Color:              "Dark denim blue",
		Size:               "36",
		Market:             "de_de",
		URL:                "https://shop.example/de_de/productpage.0714790001.html",
		ScrapedAt:          now,
	}

	mock.ExpectExec("INSERT INTO products").
		WithArgs(
			rec.ArticleNo,
			rec.Title,
			rec.Description,
			rec.Division,
			rec.Category,
			rec.ListPrice,
			rec.SalePrice,
			rec.Currency,
			rec.DiscountPercentage,
			rec.Color,
			rec.Size,
			rec.Market,
			rec.URL,
			rec.ScrapedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = sink.Write(context.Background(), []catalog.ProductRecord{rec})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkRejectsInvalidTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresSinkWithPool(mock, "products; drop table products")
	require.Error(t, err)
}
