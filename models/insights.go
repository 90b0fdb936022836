package models

import "github.com/shopspring/decimal"

// ProductPrices summarises the reports for one product.
type ProductPrices struct {
	ProductID string
	Reports   int
	Average   decimal.Decimal
	Min       decimal.Decimal
	Max       decimal.Decimal
	Cheapest  *PriceReport
}

// PriceInsights holds the computed analytics over stored price reports.
type PriceInsights struct {
	TotalReports   int
	TotalVotes     int
	TrustedReports int
	ByProduct      map[string]*ProductPrices
	MostTrusted    []*PriceReport
	ReportsByStore map[string]int
}
