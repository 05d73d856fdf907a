package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceResult is a resolved USD price for one asset.
type PriceResult struct {
	Price     decimal.Decimal
	Provider  string
	FetchedAt time.Time
}
