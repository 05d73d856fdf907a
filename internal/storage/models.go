package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is one persisted native-currency price observation.
type PriceSample struct {
	Bucket    time.Time
	ChainID   uint64
	Symbol    string
	PriceUSD  decimal.Decimal
	Provider  string
	Status    string
	Error     *string
	CreatedAt time.Time
}

// FeeAudit records one client-fee validation outcome.
type FeeAudit struct {
	ID               int64
	UserAddress      string
	ChainID          uint64
	Amount           decimal.Decimal
	ClientFee        decimal.Decimal
	AuthoritativeFee decimal.Decimal
	Valid            bool
	CreatedAt        time.Time
}
