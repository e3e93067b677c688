package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commission mirrors a commission_masters row.
type Commission struct {
	ID              int64               `json:"id"`
	TransactionType string              `json:"transactionType"`
	CommissionRate  decimal.Decimal     `json:"commissionRate"`
	TaxRate         decimal.Decimal     `json:"taxRate"`
	AppliedGlobally bool                `json:"appliedGlobally"`
	MinAmount       decimal.NullDecimal `json:"minAmount"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// UpsertParams creates a row when ID is zero and overwrites the row otherwise.
type UpsertParams struct {
	ID              int64
	TransactionType string
	CommissionRate  decimal.Decimal
	TaxRate         decimal.Decimal
	AppliedGlobally bool
	MinAmount       *decimal.Decimal
}

// Rate is the effective commission applied to a transaction.
type Rate struct {
	CommissionID    int64
	TransactionType string
	CommissionRate  decimal.Decimal
	TaxRate         decimal.Decimal
	Global          bool
}
