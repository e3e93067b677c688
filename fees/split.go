// Package fees computes how a contract fee is split between buyer, seller and
// the platform.
package fees

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"escrowflow/apperr"
)

// PayerPolicy names the party that absorbs commission and tax. The values are
// the strings persisted in contracts.fees_paid_by.
type PayerPolicy string

const (
	PayerBuyer       PayerPolicy = "buyer"
	PayerSeller      PayerPolicy = "seller"
	PayerHalf        PayerPolicy = "50"
	PayerHalfPayment PayerPolicy = "halfPayment"
)

var ErrUnknownPayerPolicy = apperr.New(apperr.KindValidation, "contract.invalid_fees_paid_by", fmt.Errorf("fees: unknown payer policy"))

// ParsePayerPolicy maps caller input onto the closed policy set. Matching is
// case-insensitive.
func ParsePayerPolicy(raw string) (PayerPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buyer":
		return PayerBuyer, nil
	case "seller":
		return PayerSeller, nil
	case "50":
		return PayerHalf, nil
	case "halfpayment":
		return PayerHalfPayment, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPayerPolicy, raw)
	}
}

func (p PayerPolicy) Valid() bool {
	switch p {
	case PayerBuyer, PayerSeller, PayerHalf, PayerHalfPayment:
		return true
	default:
		return false
	}
}

// Breakdown is the result of a split. EscrowAmount is the platform commission;
// TaxAmount is charged on the commission, not on the fee.
type Breakdown struct {
	FeeAmount     decimal.Decimal
	EscrowAmount  decimal.Decimal
	TaxAmount     decimal.Decimal
	BuyerPayable  decimal.Decimal
	SellerPayable decimal.Decimal
}

// PlatformTake is what the buyer pays minus what the seller receives. It equals
// EscrowAmount+TaxAmount for every recognized policy.
func (b Breakdown) PlatformTake() decimal.Decimal {
	return b.BuyerPayable.Sub(b.SellerPayable)
}

var hundred = decimal.NewFromInt(100)

// Split derives commission, tax and both payables. Rates are percentages. An
// unrecognized policy yields zero payables; callers parse policies with
// ParsePayerPolicy first so that branch is only reachable with corrupted data.
func Split(fee, commissionRate, taxRate decimal.Decimal, policy PayerPolicy) Breakdown {
	escrow := fee.Mul(commissionRate).Div(hundred)
	tax := escrow.Mul(taxRate).Div(hundred)

	out := Breakdown{
		FeeAmount:    fee,
		EscrowAmount: escrow,
		TaxAmount:    tax,
	}

	switch policy {
	case PayerBuyer:
		out.BuyerPayable = fee.Add(escrow).Add(tax)
		out.SellerPayable = fee
	case PayerSeller:
		out.BuyerPayable = fee
		out.SellerPayable = fee.Sub(escrow).Sub(tax)
	case PayerHalf, PayerHalfPayment:
		half := escrow.Add(tax).Div(decimal.NewFromInt(2))
		out.BuyerPayable = fee.Add(half)
		out.SellerPayable = fee.Sub(half)
	default:
		out.BuyerPayable = decimal.Zero
		out.SellerPayable = decimal.Zero
	}

	return out
}
